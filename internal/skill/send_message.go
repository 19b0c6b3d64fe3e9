package skill

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentruntime/masrt/internal/agentstate"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/idgen"
	"github.com/agentruntime/masrt/internal/message"
	"github.com/agentruntime/masrt/internal/step"
)

// SendMessage either emits a send_message descriptor directly, or, if
// the agent judges information is missing, appends-next a decision step
// followed by a copy of itself, turning send-message into a retriable
// long-tail skill (spec §4.8). If waiting=true it mints a fresh waiting
// ID per receiver, stores them in the agent's step lock, and places them
// in the descriptor's waiting field.
type SendMessage struct{}

// NewSendMessage constructs the send-message skill.
func NewSendMessage() *SendMessage { return &SendMessage{} }

// sendMessagePayload is the <send_message> JSON shape (grounded on
// mas/skills/send_message.py's extract_send_message). need_reply and
// waiting are independent spec §3 Message fields: need_reply governs the
// receiver's intake behavior (reply step vs. process_message), waiting
// governs whether the sender blocks on a step_lock.
type sendMessagePayload struct {
	Receiver      []string `json:"receiver"`
	Text          string   `json:"text"`
	NeedReply     bool     `json:"need_reply"`
	Waiting       bool     `json:"waiting"`
	StageRelative string   `json:"stage_relative,omitempty"`
}

// getMoreInfoPayload is the <get_more_info> JSON shape (grounded on
// mas/skills/send_message.py's extract_get_more_info and
// construct_decision_step_and_send_message_step).
type getMoreInfoPayload struct {
	StepIntention string `json:"step_intention"`
	TextContent   string `json:"text_content"`
}

// Execute implements executor.Executor.
func (s *SendMessage) Execute(ctx context.Context, stepID string, agent *agentstate.State) (*executor.SideEffect, error) {
	st, ok := agent.AgentStep.Get(stepID)
	if !ok {
		return nil, fmt.Errorf("send_message: step %s not found", stepID)
	}

	prompt := promptHeader(agent) +
		stepSection("Send Message", st,
			"Either send the message now, replying with a JSON object between <send_message> and </send_message> shaped "+
				"{\"receiver\":[\"...\"],\"text\":\"...\",\"need_reply\":false,\"waiting\":false}, where need_reply asks the "+
				"receiver to reply and waiting additionally blocks you until they do, "+
				"or, if you need more information first, reply with a JSON object between <get_more_info> and </get_more_info> "+
				"shaped {\"step_intention\":\"...\",\"text_content\":\"...\"}.")

	response, err := call(ctx, agent, prompt)
	if err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("send_message: llm call: %w", err)
	}

	if payload, ok := extractTagged("get_more_info", response); ok {
		var info getMoreInfoPayload
		if err := json.Unmarshal([]byte(payload), &info); err != nil {
			_ = st.SetStatus(step.StatusFailed)
			return nil, fmt.Errorf("send_message: malformed <get_more_info> payload: %w", err)
		}

		// Insert the send-message retry first, then the decision step in
		// front of it: insert-next pushes onto the head, so decision runs
		// first and the retry copy of this step runs right after (spec
		// §4.8: "appends-next a decision step followed by a copy of itself").
		agent.AddNextStep(st.TaskID, st.StageID, st.Intention, step.KindSkill, "send_message", st.TextContent, nil)
		agent.AddNextStep(st.TaskID, st.StageID, info.StepIntention, step.KindSkill, "decision", info.TextContent, nil)

		if err := st.SetStatus(step.StatusFinished); err != nil {
			return nil, err
		}
		return nil, nil
	}

	payload, ok := extractTagged("send_message", response)
	if !ok {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("send_message: response has neither <send_message> nor <get_more_info>")
	}

	var msgPayload sendMessagePayload
	if err := json.Unmarshal([]byte(payload), &msgPayload); err != nil {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("send_message: malformed <send_message> payload: %w", err)
	}
	if len(msgPayload.Receiver) == 0 {
		_ = st.SetStatus(step.StatusFailed)
		return nil, fmt.Errorf("send_message: <send_message> payload has no receivers")
	}

	stageRelative := msgPayload.StageRelative
	if stageRelative == "" {
		stageRelative = message.NoRelative
	}

	msg := &message.Message{
		TaskID:        st.TaskID,
		SenderID:      agent.AgentID,
		Receiver:      msgPayload.Receiver,
		Text:          msgPayload.Text,
		StageRelative: stageRelative,
		NeedReply:     msgPayload.NeedReply,
	}

	if msgPayload.Waiting {
		msg.Waiting = make([]string, len(msgPayload.Receiver))
		for i := range msgPayload.Receiver {
			waitingID := idgen.New()
			agent.AddWaiting(waitingID)
			msg.Waiting[i] = waitingID
		}
	}

	if err := st.SetStatus(step.StatusFinished); err != nil {
		return nil, err
	}
	return &executor.SideEffect{SendMessage: msg}, nil
}

var _ executor.Executor = (*SendMessage)(nil)
