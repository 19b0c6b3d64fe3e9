// Package message implements the universal Message envelope (spec §3
// "Message") and the embedded-instruction protocol (spec §4.4, §6) that
// carries JSON control payloads inside a message's free text, delimited
// by <instruction>...</instruction>.
package message

import (
	"fmt"
	"regexp"
	"strings"
)

// Role mirrors the teacher's own A2A message role (pkg/a2a.MessageRole):
// agents address each other as either the sender or the addressed peer.
type Role string

const (
	RoleAgent    Role = "agent"
	RoleOperator Role = "operator"
)

// NoRelative is the sentinel stage_relative value for task-scoped messages.
const NoRelative = "no_relative"

// Message is the universal envelope every component routes through the
// dispatcher (spec §3, §4.7).
type Message struct {
	TaskID   string
	SenderID string
	Receiver []string
	Text     string // free text, may embed <instruction>...</instruction>

	StageRelative string // stage ID, or NoRelative
	NeedReply     bool

	// Waiting is parallel to Receiver: Waiting[i] is the waiting ID the
	// sender is blocked on for Receiver[i]'s reply, or "" if none.
	Waiting []string

	// ReturnWaitingID closes a previously issued waiting ID (singular, per
	// spec §3). ReturnWaitingIDs is an optional list parallel to Receiver
	// for the multi-recipient case (see SPEC_FULL.md §10 open-question
	// decision). Nothing in the runtime fills it from the singular field;
	// ReturnWaitingIDFor prefers a receiver's list entry when one is set.
	ReturnWaitingID  string
	ReturnWaitingIDs []string

	// Instruction is the parsed <instruction> payload, attached once on
	// receipt rather than re-parsed by every handler (spec §9 design
	// note).
	Instruction *Instruction
}

// ReturnWaitingIDFor returns the waiting ID this message closes for a
// given receiver, honoring both the singular and list forms.
func (m *Message) ReturnWaitingIDFor(receiverID string) string {
	if len(m.ReturnWaitingIDs) > 0 {
		for i, r := range m.Receiver {
			if r == receiverID && i < len(m.ReturnWaitingIDs) {
				if m.ReturnWaitingIDs[i] != "" {
					return m.ReturnWaitingIDs[i]
				}
			}
		}
	}
	return m.ReturnWaitingID
}

// WaitingIDFor returns the waiting ID the sender minted for a given
// receiver, or "" if none.
func (m *Message) WaitingIDFor(receiverID string) string {
	for i, r := range m.Receiver {
		if r == receiverID && i < len(m.Waiting) {
			return m.Waiting[i]
		}
	}
	return ""
}

// IndexOfReceiver returns the index of agentID within Receiver, or -1.
func (m *Message) IndexOfReceiver(agentID string) int {
	for i, r := range m.Receiver {
		if r == agentID {
			return i
		}
	}
	return -1
}

var instructionPattern = regexp.MustCompile(`(?s)<instruction>(.*?)</instruction>`)

// ParseInstruction finds the *last* <instruction>...</instruction> block
// (spec §4.4: "last <instruction>...</instruction> block") and parses it
// into an Instruction. It also returns the message text with every
// instruction block stripped, so the remaining free text can be handed to
// process_message. Returns (nil, text, nil) if no instruction block is
// present.
func ParseInstruction(text string) (*Instruction, string, error) {
	matches := instructionPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, strings.TrimSpace(text), nil
	}

	last := matches[len(matches)-1]
	payload := text[last[2]:last[3]]

	instr, err := decodeInstruction(payload)
	if err != nil {
		return nil, "", fmt.Errorf("process_message: %w", ErrMalformedInstruction)
	}

	remaining := instructionPattern.ReplaceAllString(text, "")
	return instr, strings.TrimSpace(remaining), nil
}

// ErrMalformedInstruction is a ProtocolError per spec §7: a malformed
// instruction payload causes the message to be dropped and logged, not
// propagated as a step failure.
var ErrMalformedInstruction = fmt.Errorf("malformed instruction payload")

// EmbedInstruction renders text with an <instruction>...</instruction>
// block appended, the wire format a sender uses to carry a control action.
func EmbedInstruction(text string, instr *Instruction) (string, error) {
	payload, err := encodeInstruction(instr)
	if err != nil {
		return "", err
	}
	if text == "" {
		return fmt.Sprintf("<instruction>%s</instruction>", payload), nil
	}
	return fmt.Sprintf("%s\n<instruction>%s</instruction>", text, payload), nil
}

// EmbedReturnWaitingID appends the <return_waiting_id>...</return_waiting_id>
// tag a reply step's text_content carries to close a waiting ID (spec
// §4.2 step 1).
func EmbedReturnWaitingID(text, waitingID string) string {
	tag := fmt.Sprintf("<return_waiting_id>%s</return_waiting_id>", waitingID)
	if text == "" {
		return tag
	}
	return text + "\n" + tag
}

var returnWaitingIDPattern = regexp.MustCompile(`<return_waiting_id>(.*?)</return_waiting_id>`)

// ExtractReturnWaitingID reads a <return_waiting_id> tag out of step text,
// if present.
func ExtractReturnWaitingID(text string) (string, bool) {
	m := returnWaitingIDPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var toolNamePattern = regexp.MustCompile(`<tool_name>(.*?)</tool_name>`)

// EmbedToolName wraps a tool name the way add_tool_decision seeds a
// tool-decision step's text_content (spec §4.4).
func EmbedToolName(toolName string) string {
	return fmt.Sprintf("<tool_name>%s</tool_name>", toolName)
}

// ExtractToolName reads a <tool_name> tag out of step text.
func ExtractToolName(text string) (string, bool) {
	m := toolNamePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
