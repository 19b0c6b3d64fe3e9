package message

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ActionKey names the single recognized key of an instruction payload
// (spec §4.4, §4.6: "single-key dictionary whose key names the control
// action").
type ActionKey string

const (
	ActionStartStage          ActionKey = "start_stage"
	ActionFinishStage         ActionKey = "finish_stage"
	ActionFinishTask          ActionKey = "finish_task"
	ActionUpdateWorkingMemory ActionKey = "update_working_memory"
	ActionAddToolDecision     ActionKey = "add_tool_decision"
)

// Instruction is a decoded <instruction>...</instruction> payload. Exactly
// one of the typed fields is non-nil, named by Key.
type Instruction struct {
	Key ActionKey

	StartStage          *StartStage
	FinishStage          *FinishStage
	FinishTask           *FinishTask
	UpdateWorkingMemory  *UpdateWorkingMemory
	AddToolDecision      *AddToolDecision
}

// StartStage requests the synchronizer start a stage (spec §4.4, §4.6).
type StartStage struct {
	StageID string `json:"stage_id" mapstructure:"stage_id"`
}

// FinishStage purges a stage's steps and working memory from the
// receiving agent (spec §4.4).
type FinishStage struct {
	StageID string `json:"stage_id" mapstructure:"stage_id"`
}

// FinishTask purges a task's steps, working memory, and scoped
// conversation entries from the receiving agent (spec §4.4).
type FinishTask struct {
	TaskID string `json:"task_id" mapstructure:"task_id"`
}

// UpdateWorkingMemory initializes a nested working-memory entry (spec §4.4).
// StageID is empty for a task-level (stage==nil) entry.
type UpdateWorkingMemory struct {
	TaskID  string `json:"task_id" mapstructure:"task_id"`
	StageID string `json:"stage_id,omitempty" mapstructure:"stage_id"`
}

// AddToolDecision inserts a tool-decision skill step for the named tool
// (spec §4.4).
type AddToolDecision struct {
	TaskID   string `json:"task_id" mapstructure:"task_id"`
	StageID  string `json:"stage_id" mapstructure:"stage_id"`
	ToolName string `json:"tool_name" mapstructure:"tool_name"`
}

// decodeInstruction parses a single-key JSON object into an Instruction,
// using mapstructure the way the teacher decodes loosely-typed config
// sections (pkg/component ComponentManager) into concrete structs.
func decodeInstruction(payload string) (*Instruction, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("instruction payload is not valid JSON: %w", err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("instruction payload must have exactly one key, got %d", len(raw))
	}

	var key string
	var value any
	for k, v := range raw {
		key, value = k, v
	}

	instr := &Instruction{Key: ActionKey(key)}
	switch ActionKey(key) {
	case ActionStartStage:
		instr.StartStage = &StartStage{}
		return instr, decode(value, instr.StartStage)
	case ActionFinishStage:
		instr.FinishStage = &FinishStage{}
		return instr, decode(value, instr.FinishStage)
	case ActionFinishTask:
		instr.FinishTask = &FinishTask{}
		return instr, decode(value, instr.FinishTask)
	case ActionUpdateWorkingMemory:
		instr.UpdateWorkingMemory = &UpdateWorkingMemory{}
		return instr, decode(value, instr.UpdateWorkingMemory)
	case ActionAddToolDecision:
		instr.AddToolDecision = &AddToolDecision{}
		return instr, decode(value, instr.AddToolDecision)
	default:
		// Unknown keys are ignored per spec §4.4, but we still need to
		// surface that nothing was decoded so process_message can no-op.
		return &Instruction{Key: ActionKey(key)}, nil
	}
}

func decode(src any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(src)
}

func encodeInstruction(instr *Instruction) (string, error) {
	var payload map[string]any
	switch instr.Key {
	case ActionStartStage:
		payload = map[string]any{string(ActionStartStage): instr.StartStage}
	case ActionFinishStage:
		payload = map[string]any{string(ActionFinishStage): instr.FinishStage}
	case ActionFinishTask:
		payload = map[string]any{string(ActionFinishTask): instr.FinishTask}
	case ActionUpdateWorkingMemory:
		payload = map[string]any{string(ActionUpdateWorkingMemory): instr.UpdateWorkingMemory}
	case ActionAddToolDecision:
		payload = map[string]any{string(ActionAddToolDecision): instr.AddToolDecision}
	default:
		return "", fmt.Errorf("unknown instruction action %q", instr.Key)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
