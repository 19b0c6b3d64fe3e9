package message

import "github.com/invopop/jsonschema"

// ActionSchemas generates the JSON Schema for every recognized instruction
// action struct, so an instruction-generation skill can hand a schema to
// an LLMClient that supports structured output (SPEC_FULL.md §8.2).
func ActionSchemas() map[ActionKey]*jsonschema.Schema {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	return map[ActionKey]*jsonschema.Schema{
		ActionStartStage:          reflector.Reflect(&StartStage{}),
		ActionFinishStage:         reflector.Reflect(&FinishStage{}),
		ActionFinishTask:          reflector.Reflect(&FinishTask{}),
		ActionUpdateWorkingMemory: reflector.Reflect(&UpdateWorkingMemory{}),
		ActionAddToolDecision:     reflector.Reflect(&AddToolDecision{}),
	}
}
