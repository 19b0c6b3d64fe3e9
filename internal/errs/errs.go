// Package errs holds the shared error-kind taxonomy (spec §7) that every
// per-component error type in the runtime tags itself with, so callers can
// branch on taxonomy (e.g. "was this a PermissionError?") without string
// matching the component-specific error types each carry it.
package errs

// Kind names one of spec §7's error taxonomy categories.
type Kind string

const (
	// KindConfig is fatal at startup: unknown executor, missing role config.
	KindConfig Kind = "ConfigError"
	// KindParse is step-level failed: LLM output missing its required
	// tagged block, or invalid JSON inside it.
	KindParse Kind = "ParseError"
	// KindPermission is step-level failed after one retry: a planned step
	// targets an executor outside the agent's whitelist.
	KindPermission Kind = "PermissionError"
	// KindTransport is step-level failed: LLM or tool RPC failed.
	KindTransport Kind = "TransportError"
	// KindProtocol is message dropped, logged: malformed Message envelope,
	// unknown instruction key.
	KindProtocol Kind = "ProtocolError"
	// KindStageLogic is a stage transition violation (e.g. start_stage on
	// an unknown stage); the synchronizer logs and refuses the transition.
	KindStageLogic Kind = "StageLogicError"
)
