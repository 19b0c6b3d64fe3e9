package tool

import (
	"fmt"
	"time"

	"github.com/agentruntime/masrt/internal/errs"
)

// ExecutorError is the generic tool executor's typed error, grounded on
// the teacher's team.TeamError shape (Component/Operation/Message/wrapped
// Err), plus a Kind tagging which of spec §7's taxonomy categories it
// falls under.
type ExecutorError struct {
	Component string
	Operation string
	Message   string
	Kind      errs.Kind
	Err       error
	Timestamp time.Time
}

func (e *ExecutorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

func newError(operation string, kind errs.Kind, message string, err error) *ExecutorError {
	return &ExecutorError{
		Component: "tool_executor",
		Operation: operation,
		Message:   message,
		Kind:      kind,
		Err:       err,
		Timestamp: time.Now(),
	}
}
