package dispatcher

import (
	"fmt"
	"time"

	"github.com/agentruntime/masrt/internal/errs"
)

// DispatchError is the dispatcher's typed error, grounded on the
// teacher's team.TeamError shape (Component/Operation/Message/wrapped
// Err), plus a Kind tagging which of spec §7's taxonomy categories it
// falls under.
type DispatchError struct {
	Component string
	Operation string
	Message   string
	Kind      errs.Kind
	Err       error
	Timestamp time.Time
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func newError(operation string, kind errs.Kind, message string, err error) *DispatchError {
	return &DispatchError{
		Component: "dispatcher",
		Operation: operation,
		Message:   message,
		Kind:      kind,
		Err:       err,
		Timestamp: time.Now(),
	}
}
