package registry

import (
	"fmt"
	"time"

	"github.com/agentruntime/masrt/internal/errs"
)

// RegistryError is the registry's typed error, grounded on the teacher's
// team.TeamError shape (Component/Operation/Message/wrapped Err), plus a
// Kind tagging which of spec §7's taxonomy categories it falls under.
// Both a duplicate registration and an unresolved (kind, executor_name)
// lookup are ConfigErrors (spec §7: "fatal at startup: unknown executor,
// missing role config").
type RegistryError struct {
	Component string
	Operation string
	Message   string
	Kind      errs.Kind
	Err       error
	Timestamp time.Time
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *RegistryError) Unwrap() error { return e.Err }

func newError(operation string, kind errs.Kind, message string, err error) *RegistryError {
	return &RegistryError{
		Component: "registry",
		Operation: operation,
		Message:   message,
		Kind:      kind,
		Err:       err,
		Timestamp: time.Now(),
	}
}
