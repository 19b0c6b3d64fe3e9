// Package registry is the process-wide executor lookup table (spec §4.1:
// "a process-wide registry maps (kind, executor_name) -> Executor").
// Grounded on the teacher's generic pkg/registry.BaseRegistry[T], reused
// verbatim for the single-key case and composed here into a composite
// (kind, name) key.
package registry

import (
	"fmt"

	"github.com/agentruntime/masrt/internal/errs"
	"github.com/agentruntime/masrt/internal/executor"
	"github.com/agentruntime/masrt/internal/step"
	hectorregistry "github.com/agentruntime/masrt/pkg/registry"
)

// GenericToolHandler is the fixed executor_name every tool step resolves
// to, regardless of which external tool server actually backs it (spec
// §4.1: "all tool steps resolve to a single generic tool-handling
// executor registered under a well-known name").
const GenericToolHandler = "<generic tool handler>"

type key struct {
	kind step.Kind
	name string
}

// Registry is the immutable-after-boot (kind, executor_name) -> Executor
// table. It wraps the teacher's BaseRegistry[executor.Executor], keyed by
// a string encoding of (kind, name), so all the original concurrency and
// duplicate-registration behavior is reused unchanged.
type Registry struct {
	base *hectorregistry.BaseRegistry[executor.Executor]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{base: hectorregistry.NewBaseRegistry[executor.Executor]()}
}

func encode(k key) string {
	return string(k.kind) + ":" + k.name
}

// RegisterSkill registers a skill executor under the given name.
func (r *Registry) RegisterSkill(name string, ex executor.Executor) error {
	if err := r.base.Register(encode(key{step.KindSkill, name}), ex); err != nil {
		return newError("register_skill", errs.KindConfig, fmt.Sprintf("register skill %q", name), err)
	}
	return nil
}

// RegisterTool registers the single generic tool-handling executor. Spec
// §4.1 allows exactly one registration under GenericToolHandler; any
// other name is a caller error since no step will ever resolve to it.
func (r *Registry) RegisterTool(ex executor.Executor) error {
	if err := r.base.Register(encode(key{step.KindTool, GenericToolHandler}), ex); err != nil {
		return newError("register_tool", errs.KindConfig, "register generic tool handler", err)
	}
	return nil
}

// Resolve looks up the executor for a step of the given kind and
// executor_name. Tool steps always resolve via GenericToolHandler
// (spec §4.1), regardless of executorName.
func (r *Registry) Resolve(kind step.Kind, executorName string) (executor.Executor, error) {
	name := executorName
	if kind == step.KindTool {
		name = GenericToolHandler
	}
	ex, ok := r.base.Get(encode(key{kind, name}))
	if !ok {
		return nil, newError("resolve", errs.KindConfig, fmt.Sprintf("no %s executor registered for %q", kind, name), nil)
	}
	return ex, nil
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	return r.base.Count()
}
