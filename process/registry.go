package process

import (
	"github.com/ahamdihussein-star/processforge/pkg/registry"
)

// ExecutorRegistry maps NodeType to the Constructor that builds its
// Executor. A single registry is shared across executions; Constructor
// values are invoked on every visit to a node, so the registry itself holds
// no execution state.
type ExecutorRegistry struct {
	base *registry.BaseRegistry[Constructor]
}

// NewExecutorRegistry creates an empty ExecutorRegistry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{base: registry.NewBaseRegistry[Constructor]()}
}

// Register associates a NodeType with the Constructor that builds its Executor.
func (r *ExecutorRegistry) Register(nodeType NodeType, ctor Constructor) error {
	return r.base.Register(string(nodeType), ctor)
}

// Build constructs a fresh Executor for nodeType, returning NO_EXECUTOR when
// nothing is registered for it.
func (r *ExecutorRegistry) Build(nodeType NodeType) (Executor, *Error) {
	ctor, ok := r.base.Get(string(nodeType))
	if !ok {
		return nil, NoExecutorError(string(nodeType))
	}
	return ctor(), nil
}

// Count returns the number of registered node types.
func (r *ExecutorRegistry) Count() int {
	return r.base.Count()
}
