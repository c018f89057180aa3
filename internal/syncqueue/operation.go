package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Operation is an executable unit of deferred work. The queue never inspects
// what an operation does; it only observes success or failure.
type Operation interface {
	Execute(ctx context.Context) error
}

// OperationFunc adapts a plain function to the Operation interface.
type OperationFunc func(ctx context.Context) error

// Execute implements Operation.
func (f OperationFunc) Execute(ctx context.Context) error { return f(ctx) }

// Factory builds an executable operation from a persisted payload.
type Factory func(payload json.RawMessage) (Operation, error)

// Registry maps operation kinds to factories so queue items reloaded from a
// snapshot can be re-hydrated into executable operations.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory for kind. Registering the same kind twice is a
// programming error and is rejected.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("operation kind must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("operation factory for %q must not be nil", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("operation kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Resolve builds the executable operation for kind from payload.
func (r *Registry) Resolve(kind string, payload json.RawMessage) (Operation, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, kind)
	}
	op, err := factory(payload)
	if err != nil {
		return nil, fmt.Errorf("build operation %q: %w", kind, err)
	}
	return op, nil
}

// Kinds returns the sorted list of registered operation kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
