package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// ActionFunc defines the signature for an action implementation.
// It receives the collected data of a completed frame and returns the action result.
type ActionFunc func(ctx context.Context, data map[string]any) (map[string]any, error)

// Actions manages the available terminal actions.
// It implements ports.ActionExecutor.
type Actions struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

// NewActions creates a new empty action registry.
func NewActions() *Actions {
	return &Actions{
		actions: make(map[string]ActionFunc),
	}
}

// Register adds an action to the registry.
// If an action with the same name exists, it is overwritten.
func (r *Actions) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

// Has reports whether name is registered.
func (r *Actions) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Names returns the registered action names, sorted.
func (r *Actions) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute looks up an action by name and executes it.
// Returns an error wrapping domain.ErrActionNotFound if the action is not registered.
func (r *Actions) Execute(ctx context.Context, name string, data map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.actions[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrActionNotFound, name)
	}

	return fn(ctx, data)
}
