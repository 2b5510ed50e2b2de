package ports

import "context"

// ActionExecutor performs the terminal side effect of a workflow.
// It is called at most once per frame.
type ActionExecutor interface {
	// Execute runs actionID with the collected data and returns its result.
	// Returns domain.ErrActionNotFound for unknown actions.
	Execute(ctx context.Context, actionID string, data map[string]any) (map[string]any, error)
}
