package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/espalier/pkg/ports"
)

// ErrActionDenied is returned when an interceptor blocks a final action.
var ErrActionDenied = errors.New("action denied by policy")

// ActionInterceptor is a middleware that can allow or block a final action.
// It returns true if execution should proceed.
type ActionInterceptor func(ctx context.Context, action string, data map[string]any) (bool, error)

// MultiInterceptor chains multiple interceptors. The first denial wins.
func MultiInterceptor(interceptors ...ActionInterceptor) ActionInterceptor {
	return func(ctx context.Context, action string, data map[string]any) (bool, error) {
		for _, interceptor := range interceptors {
			allowed, err := interceptor(ctx, action, data)
			if err != nil {
				return false, err
			}
			if !allowed {
				return false, nil
			}
		}
		return true, nil
	}
}

// ConfirmationMiddleware asks the user through handler before an action runs.
// Only "y" and "yes" allow it.
func ConfirmationMiddleware(handler IOHandler) ActionInterceptor {
	return func(ctx context.Context, action string, data map[string]any) (bool, error) {
		if err := handler.SystemOutput(ctx, fmt.Sprintf("Run %s with %s? [y/N]", action, describeData(data))); err != nil {
			return false, err
		}
		input, err := handler.Input(ctx)
		if err != nil {
			return false, err
		}
		input = strings.TrimSpace(strings.ToLower(input))
		return input == "y" || input == "yes", nil
	}
}

// AutoApproveMiddleware allows everything.
func AutoApproveMiddleware() ActionInterceptor {
	return func(ctx context.Context, action string, data map[string]any) (bool, error) {
		return true, nil
	}
}

// Guard wraps an executor so every action passes through interceptor first.
func Guard(next ports.ActionExecutor, interceptor ActionInterceptor) ports.ActionExecutor {
	return &guarded{next: next, interceptor: interceptor}
}

type guarded struct {
	next        ports.ActionExecutor
	interceptor ActionInterceptor
}

func (g *guarded) Execute(ctx context.Context, action string, data map[string]any) (map[string]any, error) {
	allowed, err := g.interceptor(ctx, action, data)
	if err != nil {
		return nil, fmt.Errorf("failed to check action policy: %w", err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s", ErrActionDenied, action)
	}
	return g.next.Execute(ctx, action, data)
}

func describeData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, data[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
