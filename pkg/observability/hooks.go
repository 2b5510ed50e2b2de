package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/espalier/pkg/domain"
)

// Combine fans every event out to each hook set, in order.
func Combine(sets ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, s := range sets {
		out.OnFramePush = chain(out.OnFramePush, s.OnFramePush)
		out.OnFramePop = chain(out.OnFramePop, s.OnFramePop)
		out.OnFieldCollected = chain(out.OnFieldCollected, s.OnFieldCollected)
		out.OnFieldRejected = chain(out.OnFieldRejected, s.OnFieldRejected)
		out.OnEntityResolved = chain(out.OnEntityResolved, s.OnEntityResolved)
		out.OnActionExecuted = chain(out.OnActionExecuted, s.OnActionExecuted)
	}
	return out
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *E) {
		a(ctx, e)
		b(ctx, e)
	}
}

// LogHooks writes every event to logger at debug level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnFramePush: func(ctx context.Context, e *domain.FrameEvent) {
			logger.DebugContext(ctx, "frame_push", "session_id", e.SessionID, "workflow", e.Workflow, "depth", e.Depth)
		},
		OnFramePop: func(ctx context.Context, e *domain.FrameEvent) {
			logger.DebugContext(ctx, "frame_pop", "session_id", e.SessionID, "workflow", e.Workflow, "phase", e.Phase)
		},
		OnFieldCollected: func(ctx context.Context, e *domain.FieldEvent) {
			logger.DebugContext(ctx, "field_collected", "session_id", e.SessionID, "field", e.Field, "skipped", e.Skipped)
		},
		OnFieldRejected: func(ctx context.Context, e *domain.FieldEvent) {
			logger.DebugContext(ctx, "field_rejected", "session_id", e.SessionID, "field", e.Field, "attempt", e.Attempt)
		},
		OnEntityResolved: func(ctx context.Context, e *domain.EntityEvent) {
			logger.DebugContext(ctx, "entity_lookup", "session_id", e.SessionID, "entity", e.Entity, "status", e.Status, "took", e.Took)
		},
		OnActionExecuted: func(ctx context.Context, e *domain.ActionEvent) {
			logger.DebugContext(ctx, "action_executed", "session_id", e.SessionID, "action", e.Action, "is_error", e.IsError, "took", e.Took)
		},
	}
}
