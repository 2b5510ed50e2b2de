package runtime

import (
	"context"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

func (o *Orchestrator) base(typ domain.EventType, wc *domain.WorkflowContext, f *domain.Frame) domain.EventBase {
	return domain.EventBase{
		Timestamp: o.now(),
		Type:      typ,
		SessionID: wc.SessionID(),
		FrameID:   f.ID(),
		Workflow:  f.DefinitionID(),
	}
}

func (o *Orchestrator) emitFramePush(ctx context.Context, wc *domain.WorkflowContext, f *domain.Frame) {
	if o.hooks.OnFramePush == nil {
		return
	}
	o.hooks.OnFramePush(ctx, &domain.FrameEvent{
		EventBase: o.base(domain.EventFramePush, wc, f),
		Depth:     wc.Depth(),
	})
}

func (o *Orchestrator) emitFramePop(ctx context.Context, wc *domain.WorkflowContext, f *domain.Frame, phase domain.Phase, depth int) {
	if o.hooks.OnFramePop == nil {
		return
	}
	o.hooks.OnFramePop(ctx, &domain.FrameEvent{
		EventBase: o.base(domain.EventFramePop, wc, f),
		Depth:     depth,
		Phase:     phase,
	})
}

func (o *Orchestrator) emitField(ctx context.Context, wc *domain.WorkflowContext, f *domain.Frame, field string, skipped bool) {
	if o.hooks.OnFieldCollected == nil {
		return
	}
	o.hooks.OnFieldCollected(ctx, &domain.FieldEvent{
		EventBase: o.base(domain.EventFieldCollected, wc, f),
		Field:     field,
		Skipped:   skipped,
	})
}

func (o *Orchestrator) emitRejected(ctx context.Context, wc *domain.WorkflowContext, f *domain.Frame, field string, attempt int, reason string) {
	if o.hooks.OnFieldRejected == nil {
		return
	}
	o.hooks.OnFieldRejected(ctx, &domain.FieldEvent{
		EventBase: o.base(domain.EventFieldRejected, wc, f),
		Field:     field,
		Attempt:   attempt,
		Reason:    reason,
	})
}

// emitEntity reports every lookup outcome; the event type follows the status.
func (o *Orchestrator) emitEntity(ctx context.Context, wc *domain.WorkflowContext, f *domain.Frame, entity string, status domain.EntityStatus, took time.Duration) {
	if o.hooks.OnEntityResolved == nil {
		return
	}
	typ := domain.EventEntityResolved
	if status == domain.EntityFailed {
		typ = domain.EventEntityFailed
	}
	o.hooks.OnEntityResolved(ctx, &domain.EntityEvent{
		EventBase: o.base(typ, wc, f),
		Entity:    entity,
		Status:    status,
		Took:      took,
	})
}

func (o *Orchestrator) emitAction(ctx context.Context, wc *domain.WorkflowContext, f *domain.Frame, action string, took time.Duration, failed bool) {
	if o.hooks.OnActionExecuted == nil {
		return
	}
	o.hooks.OnActionExecuted(ctx, &domain.ActionEvent{
		EventBase: o.base(domain.EventActionExecuted, wc, f),
		Action:    action,
		Took:      took,
		IsError:   failed,
	})
}

// record appends the audit trace of a frame that left the stack.
// Sink failures are logged and never fail the turn.
func (o *Orchestrator) record(ctx context.Context, wc *domain.WorkflowContext, f *domain.Frame, phase domain.Phase, result map[string]any, cause error) {
	if o.audit == nil {
		return
	}
	rec := domain.AuditRecord{
		SessionID: wc.SessionID(),
		UserID:    wc.UserID(),
		FrameID:   f.ID(),
		Workflow:  f.DefinitionID(),
		Origin:    f.Origin(),
		Phase:     phase,
		Data:      f.Collected(),
		Result:    result,
		At:        o.now(),
	}
	if cause != nil {
		rec.Error = cause.Error()
		rec.Code = domain.CodeOf(cause)
	}
	if err := o.audit.Append(ctx, rec); err != nil {
		o.logger.Warn("Failed to append audit record",
			"session_id", wc.SessionID(),
			"frame_id", f.ID(),
			"err", err,
		)
	}
}
