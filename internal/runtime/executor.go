package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/schema"
)

var errNoExecutor = errors.New("no action executor configured")

// execute runs the final action of a satisfied frame exactly once and pops it,
// whatever the outcome. A retry always needs a fresh frame.
func (o *Orchestrator) execute(ctx context.Context, t *turn, frame *domain.Frame, def domain.WorkflowDefinition) {
	frame.SetPhase(domain.PhaseExecutingAction)

	if err := o.checkCollected(frame, def); err != nil {
		o.failActive(ctx, t, frame, def, err)
		return
	}

	input := frame.ActionInput(def)

	start := o.now()
	result, err := o.call(ctx, def.FinalAction, input)
	took := o.now().Sub(start)

	if _, popErr := t.wc.Pop(); popErr != nil {
		o.logger.Error("Active frame vanished during action",
			"session_id", t.wc.SessionID(),
			"frame_id", frame.ID(),
			"err", popErr,
		)
		return
	}

	if err != nil {
		frame.SetPhase(domain.PhaseFailed)
		o.emitAction(ctx, t.wc, frame, def.FinalAction, took, true)
		o.frameFailed(ctx, t, frame, def, &domain.ActionError{Action: def.FinalAction, Err: err})
		return
	}

	frame.SetPhase(domain.PhaseCompleted)
	if result == nil {
		result = map[string]any{}
	}
	o.emitAction(ctx, t.wc, frame, def.FinalAction, took, false)
	o.logger.Info("Action executed",
		"session_id", t.wc.SessionID(),
		"frame_id", frame.ID(),
		"workflow", def.ID,
		"action", def.FinalAction,
		"took", took,
	)
	o.frameCompleted(ctx, t, frame, def, result)
}

// call runs the action under the action timeout. An action still running at
// the deadline is abandoned and reported as context.DeadlineExceeded.
func (o *Orchestrator) call(ctx context.Context, action string, input map[string]any) (map[string]any, error) {
	if o.actions == nil {
		return nil, errNoExecutor
	}
	return bounded(ctx, o.cfg.ActionTimeout, func(actx context.Context) (map[string]any, error) {
		return o.actions.Execute(actx, action, input)
	})
}

// checkCollected re-validates stored values before they reach the action.
// Values restored from a store may have changed shape (json.Number), so each
// present value is coerced again in place.
func (o *Orchestrator) checkCollected(frame *domain.Frame, def domain.WorkflowDefinition) error {
	refs := make(map[string]string)
	for _, field := range def.Plan() {
		if field.Validator == "" {
			continue
		}
		refs[field.Name] = field.Validator
		v, ok := frame.Value(field.Name)
		if !ok || v == nil {
			continue
		}
		coerced, err := o.validators.Apply(field.Validator, v)
		if err != nil {
			return &domain.ValidationError{Field: field.Name, Reason: err.Error(), Value: v}
		}
		frame.Set(field.Name, coerced)
	}

	s, err := o.validators.Schema(refs)
	if err != nil {
		return fmt.Errorf("workflow %s: %w", def.ID, err)
	}
	return schema.ValidatePresent(s, frame.Collected())
}
