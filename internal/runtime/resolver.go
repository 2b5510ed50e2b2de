package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
)

// resolve looks up req with the collected search value.
//
// A hit marks the requirement RESOLVED. A miss either pushes the creation
// sub-workflow (the parent waits in awaiting_subworkflow) or marks the
// requirement FAILED and clears the search value so the user can correct it.
// Lookup errors and timeouts count as a failed attempt on the search field.
func (o *Orchestrator) resolve(ctx context.Context, t *turn, frame *domain.Frame, def domain.WorkflowDefinition, req domain.EntityRequirement) {
	searchValue, _ := frame.Value(req.SearchField)
	frame.SetPhase(domain.PhaseResolvingEntity)

	start := o.now()
	value, err := o.lookup(ctx, req, searchValue)
	took := o.now().Sub(start)

	switch {
	case err == nil:
		frame.SetEntity(req.Name, domain.EntityState{Status: domain.EntityResolved, Value: value})
		frame.ResetRetries(lookupKey(req))
		frame.SetPhase(domain.PhaseCollecting)
		o.emitEntity(ctx, t.wc, frame, req.Name, domain.EntityResolved, took)
		o.logger.Debug("Entity resolved",
			"session_id", t.wc.SessionID(),
			"frame_id", frame.ID(),
			"entity", req.Name,
		)

	case errors.Is(err, domain.ErrEntityNotFound) && req.CreateIfMissing:
		o.spawn(ctx, t, frame, req, searchValue)

	case errors.Is(err, domain.ErrEntityNotFound):
		frame.SetPhase(domain.PhaseCollecting)
		o.entityFailed(t, frame, req, err)
		o.emitEntity(ctx, t.wc, frame, req.Name, domain.EntityFailed, took)
		t.resp.Error = &domain.TurnError{
			Code:    domain.CodeEntityNotFound,
			Message: fmt.Sprintf("no %s matches %v", req.Name, searchValue),
			Field:   req.SearchField,
			Entity:  req.Name,
		}
		t.note("I could not find a %s with %s %v.", req.Name, req.SearchField, searchValue)

	default:
		frame.SetPhase(domain.PhaseCollecting)
		o.emitEntity(ctx, t.wc, frame, req.Name, domain.EntityFailed, took)
		o.logger.Warn("Entity lookup failed",
			"session_id", t.wc.SessionID(),
			"frame_id", frame.ID(),
			"entity", req.Name,
			"err", err,
		)

		attempt := frame.IncrementRetries(lookupKey(req))
		if attempt >= o.cfg.MaxRetries {
			o.failActive(ctx, t, frame, def, fmt.Errorf("%w: %s lookup failed %d times: %w", domain.ErrFieldCollectionExhausted, req.Name, attempt, err))
			return
		}
		frame.Unset(req.SearchField)
		t.resp.Error = &domain.TurnError{
			Code:    domain.CodeLookupFailure,
			Message: err.Error(),
			Field:   req.SearchField,
			Entity:  req.Name,
		}
		t.note("I could not look up the %s right now.", req.Name)
	}
}

// lookupKey is the retry counter of failed lookups for req. It is kept apart
// from the search field counter, which a successful answer resets.
func lookupKey(req domain.EntityRequirement) string {
	return req.SearchField + "#lookup"
}

// lookup calls the entity store under the lookup timeout. A store that does
// not answer in time yields a validation error on the search field.
func (o *Orchestrator) lookup(ctx context.Context, req domain.EntityRequirement, searchValue any) (any, error) {
	if o.entities == nil {
		return nil, fmt.Errorf("%w: no entity store configured", domain.ErrEntityNotFound)
	}

	value, err := bounded(ctx, o.cfg.LookupTimeout, func(lctx context.Context) (any, error) {
		return o.entities.Find(lctx, req.Name, req.SearchField, searchValue)
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, &domain.ValidationError{Field: req.SearchField, Reason: fmt.Sprintf("looking up the %s timed out", req.Name)}
	}
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, domain.ErrEntityNotFound
	}
	return value, nil
}

// spawn pushes the sub-workflow that creates req, seeded with the search value.
func (o *Orchestrator) spawn(ctx context.Context, t *turn, frame *domain.Frame, req domain.EntityRequirement, searchValue any) {
	childDef, err := o.workflows.Get(req.SubWorkflow)
	if err == nil {
		child := domain.NewChildFrame(childDef, req.Name, map[string]any{req.ChildSeedField(): searchValue})
		if err = t.wc.Push(child); err == nil {
			frame.SetEntity(req.Name, domain.EntityState{Status: domain.EntityResolving})
			frame.SetPhase(domain.PhaseAwaitingSubworkflow)
			o.emitFramePush(ctx, t.wc, child)
			o.logger.Info("Sub-workflow pushed",
				"session_id", t.wc.SessionID(),
				"frame_id", child.ID(),
				"workflow", childDef.ID,
				"entity", req.Name,
				"depth", t.wc.Depth(),
			)
			if childDef.Guidance != "" {
				t.note("%s", childDef.Guidance)
			} else {
				t.note("No %s matches %v yet, so let's create one.", req.Name, searchValue)
			}
			return
		}
	}

	// The push failed (overflow, reentrancy or an unknown definition). The
	// requirement fails and the user may try another search value.
	frame.SetPhase(domain.PhaseCollecting)
	o.entityFailed(t, frame, req, err)
	o.emitEntity(ctx, t.wc, frame, req.Name, domain.EntityFailed, 0)
	o.logger.Warn("Sub-workflow not started",
		"session_id", t.wc.SessionID(),
		"frame_id", frame.ID(),
		"workflow", req.SubWorkflow,
		"entity", req.Name,
		"err", err,
	)
	te := domain.NewTurnError(err)
	te.Entity = req.Name
	te.Field = req.SearchField
	t.resp.Error = te
	t.note("I could not start creating the %s: %s", req.Name, reason(err))
}
