package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/espalier/pkg/domain"
)

// collect feeds the turn message to field.
// It returns nil when the value was stored, a *domain.ValidationError when the
// user should be asked again, or an error wrapping
// domain.ErrFieldCollectionExhausted once the retry budget is spent.
func (o *Orchestrator) collect(ctx context.Context, t *turn, frame *domain.Frame, field domain.FieldSpec) error {
	message := strings.TrimSpace(t.message)

	if strings.EqualFold(message, o.cfg.SkipKeyword) {
		if field.AllowSkip {
			frame.Set(field.Name, nil)
			frame.ResetRetries(field.Name)
			o.emitField(ctx, t.wc, frame, field.Name, true)
			return nil
		}
		return o.reject(ctx, t, frame, &domain.ValidationError{Field: field.Name, Reason: "this answer is required and cannot be skipped"})
	}

	value, err := o.extract(ctx, field, t.message)
	if err != nil {
		return o.reject(ctx, t, frame, err)
	}

	value, err = o.validators.Apply(field.Validator, value)
	if err != nil {
		return o.reject(ctx, t, frame, &domain.ValidationError{Field: field.Name, Reason: err.Error(), Value: message})
	}

	frame.Set(field.Name, value)
	frame.ResetRetries(field.Name)
	o.emitField(ctx, t.wc, frame, field.Name, false)
	return nil
}

// extract asks the extractor for a candidate value under the extract timeout.
// Every failure, including a timeout, is reported as a validation error.
func (o *Orchestrator) extract(ctx context.Context, field domain.FieldSpec, message string) (any, error) {
	if o.extractor == nil {
		if s := strings.TrimSpace(message); s != "" {
			return s, nil
		}
		return nil, &domain.ValidationError{Field: field.Name, Reason: "no value found in the message"}
	}

	type extraction struct {
		value any
		ok    bool
	}
	got, err := bounded(ctx, o.cfg.ExtractTimeout, func(ectx context.Context) (extraction, error) {
		value, ok, err := o.extractor.Extract(ectx, field, message)
		return extraction{value: value, ok: ok}, err
	})
	value, ok := got.value, got.ok
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil, &domain.ValidationError{Field: field.Name, Reason: "reading the answer timed out"}
	case err != nil:
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return nil, ve
		}
		o.logger.Warn("Extractor failed",
			"field", field.Name,
			"err", err,
		)
		return nil, &domain.ValidationError{Field: field.Name, Reason: "the answer could not be understood"}
	case !ok:
		return nil, &domain.ValidationError{Field: field.Name, Reason: "no value found in the message"}
	}
	return value, nil
}

// reject counts a failed attempt on the field.
func (o *Orchestrator) reject(ctx context.Context, t *turn, frame *domain.Frame, err error) error {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return err
	}

	attempt := frame.IncrementRetries(ve.Field)
	o.emitRejected(ctx, t.wc, frame, ve.Field, attempt, ve.Reason)
	o.logger.Debug("Field rejected",
		"session_id", t.wc.SessionID(),
		"frame_id", frame.ID(),
		"field", ve.Field,
		"attempt", attempt,
		"err", err,
	)

	if attempt >= o.cfg.MaxRetries {
		return fmt.Errorf("%w: %s after %d attempts: %w", domain.ErrFieldCollectionExhausted, ve.Field, attempt, ve)
	}
	return ve
}

// ask stops the turn with a prompt for field. cause, when set, is the reason
// the previous answer was rejected.
func (o *Orchestrator) ask(t *turn, frame *domain.Frame, def domain.WorkflowDefinition, field domain.FieldSpec, cause error) *domain.Response {
	var b strings.Builder
	if cause != nil {
		fmt.Fprintf(&b, "Sorry, that did not work: %s.", strings.TrimSuffix(reason(cause), "."))
		if field.Hint != "" {
			fmt.Fprintf(&b, " %s", field.Hint)
		}
		b.WriteString("\n")
	}

	prompt := field.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Please provide the %s.", strings.ReplaceAll(field.Name, "_", " "))
	}
	b.WriteString(prompt)
	if field.AllowSkip {
		fmt.Fprintf(&b, " (or reply %q)", o.cfg.SkipKeyword)
	}

	t.resp.Status = domain.StatusNeedsInput
	t.resp.Field = field.Name
	t.resp.Prompt = b.String()
	if cause != nil {
		t.resp.Error = domain.NewTurnError(cause)
	}
	if frame.Retries(field.Name) > 0 {
		o.logger.Debug("Re-prompting field",
			"session_id", t.wc.SessionID(),
			"workflow", def.ID,
			"field", field.Name,
		)
	}
	return o.finish(t)
}

// awaitConfirmation stops the turn until the user acknowledges that the
// parent workflow is resuming.
func (o *Orchestrator) awaitConfirmation(t *turn, def domain.WorkflowDefinition) *domain.Response {
	t.resp.Status = domain.StatusNeedsInput
	t.resp.Prompt = fmt.Sprintf("Reply to continue with %s.", describe(def))
	return o.finish(t)
}
