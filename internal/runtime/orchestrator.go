package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/schema"
)

// maxSteps bounds the iterations of a single turn. A well-formed stack needs a
// handful per frame; hitting the bound means a definition cannot make progress.
const maxSteps = 256

// Orchestrator drives the frame stack of one session per call.
// It holds no per-session state: every call receives the WorkflowContext to act
// on, and the caller is responsible for exclusive access and persistence.
type Orchestrator struct {
	workflows  ports.WorkflowRegistry
	extractor  ports.FieldExtractor
	entities   ports.EntityStore
	actions    ports.ActionExecutor
	validators *schema.Validators
	audit      ports.AuditSink

	hooks  domain.LifecycleHooks
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the tunables. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg.withDefaults()
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(o *Orchestrator) {
		o.hooks = hooks
	}
}

// WithValidators replaces the built-in validator registry.
func WithValidators(v *schema.Validators) Option {
	return func(o *Orchestrator) {
		if v != nil {
			o.validators = v
		}
	}
}

// WithAuditSink records every frame that leaves the stack.
func WithAuditSink(sink ports.AuditSink) Option {
	return func(o *Orchestrator) {
		o.audit = sink
	}
}

// WithClock overrides time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(workflows ports.WorkflowRegistry, extractor ports.FieldExtractor, entities ports.EntityStore, actions ports.ActionExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workflows:  workflows,
		extractor:  extractor,
		entities:   entities,
		actions:    actions,
		validators: schema.DefaultValidators,
		logger:     logging.NewNop(),
		cfg:        DefaultConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// turn carries the transient state of one Start or Process call.
type turn struct {
	wc       *domain.WorkflowContext
	message  string
	consumed bool
	notes    []string
	resp     *domain.Response
}

func (t *turn) note(format string, args ...any) {
	t.notes = append(t.notes, fmt.Sprintf(format, args...))
}

// Start pushes a root frame for workflowID, seeded with seed, and runs it until
// it needs input.
func (o *Orchestrator) Start(ctx context.Context, wc *domain.WorkflowContext, workflowID string, seed map[string]any) (*domain.Response, error) {
	if !wc.IsEmpty() {
		top, _ := wc.Peek()
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowActive, top.DefinitionID())
	}

	def, err := o.workflows.Get(workflowID)
	if err != nil {
		return nil, err
	}

	t := &turn{wc: wc, consumed: true, resp: &domain.Response{SessionID: wc.SessionID()}}
	frame := domain.NewFrame(def, seed)
	if err := wc.Push(frame); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", workflowID, err)
	}
	o.emitFramePush(ctx, wc, frame)
	if def.Guidance != "" {
		t.note("%s", def.Guidance)
	}
	wc.RecordTurn(o.now())

	o.logger.Info("Workflow started",
		"session_id", wc.SessionID(),
		"frame_id", frame.ID(),
		"workflow", def.ID,
	)
	return o.run(ctx, t)
}

// Process consumes one user message for the active frame.
// It returns domain.ErrNoActiveWorkflow when the stack is empty.
// Recoverable and structural failures are reported in the Response, not as errors.
func (o *Orchestrator) Process(ctx context.Context, wc *domain.WorkflowContext, message string) (*domain.Response, error) {
	if wc.IsEmpty() {
		return nil, domain.ErrNoActiveWorkflow
	}
	if strings.EqualFold(strings.TrimSpace(message), o.cfg.AbortKeyword) {
		return o.Abort(ctx, wc, nil), nil
	}

	wc.RecordTurn(o.now())
	t := &turn{wc: wc, message: message, resp: &domain.Response{SessionID: wc.SessionID()}}
	return o.run(ctx, t)
}

// Resume repeats the pending prompt of the active frame without consuming a
// message. Clients reconnecting to a session use it to learn what to answer.
func (o *Orchestrator) Resume(ctx context.Context, wc *domain.WorkflowContext) (*domain.Response, error) {
	if wc.IsEmpty() {
		return nil, domain.ErrNoActiveWorkflow
	}
	t := &turn{wc: wc, consumed: true, resp: &domain.Response{SessionID: wc.SessionID()}}
	return o.run(ctx, t)
}

// Abort discards every frame of the stack without running any action. The
// turn fails with CodeAborted; cause, when set, says why and is recorded
// with every discarded frame. A nil cause is domain.ErrAborted.
func (o *Orchestrator) Abort(ctx context.Context, wc *domain.WorkflowContext, cause error) *domain.Response {
	switch {
	case cause == nil:
		cause = domain.ErrAborted
	case !errors.Is(cause, domain.ErrAborted):
		cause = fmt.Errorf("%w: %w", domain.ErrAborted, cause)
	}
	resp := &domain.Response{
		SessionID: wc.SessionID(),
		Status:    domain.StatusFailed,
		Prompt:    "Cancelled. Nothing was saved.",
		Error:     domain.NewTurnError(cause),
	}

	frames := wc.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		resp.Completed = append(resp.Completed, domain.FrameOutcome{
			FrameID:  f.ID(),
			Workflow: f.DefinitionID(),
			Phase:    domain.PhaseFailed,
			Error:    resp.Error,
		})
		o.record(ctx, wc, f, domain.PhaseFailed, nil, cause)
		o.emitFramePop(ctx, wc, f, domain.PhaseFailed, i)
	}
	wc.Clear()

	o.logger.Info("Session aborted",
		"session_id", wc.SessionID(),
		"frames", len(frames),
		"cause", cause,
	)
	return resp
}

// run is the orchestrator loop. It returns when the active frame needs input
// or the stack becomes empty.
func (o *Orchestrator) run(ctx context.Context, t *turn) (*domain.Response, error) {
	for step := 0; step < maxSteps; step++ {
		frame, ok := t.wc.Peek()
		if !ok {
			return o.finish(t), nil
		}

		def, err := o.workflows.Get(frame.DefinitionID())
		if err != nil {
			o.failActive(ctx, t, frame, domain.WorkflowDefinition{ID: frame.DefinitionID()}, err)
			continue
		}

		o.recoverStale(frame)

		if frame.AwaitingConfirmation() {
			if t.consumed {
				return o.awaitConfirmation(t, def), nil
			}
			t.consumed = true
			frame.SetAwaitingConfirmation(false)
			continue
		}

		if req, ok := frame.EligibleEntity(def); ok {
			o.resolve(ctx, t, frame, def, req)
			continue
		}

		if field, idx, ok := frame.PendingField(def); ok {
			frame.SetStep(idx)
			frame.SetPhase(domain.PhaseCollecting)
			if t.consumed {
				return o.ask(t, frame, def, field, nil), nil
			}
			t.consumed = true

			err := o.collect(ctx, t, frame, field)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrFieldCollectionExhausted):
				o.failActive(ctx, t, frame, def, err)
			default:
				return o.ask(t, frame, def, field, err), nil
			}
			continue
		}

		if !frame.IsComplete(def) {
			req, _ := frame.NextEntity(def)
			o.failActive(ctx, t, frame, def, fmt.Errorf("entity %q cannot be resolved: no search value", req.Name))
			continue
		}

		o.execute(ctx, t, frame, def)
	}

	frame, _ := t.wc.Peek()
	o.logger.Error("Turn did not converge",
		"session_id", t.wc.SessionID(),
		"frame_id", frame.ID(),
		"workflow", frame.DefinitionID(),
	)
	return nil, fmt.Errorf("workflow %s made no progress after %d steps", frame.DefinitionID(), maxSteps)
}

// recoverStale resets states that only make sense while a child sits on top
// of frame. Finding them on the active frame means the child is gone.
func (o *Orchestrator) recoverStale(frame *domain.Frame) {
	if frame.Phase() == domain.PhaseAwaitingSubworkflow {
		frame.SetPhase(domain.PhaseCollecting)
	}
	for name, st := range frame.Entities() {
		if st.Status == domain.EntityResolving {
			frame.SetEntity(name, domain.EntityState{Status: domain.EntityUnresolved})
		}
	}
}

// frameCompleted hands the result of a popped frame to its parent, or ends the
// session when it was the root.
func (o *Orchestrator) frameCompleted(ctx context.Context, t *turn, frame *domain.Frame, def domain.WorkflowDefinition, result map[string]any) {
	t.resp.Completed = append(t.resp.Completed, domain.FrameOutcome{
		FrameID:  frame.ID(),
		Workflow: def.ID,
		Phase:    domain.PhaseCompleted,
		Result:   result,
	})
	o.record(ctx, t.wc, frame, domain.PhaseCompleted, result, nil)
	o.emitFramePop(ctx, t.wc, frame, domain.PhaseCompleted, t.wc.Depth())

	parent, ok := t.wc.Peek()
	if !ok {
		t.resp.Status = domain.StatusCompleted
		t.resp.Result = result
		if def.Goal != "" {
			t.note("Done: %s.", strings.TrimSuffix(def.Goal, "."))
		} else {
			t.note("Done.")
		}
		return
	}

	parentDef, err := o.workflows.Get(parent.DefinitionID())
	if err != nil {
		o.failActive(ctx, t, parent, domain.WorkflowDefinition{ID: parent.DefinitionID()}, err)
		return
	}
	req, ok := parentDef.Entity(frame.Origin())
	if !ok {
		o.failActive(ctx, t, parent, parentDef, fmt.Errorf("child %s resolved unknown requirement %q", def.ID, frame.Origin()))
		return
	}
	parent.SetPhase(domain.PhaseCollecting)

	value, ok := result[def.ResultKey()]
	if !ok || value == nil {
		err := fmt.Errorf("%w: %s did not return %q", domain.ErrMissingResult, def.FinalAction, def.ResultKey())
		o.entityFailed(t, parent, req, err)
		te := domain.NewTurnError(err)
		te.Entity = req.Name
		t.resp.Error = te
		t.note("The %s was created but could not be linked.", req.Name)
		return
	}

	parent.SetEntity(req.Name, domain.EntityState{Status: domain.EntityResolved, Value: value})
	parent.ResetRetries(lookupKey(req))
	o.emitEntity(ctx, t.wc, parent, req.Name, domain.EntityResolved, 0)

	if parentDef.ConfirmOnResume {
		parent.SetAwaitingConfirmation(true)
	}
	t.note("The %s is ready.", req.Name)
}

// failActive pops the active frame as FAILED.
func (o *Orchestrator) failActive(ctx context.Context, t *turn, frame *domain.Frame, def domain.WorkflowDefinition, cause error) {
	if _, err := t.wc.Pop(); err != nil {
		return
	}
	o.frameFailed(ctx, t, frame, def, cause)
}

// frameFailed reports a popped frame to its parent requirement, or to the user
// when it was the root.
func (o *Orchestrator) frameFailed(ctx context.Context, t *turn, frame *domain.Frame, def domain.WorkflowDefinition, cause error) {
	te := domain.NewTurnError(cause)
	t.resp.Completed = append(t.resp.Completed, domain.FrameOutcome{
		FrameID:  frame.ID(),
		Workflow: frame.DefinitionID(),
		Phase:    domain.PhaseFailed,
		Error:    te,
	})
	o.record(ctx, t.wc, frame, domain.PhaseFailed, nil, cause)
	o.emitFramePop(ctx, t.wc, frame, domain.PhaseFailed, t.wc.Depth())

	o.logger.Warn("Workflow failed",
		"session_id", t.wc.SessionID(),
		"frame_id", frame.ID(),
		"workflow", frame.DefinitionID(),
		"err", cause,
	)

	parent, ok := t.wc.Peek()
	if !ok {
		t.resp.Status = domain.StatusFailed
		t.resp.Error = te
		t.note("Sorry, I could not finish %s: %s", describe(def), reason(cause))
		return
	}

	parentDef, err := o.workflows.Get(parent.DefinitionID())
	if err != nil {
		o.failActive(ctx, t, parent, domain.WorkflowDefinition{ID: parent.DefinitionID()}, err)
		return
	}
	parent.SetPhase(domain.PhaseCollecting)
	req, ok := parentDef.Entity(frame.Origin())
	if !ok {
		o.failActive(ctx, t, parent, parentDef, fmt.Errorf("child %s failed for unknown requirement %q", frame.DefinitionID(), frame.Origin()))
		return
	}

	o.entityFailed(t, parent, req, cause)
	te.Code = domain.CodeSubWorkflowFailure
	te.Entity = req.Name
	t.resp.Error = te
	t.note("I could not create the %s: %s", req.Name, reason(cause))
}

// entityFailed marks req FAILED and clears its search value so the user is
// asked for a new one.
func (o *Orchestrator) entityFailed(t *turn, frame *domain.Frame, req domain.EntityRequirement, cause error) {
	frame.SetEntity(req.Name, domain.EntityState{Status: domain.EntityFailed, Reason: reason(cause)})
	frame.Unset(req.SearchField)
}

// finish completes the response once the loop stops.
func (o *Orchestrator) finish(t *turn) *domain.Response {
	resp := t.resp
	if len(t.notes) > 0 {
		prompt := strings.Join(t.notes, "\n")
		if resp.Prompt != "" {
			prompt += "\n" + resp.Prompt
		}
		resp.Prompt = prompt
	}
	resp.Depth = t.wc.Depth()
	if top, ok := t.wc.Peek(); ok {
		resp.Workflow = top.DefinitionID()
	}
	return resp
}

// describe names the workflow inside a sentence: its goal with a lowercase
// first letter, or its ID.
func describe(def domain.WorkflowDefinition) string {
	if def.Goal == "" {
		return def.ID
	}
	first, size := utf8.DecodeRuneInString(def.Goal)
	return strings.TrimSuffix(string(unicode.ToLower(first))+def.Goal[size:], ".")
}

// reason is the user-facing explanation of err.
func reason(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	var ae *domain.ActionError
	if errors.As(err, &ae) {
		if errors.Is(ae.Err, context.DeadlineExceeded) {
			return "the operation timed out"
		}
		return ae.Err.Error()
	}
	return err.Error()
}
