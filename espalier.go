package espalier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/extractor"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/schema"
	"github.com/aretw0/espalier/pkg/session"
)

// Config holds the orchestrator tunables (retries, keywords, timeouts).
type Config = runtime.Config

// DefaultConfig returns the production defaults.
func DefaultConfig() Config { return runtime.DefaultConfig() }

// ErrAuditUnavailable is returned by Trail when the audit sink cannot be read back.
var ErrAuditUnavailable = errors.New("audit trail is not readable")

// Engine is the high-level entry point for the espalier library.
// It pairs the orchestrator with a session manager, so every call runs under
// the session lock and persists the context before returning.
type Engine struct {
	workflows    ports.WorkflowRegistry
	orchestrator *runtime.Orchestrator
	sessions     *session.Manager

	store       ports.ContextStore
	locker      ports.DistributedLocker
	extractor   ports.FieldExtractor
	entities    ports.EntityStore
	actions     ports.ActionExecutor
	validators  *schema.Validators
	audit       ports.AuditSink
	trail       ports.AuditReader
	piiPatterns []string
	hooks       domain.LifecycleHooks
	metrics     *observability.Metrics
	logger      *slog.Logger

	cfg      Config
	policy   session.BusyPolicy
	ttl      time.Duration
	lockTTL  time.Duration
	maxDepth int
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore sets the context store. Defaults to an in-memory store.
func WithStore(store ports.ContextStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker enables distributed locking of sessions across processes.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithExtractor sets how field values are pulled out of messages.
// Defaults to extractor.Literal.
func WithExtractor(x ports.FieldExtractor) Option {
	return func(e *Engine) {
		e.extractor = x
	}
}

// WithEntities sets the store used to resolve entity requirements.
func WithEntities(store ports.EntityStore) Option {
	return func(e *Engine) {
		e.entities = store
	}
}

// WithActions sets the executor of final actions.
func WithActions(actions ports.ActionExecutor) Option {
	return func(e *Engine) {
		e.actions = actions
	}
}

// WithValidators replaces the built-in validator registry.
func WithValidators(v *schema.Validators) Option {
	return func(e *Engine) {
		e.validators = v
	}
}

// WithAudit records every frame leaving the stack in sink. Records pass
// through the PII middleware first. If sink also implements
// ports.AuditReader, Trail reads from it.
func WithAudit(sink ports.AuditSink) Option {
	return func(e *Engine) {
		e.audit = sink
		if r, ok := sink.(ports.AuditReader); ok {
			e.trail = r
		}
	}
}

// WithPIIPatterns overrides middleware.DefaultPIIPatterns for audit masking.
func WithPIIPatterns(patterns ...string) Option {
	return func(e *Engine) {
		e.piiPatterns = patterns
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithMetrics exports engine activity to Prometheus.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithConfig sets the orchestrator tunables. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithBusyPolicy selects what happens to a turn for a session that is busy.
func WithBusyPolicy(p session.BusyPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithTTL expires idle sessions in the store.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.ttl = ttl
	}
}

// WithLockTTL bounds how long a distributed lock outlives a crashed holder.
// Live turns renew the lock every third of ttl.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithMaxDepth bounds the number of nested workflows per session.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// New initializes an Engine over the given workflow registry.
func New(workflows ports.WorkflowRegistry, opts ...Option) (*Engine, error) {
	if workflows == nil {
		return nil, fmt.Errorf("a workflow registry is required")
	}
	e := &Engine{
		workflows: workflows,
		cfg:       runtime.DefaultConfig(),
		policy:    session.BusyReject,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}
	if e.extractor == nil {
		e.extractor = extractor.Literal{}
	}

	hooks := e.hooks
	if e.metrics != nil {
		hooks = observability.Combine(hooks, e.metrics.Hooks())
	}

	runtimeOpts := []runtime.Option{
		runtime.WithConfig(e.cfg),
		runtime.WithLogger(e.logger),
		runtime.WithLifecycleHooks(hooks),
		runtime.WithValidators(e.validators),
	}
	if e.audit != nil {
		masked := middleware.NewPIIMiddleware(e.piiPatterns)(e.audit)
		runtimeOpts = append(runtimeOpts, runtime.WithAuditSink(masked))
	}
	e.orchestrator = runtime.NewOrchestrator(e.workflows, e.extractor, e.entities, e.actions, runtimeOpts...)
	e.cfg = e.orchestrator.Config()

	sessionOpts := []session.Option{
		session.WithLogger(e.logger),
		session.WithBusyPolicy(e.policy),
		session.WithTTL(e.ttl),
	}
	if e.maxDepth > 0 {
		sessionOpts = append(sessionOpts, session.WithMaxDepth(e.maxDepth))
	}
	if e.lockTTL > 0 {
		sessionOpts = append(sessionOpts, session.WithLockTTL(e.lockTTL))
	}
	if e.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(e.locker))
	}
	e.sessions = session.NewManager(e.store, sessionOpts...)

	return e, nil
}

// Start begins workflowID on the session. It fails with domain.ErrWorkflowActive
// when the session already runs a workflow.
func (e *Engine) Start(ctx context.Context, sessionID, userID, workflowID string, seed map[string]any) (*domain.Response, error) {
	return e.update(ctx, sessionID, userID, func(ctx context.Context, wc *domain.WorkflowContext) (*domain.Response, error) {
		return e.orchestrator.Start(ctx, wc, workflowID, seed)
	})
}

// Turn hands one user message to the session's active workflow.
func (e *Engine) Turn(ctx context.Context, turn domain.Turn) (*domain.Response, error) {
	return e.update(ctx, turn.SessionID, turn.UserID, func(ctx context.Context, wc *domain.WorkflowContext) (*domain.Response, error) {
		return e.orchestrator.Process(ctx, wc, turn.Message)
	})
}

// Resume returns the pending prompt of the session without consuming input.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*domain.Response, error) {
	return e.update(ctx, sessionID, "", func(ctx context.Context, wc *domain.WorkflowContext) (*domain.Response, error) {
		return e.orchestrator.Resume(ctx, wc)
	})
}

// Abort discards every workflow of the session. The response has status
// failed and error code aborted.
func (e *Engine) Abort(ctx context.Context, sessionID string) (*domain.Response, error) {
	return e.AbortWith(ctx, sessionID, nil)
}

// AbortWith is Abort with the reason recorded in the audit trail of every
// discarded frame, e.g. the signal that interrupted a terminal session.
func (e *Engine) AbortWith(ctx context.Context, sessionID string, cause error) (*domain.Response, error) {
	return e.update(ctx, sessionID, "", func(ctx context.Context, wc *domain.WorkflowContext) (*domain.Response, error) {
		if wc.IsEmpty() {
			return nil, domain.ErrNoActiveWorkflow
		}
		return e.orchestrator.Abort(ctx, wc, cause), nil
	})
}

func (e *Engine) update(ctx context.Context, sessionID, userID string, fn func(context.Context, *domain.WorkflowContext) (*domain.Response, error)) (*domain.Response, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	var resp *domain.Response
	err := e.sessions.Update(ctx, sessionID, userID, func(ctx context.Context, wc *domain.WorkflowContext) error {
		var err error
		resp, err = fn(ctx, wc)
		return err
	})
	if err != nil {
		if e.metrics != nil && errors.Is(err, domain.ErrSessionBusy) {
			e.metrics.RecordBusy()
		}
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordTurn(resp.Status)
	}
	return resp, nil
}

// Inspect returns a read-only view of a stored session.
func (e *Engine) Inspect(ctx context.Context, sessionID string) (*Snapshot, error) {
	wc, err := e.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(wc), nil
}

// Trail returns the audit records of a session, oldest first.
func (e *Engine) Trail(ctx context.Context, sessionID string) ([]domain.AuditRecord, error) {
	if e.trail == nil {
		return nil, ErrAuditUnavailable
	}
	return e.trail.Trail(ctx, sessionID)
}

// Sessions lists the stored session IDs.
func (e *Engine) Sessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Delete removes a session without running or auditing anything.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	return e.sessions.Delete(ctx, sessionID)
}

// Workflows lists the registered workflow IDs.
func (e *Engine) Workflows() []string {
	return e.workflows.List()
}

// Definition returns a registered workflow definition.
func (e *Engine) Definition(id string) (domain.WorkflowDefinition, error) {
	return e.workflows.Get(id)
}

// Config returns the effective orchestrator configuration.
func (e *Engine) Config() Config {
	return e.cfg
}
