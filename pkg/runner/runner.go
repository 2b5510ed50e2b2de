package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
)

// DefaultBusyRetry is the pause before resending a turn to a busy session.
const DefaultBusyRetry = 200 * time.Millisecond

// maxBusyRetries bounds how often one message is resent to a busy session.
const maxBusyRetries = 10

// Engine is the subset of the espalier engine the runner drives.
type Engine interface {
	Start(ctx context.Context, sessionID, userID, workflowID string, seed map[string]any) (*domain.Response, error)
	Turn(ctx context.Context, turn domain.Turn) (*domain.Response, error)
	Resume(ctx context.Context, sessionID string) (*domain.Response, error)
	AbortWith(ctx context.Context, sessionID string, cause error) (*domain.Response, error)
}

// Runner drives one conversation: it starts or resumes a workflow and
// relays messages between the handler and the engine until the stack settles.
type Runner struct {
	Handler   IOHandler
	Logger    *slog.Logger
	SessionID string
	UserID    string
	Renderer  ContentRenderer
	BusyRetry time.Duration

	engine Engine
}

// NewRunner creates a new Runner for engine.
func NewRunner(engine Engine, opts ...Option) *Runner {
	r := &Runner{
		engine:    engine,
		Logger:    logging.NewNop(),
		BusyRetry: DefaultBusyRetry,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Handler == nil {
		r.Handler = NewTextHandler(os.Stdin, os.Stdout, WithTextHandlerRenderer(r.Renderer))
	}
	return r
}

// Run starts workflowID in the session, or resumes the workflow already
// active there, and loops until a response no longer needs input.
// It returns the last response. io.EOF on input ends the loop without error.
// An interrupt (SIGINT/SIGTERM) while waiting for input aborts the stack.
func (r *Runner) Run(ctx context.Context, workflowID string, seed map[string]any) (*domain.Response, error) {
	if r.engine == nil {
		return nil, errors.New("runner has no engine")
	}
	if r.SessionID == "" {
		return nil, errors.New("runner requires a session id")
	}

	resp, err := r.engine.Start(ctx, r.SessionID, r.UserID, workflowID, seed)
	if errors.Is(err, domain.ErrWorkflowActive) {
		r.Logger.Info("Resuming active workflow", "session_id", r.SessionID)
		resp, err = r.engine.Resume(ctx, r.SessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	signals := NewSignalManager(ctx)
	defer signals.Stop()

	for {
		if err := r.Handler.Output(ctx, resp); err != nil {
			return resp, fmt.Errorf("failed to write response: %w", err)
		}
		if resp.Status != domain.StatusNeedsInput {
			return resp, nil
		}

		input, err := r.Handler.Input(signals.Context())
		if err != nil {
			signals.CheckRace()
			if cause := signals.Cause(); cause != nil {
				return r.abort(ctx, cause)
			}
			if ctx.Err() != nil {
				return resp, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				r.Logger.Debug("Input closed", "session_id", r.SessionID)
				return resp, nil
			}
			return resp, fmt.Errorf("failed to read input: %w", err)
		}

		next, err := r.turn(ctx, input)
		if err != nil {
			return resp, err
		}
		resp = next
	}
}

func (r *Runner) turn(ctx context.Context, message string) (*domain.Response, error) {
	turn := domain.Turn{SessionID: r.SessionID, UserID: r.UserID, Message: message}
	for attempt := 0; ; attempt++ {
		resp, err := r.engine.Turn(ctx, turn)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, domain.ErrSessionBusy) || attempt >= maxBusyRetries {
			return nil, fmt.Errorf("turn failed: %w", err)
		}
		if err := r.Handler.SystemOutput(ctx, "Session is busy, retrying..."); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.BusyRetry):
		}
	}
}

// abort discards the session's stack, recording the interrupting signal.
func (r *Runner) abort(ctx context.Context, cause *InterruptError) (*domain.Response, error) {
	r.Logger.Info("Interrupted, aborting workflow",
		"session_id", r.SessionID,
		"signal", cause.Signal.String(),
	)
	resp, err := r.engine.AbortWith(ctx, r.SessionID, cause)
	if err != nil {
		return nil, fmt.Errorf("failed to abort workflow: %w", err)
	}
	_ = r.Handler.SystemOutput(ctx, "Workflow aborted ("+cause.Error()+").")
	return resp, nil
}
