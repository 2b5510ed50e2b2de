package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/dsl"
	"github.com/aretw0/espalier/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGreetEngine(t *testing.T) *espalier.Engine {
	t.Helper()
	b := dsl.New()
	b.Workflow("greet").
		Goal("Greet someone").
		Ask("name", "What is your name?").
		Ask("city", "Where do you live?")
	workflows, err := b.Build()
	require.NoError(t, err)

	actions := registry.NewActions()
	actions.Register("greet", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		return map[string]any{"id": "g-1", "greeting": "hello " + data["name"].(string)}, nil
	})

	engine, err := espalier.New(workflows, espalier.WithActions(actions))
	require.NoError(t, err)
	return engine
}

func TestRunner_Run_BasicFlow(t *testing.T) {
	engine := newGreetEngine(t)
	out := &bytes.Buffer{}

	r := NewRunner(engine,
		WithSessionID("s1"),
		WithInputHandler(NewTextHandler(strings.NewReader("Ada\nLondon\n"), out)),
	)

	resp, err := r.Run(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, "g-1", resp.Result["id"])

	output := out.String()
	assert.Contains(t, output, "What is your name?")
	assert.Contains(t, output, "Where do you live?")
	assert.Contains(t, output, "greeting: hello Ada")
}

func TestRunner_Run_EOFLeavesWorkflowActive(t *testing.T) {
	engine := newGreetEngine(t)

	first := NewRunner(engine,
		WithSessionID("s1"),
		WithInputHandler(NewTextHandler(strings.NewReader("Ada\n"), &bytes.Buffer{})),
	)
	resp, err := first.Run(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNeedsInput, resp.Status)
	assert.Equal(t, "city", resp.Field)

	// A second run in the same session picks up where the first stopped.
	out := &bytes.Buffer{}
	second := NewRunner(engine,
		WithSessionID("s1"),
		WithInputHandler(NewTextHandler(strings.NewReader("Lisbon\n"), out)),
	)
	resp, err = second.Run(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Contains(t, out.String(), "Where do you live?")
}

func TestRunner_Run_RequiresSession(t *testing.T) {
	r := NewRunner(newGreetEngine(t), WithInputHandler(NewJSONHandler(strings.NewReader(""), &bytes.Buffer{})))
	_, err := r.Run(context.Background(), "greet", nil)
	assert.Error(t, err)
}

func TestRunner_Run_UnknownWorkflow(t *testing.T) {
	r := NewRunner(newGreetEngine(t),
		WithSessionID("s1"),
		WithInputHandler(NewJSONHandler(strings.NewReader(""), &bytes.Buffer{})),
	)
	_, err := r.Run(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

type busyEngine struct {
	Engine
	calls atomic.Int32
}

func (e *busyEngine) Turn(ctx context.Context, turn domain.Turn) (*domain.Response, error) {
	if e.calls.Add(1) == 1 {
		return nil, domain.ErrSessionBusy
	}
	return e.Engine.Turn(ctx, turn)
}

func TestRunner_Run_RetriesBusySession(t *testing.T) {
	engine := &busyEngine{Engine: newGreetEngine(t)}
	out := &bytes.Buffer{}

	r := NewRunner(engine,
		WithSessionID("s1"),
		WithBusyRetry(time.Millisecond),
		WithInputHandler(NewTextHandler(strings.NewReader("Ada\nLondon\n"), out)),
	)
	resp, err := r.Run(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, int32(3), engine.calls.Load())
	assert.Contains(t, out.String(), "[System] Session is busy")
}

type blockingHandler struct {
	MockIOHandler
}

func (h *blockingHandler) Input(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRunner_Run_ParentCancelDoesNotAbort(t *testing.T) {
	engine := newGreetEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRunner(engine, WithSessionID("s1"), WithInputHandler(&blockingHandler{}))

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, "greet", nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}

	// The workflow survives so a later run can resume it.
	resp, err := engine.Resume(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "name", resp.Field)
}

// interruptingHandler raises SIGINT while the runner waits for input.
type interruptingHandler struct {
	MockIOHandler
	t *testing.T
}

func (h *interruptingHandler) Input(ctx context.Context) (string, error) {
	signalSelf(h.t, os.Interrupt)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRunner_Run_InterruptAbortsWithSignal(t *testing.T) {
	b := dsl.New()
	b.Workflow("greet").Ask("name", "What is your name?")
	workflows, err := b.Build()
	require.NoError(t, err)

	audit := memory.NewAuditLog()
	engine, err := espalier.New(workflows, espalier.WithAudit(audit))
	require.NoError(t, err)

	handler := &interruptingHandler{t: t}
	r := NewRunner(engine, WithSessionID("s1"), WithInputHandler(handler))

	resp, err := r.Run(context.Background(), "greet", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeAborted, resp.Error.Code)
	assert.Contains(t, handler.System, "Workflow aborted (interrupted by interrupt).")

	trail, err := engine.Trail(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.CodeAborted, trail[0].Code)
	assert.Equal(t, "interrupted by interrupt", trail[0].Error, "the audit trail names the signal")

	_, err = engine.Resume(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrNoActiveWorkflow)
}

func TestRunner_Run_PropagatesTurnErrors(t *testing.T) {
	failing := &failingEngine{Engine: newGreetEngine(t)}
	r := NewRunner(failing,
		WithSessionID("s1"),
		WithInputHandler(NewTextHandler(strings.NewReader("Ada\n"), &bytes.Buffer{})),
	)
	_, err := r.Run(context.Background(), "greet", nil)
	assert.ErrorContains(t, err, "store offline")
}

type failingEngine struct {
	Engine
}

func (e *failingEngine) Turn(ctx context.Context, turn domain.Turn) (*domain.Response, error) {
	return nil, errors.New("store offline")
}
