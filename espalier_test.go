package espalier_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/adapters/redis"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/dsl"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
	"github.com/aretw0/espalier/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine   *espalier.Engine
	store    *memory.Store
	entities *memory.Entities
	actions  *registry.Actions
	audit    *memory.AuditLog
}

func newHarness(t *testing.T, opts ...espalier.Option) *harness {
	t.Helper()

	b := dsl.New()
	b.Workflow("create_invoice").
		Goal("Create an invoice").
		Needs("customer", "email").Validate("email").CreateWith("create_customer").
		Ask("product_ids", "Which products?").Validate("[string]")
	b.Workflow("create_customer").
		Goal("Register a customer").
		Ask("email", "What is the customer's email?").Validate("email").
		Ask("name", "What is the customer's name?").
		Ask("phone", "Phone number?").Optional().Validate("phone")
	workflows, err := b.Build()
	require.NoError(t, err)

	h := &harness{
		store:    memory.NewStore(),
		entities: memory.NewEntities(),
		actions:  registry.NewActions(),
		audit:    memory.NewAuditLog(),
	}
	h.actions.Register("create_customer", h.entities.CreateAction("customer"))
	h.actions.Register("create_invoice", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		return map[string]any{"id": "inv-1", "customer_id": data["customer_id"]}, nil
	})

	opts = append([]espalier.Option{
		espalier.WithStore(h.store),
		espalier.WithEntities(h.entities),
		espalier.WithActions(h.actions),
		espalier.WithAudit(h.audit),
	}, opts...)
	h.engine, err = espalier.New(workflows, opts...)
	require.NoError(t, err)
	return h
}

func (h *harness) say(t *testing.T, sessionID, msg string) *domain.Response {
	t.Helper()
	resp, err := h.engine.Turn(context.Background(), domain.Turn{SessionID: sessionID, Message: msg})
	require.NoError(t, err)
	return resp
}

func TestEngine_InvoiceWithNewCustomer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.engine.Start(ctx, "s1", "u1", "create_invoice", nil)
	require.NoError(t, err)
	assert.Equal(t, "email", resp.Field)

	resp = h.say(t, "s1", "new@x.com")
	assert.Equal(t, "create_customer", resp.Workflow)

	snap, err := h.engine.Inspect(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Depth)
	assert.Equal(t, "u1", snap.UserID)
	active, ok := snap.Active()
	require.True(t, ok)
	assert.Equal(t, "create_customer", active.Workflow)
	assert.Equal(t, "new@x.com", active.Collected["email"])

	h.say(t, "s1", "Ada")
	resp = h.say(t, "s1", "+1 555 0100")
	assert.Equal(t, "product_ids", resp.Field)

	resp = h.say(t, "s1", "p1")
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, "customer-1", resp.Result["customer_id"])

	_, err = h.engine.Inspect(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound, "finished sessions are removed")

	trail, err := h.engine.Trail(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "create_customer", trail[0].Workflow)
	assert.Equal(t, middleware.Mask, trail[0].Data["phone"], "PII is masked in the audit trail")
	assert.Equal(t, "Ada", trail[0].Data["name"])
	assert.Equal(t, "create_invoice", trail[1].Workflow)
}

func TestEngine_AbortAndGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrNoActiveWorkflow)

	_, err = h.engine.Abort(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrNoActiveWorkflow)

	_, err = h.engine.Start(ctx, "", "", "create_invoice", nil)
	assert.Error(t, err)

	_, err = h.engine.Start(ctx, "s1", "", "create_invoice", nil)
	require.NoError(t, err)
	h.say(t, "s1", "new@x.com")

	resp, err := h.engine.Abort(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeAborted, resp.Error.Code)
	assert.Len(t, resp.Completed, 2)

	ids, err := h.engine.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 0, h.entities.Count("customer"))
}

func TestEngine_ResumeAfterReconnect(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Start(ctx, "s1", "", "create_invoice", nil)
	require.NoError(t, err)
	h.say(t, "s1", "new@x.com")

	resp, err := h.engine.Resume(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "name", resp.Field)
	assert.Equal(t, 2, resp.Depth)
}

func TestEngine_CorruptedSessionIsReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.Put("s1", []byte("{garbage"))

	_, err := h.engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "hi"})
	assert.ErrorIs(t, err, domain.ErrContextCorrupted)

	_, err = h.engine.Inspect(ctx, "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = h.engine.Start(ctx, "s1", "", "create_invoice", nil)
	assert.NoError(t, err, "the session starts over after a reset")
}

func TestEngine_BusySessionIsRejected(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	h := newHarness(t, espalier.WithMetrics(metrics))
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	h.actions.Register("create_customer", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		close(entered)
		<-release
		return map[string]any{"id": "c-1"}, nil
	})

	_, err := h.engine.Start(ctx, "s1", "", "create_customer", nil)
	require.NoError(t, err)
	h.say(t, "s1", "a@x.com")
	h.say(t, "s1", "Ada")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := h.engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "skip"})
		assert.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, resp.Status)
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("action never started")
	}

	_, err = h.engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "again"})
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	_, err = h.engine.Start(ctx, "s2", "", "create_invoice", nil)
	assert.NoError(t, err, "other sessions are not blocked")

	close(release)
	wg.Wait()

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BusyRejections))
}

func TestEngine_ReplicasRunActionOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mr.FastForward(10 * time.Millisecond)
			}
		}
	}()

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()
	locker := redis.NewLocker(client, "replicas:")

	cfg := espalier.DefaultConfig()
	cfg.ActionTimeout = 2 * time.Second
	opts := []espalier.Option{
		espalier.WithLocker(locker),
		espalier.WithLockTTL(100 * time.Millisecond),
		espalier.WithConfig(cfg),
	}
	a := newHarness(t, opts...)
	b := newHarness(t, append(opts, espalier.WithStore(a.store))...)

	var runs atomic.Int32
	entered := make(chan struct{})
	slow := func(ctx context.Context, data map[string]any) (map[string]any, error) {
		if runs.Add(1) == 1 {
			close(entered)
		}
		time.Sleep(400 * time.Millisecond)
		return map[string]any{"id": "c-1"}, nil
	}
	a.actions.Register("create_customer", slow)
	b.actions.Register("create_customer", slow)

	ctx := context.Background()
	_, err := a.engine.Start(ctx, "s1", "", "create_customer", nil)
	require.NoError(t, err)
	a.say(t, "s1", "a@x.com")
	b.say(t, "s1", "Ada")

	done := make(chan *domain.Response, 1)
	go func() {
		resp, err := a.engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "skip"})
		assert.NoError(t, err)
		done <- resp
	}()

	<-entered
	time.Sleep(250 * time.Millisecond)
	_, err = b.engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "skip"})
	assert.ErrorIs(t, err, domain.ErrSessionBusy, "replica B waits for A's lease even past the lock ttl")

	resp := <-done
	require.NotNil(t, resp)
	assert.Equal(t, domain.StatusCompleted, resp.Status)

	_, err = b.engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "skip"})
	assert.ErrorIs(t, err, domain.ErrNoActiveWorkflow)
	assert.Equal(t, int32(1), runs.Load(), "the frame's action ran exactly once")
}

func TestEngine_RejectsInvalidConfig(t *testing.T) {
	_, err := espalier.New(registry.MustWorkflows(), espalier.WithConfig(espalier.Config{SkipKeyword: "x", AbortKeyword: "x"}))
	assert.Error(t, err)

	_, err = espalier.New(nil)
	assert.Error(t, err)
}
