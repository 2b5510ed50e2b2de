package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/adapters/redis"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// followWallClock advances miniredis time in step with real time, so keys
// expire while a test sleeps.
func followWallClock(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
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
	t.Cleanup(func() {
		close(stop)
		wg.Wait()
	})
}

func newLocker(t *testing.T) (*miniredis.Miniredis, *redis.Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.NewLocker(client, "t:")
}

func TestManager_LeaseOutlivesLockTTL(t *testing.T) {
	mr, locker := newLocker(t)
	followWallClock(t, mr)

	store := memory.NewStore()
	replicaA := session.NewManager(store, session.WithLocker(locker), session.WithLockTTL(100*time.Millisecond))
	replicaB := session.NewManager(store, session.WithLocker(locker), session.WithLockTTL(100*time.Millisecond))
	ctx := context.Background()

	entered := make(chan struct{})
	errA := make(chan error, 1)
	go func() {
		errA <- replicaA.Update(ctx, "s1", "u1", func(ctx context.Context, wc *domain.WorkflowContext) error {
			close(entered)
			time.Sleep(400 * time.Millisecond)
			return pushCounter(ctx, wc)
		})
	}()

	<-entered
	time.Sleep(250 * time.Millisecond)
	err := replicaB.Update(ctx, "s1", "u1", pushCounter)
	assert.ErrorIs(t, err, domain.ErrSessionBusy, "the lock is still held past its ttl")

	require.NoError(t, <-errA)
	assert.False(t, mr.Exists("t:lock:s1"), "released after the turn")

	wc, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), wc.Revision())
}

func TestManager_LostLeaseRefusesSave(t *testing.T) {
	t.Run("renewal notices takeover", func(t *testing.T) {
		mr, locker := newLocker(t)
		store := memory.NewStore()
		mgr := session.NewManager(store, session.WithLocker(locker), session.WithLockTTL(90*time.Millisecond))
		ctx := context.Background()

		err := mgr.Update(ctx, "s1", "u1", func(ctx context.Context, wc *domain.WorkflowContext) error {
			require.NoError(t, pushCounter(ctx, wc))
			require.NoError(t, mr.Set("t:lock:s1", "another-replica"))

			select {
			case <-ctx.Done():
				assert.ErrorIs(t, context.Cause(ctx), domain.ErrLockLost)
			case <-time.After(time.Second):
				t.Error("turn context was not cancelled")
			}
			return nil
		})
		assert.ErrorIs(t, err, domain.ErrLockLost)

		_, err = store.Load(ctx, "s1")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "nothing was written")
		got, _ := mr.Get("t:lock:s1")
		assert.Equal(t, "another-replica", got, "the new owner keeps its lock")
	})

	t.Run("checked again before the write", func(t *testing.T) {
		mr, locker := newLocker(t)
		store := memory.NewStore()
		mgr := session.NewManager(store, session.WithLocker(locker), session.WithLockTTL(time.Minute))
		ctx := context.Background()

		err := mgr.Update(ctx, "s1", "u1", func(ctx context.Context, wc *domain.WorkflowContext) error {
			mr.Del("t:lock:s1")
			return pushCounter(ctx, wc)
		})
		assert.ErrorIs(t, err, domain.ErrLockLost)

		_, err = store.Load(ctx, "s1")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

func TestManager_StaleWriteIsRejected(t *testing.T) {
	store := memory.NewStore()
	replicaA := session.NewManager(store)
	replicaB := session.NewManager(store)
	ctx := context.Background()

	require.NoError(t, replicaA.Update(ctx, "s1", "u1", pushCounter))

	loaded := make(chan struct{})
	proceed := make(chan struct{})
	errA := make(chan error, 1)
	go func() {
		errA <- replicaA.Update(ctx, "s1", "u1", func(ctx context.Context, wc *domain.WorkflowContext) error {
			close(loaded)
			<-proceed
			return pushCounter(ctx, wc)
		})
	}()

	<-loaded
	require.NoError(t, replicaB.Update(ctx, "s1", "u1", pushCounter))
	close(proceed)

	assert.ErrorIs(t, <-errA, domain.ErrStaleContext)

	wc, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), wc.Revision(), "only the second replica's write landed")
}
