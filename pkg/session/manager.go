package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// BusyPolicy selects what happens when a turn arrives for a session that is
// already processing another one.
type BusyPolicy string

const (
	// BusyReject fails fast with domain.ErrSessionBusy.
	BusyReject BusyPolicy = "reject"
	// BusyWait queues the turn until the session is free or the context ends.
	BusyWait BusyPolicy = "wait"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
// Live holders renew it every third of the TTL.
const DefaultLockTTL = 3 * time.Minute

// leaseKey carries the held ports.Lease in the context handed to fn.
type leaseKey struct{}

// lockEntry holds the session semaphore and the reference count.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// Turns for the same session are serialized; different sessions run in parallel.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.ContextStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker ports.DistributedLocker // Optional distributed locker
	logger *slog.Logger

	policy   BusyPolicy
	ttl      time.Duration // Context TTL in the store, zero keeps forever
	lockTTL  time.Duration
	maxDepth int
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithBusyPolicy selects between rejecting and queueing concurrent turns.
func WithBusyPolicy(p BusyPolicy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithTTL sets the expiry of stored contexts.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithMaxDepth sets the stack ceiling of contexts created by the Manager.
func WithMaxDepth(depth int) Option {
	return func(m *Manager) {
		m.maxDepth = depth
	}
}

// NewManager creates a new session Manager with the given persistence store.
func NewManager(store ports.ContextStore, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		locks:    make(map[string]*lockEntry),
		logger:   logging.NewNop(), // Default to no-op
		policy:   BusyReject,
		lockTTL:  DefaultLockTTL,
		maxDepth: domain.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST call release(sessionID) once done with the entry.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock executes fn while holding the lock for the session.
// Under BusyReject it returns domain.ErrSessionBusy instead of waiting.
// With a distributed locker the lease is renewed while fn runs; if renewal
// fails, the context passed to fn is cancelled with domain.ErrLockLost as cause.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	defer m.release(sessionID)

	switch m.policy {
	case BusyWait:
		select {
		case entry.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		select {
		case entry.sem <- struct{}{}:
		default:
			return fmt.Errorf("%w: %s", domain.ErrSessionBusy, sessionID)
		}
	}
	defer func() { <-entry.sem }()

	if m.locker != nil {
		var (
			lease ports.Lease
			err   error
		)
		if m.policy == BusyWait {
			lease, err = m.locker.Lock(ctx, sessionID, m.lockTTL)
		} else {
			lease, err = m.locker.TryLock(ctx, sessionID, m.lockTTL)
		}
		if err != nil {
			if errors.Is(err, domain.ErrSessionBusy) {
				return err
			}
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()

		held, lost := context.WithCancelCause(ctx)
		defer lost(nil)
		stop := m.keepAlive(held, lost, sessionID, lease)
		defer stop()
		ctx = context.WithValue(held, leaseKey{}, lease)
	}

	return fn(ctx)
}

// keepAlive refreshes lease until stop is called. A failed refresh cancels
// ctx with a cause wrapping domain.ErrLockLost.
func (m *Manager) keepAlive(ctx context.Context, lost context.CancelCauseFunc, sessionID string, lease ports.Lease) (stop func()) {
	interval := m.lockTTL / 3
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Refresh(ctx, m.lockTTL); err != nil {
					m.logger.Error("Lost distributed session lock",
						"session_id", sessionID,
						"err", err,
					)
					lost(fmt.Errorf("%w: %w", domain.ErrLockLost, err))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// confirmLease refreshes the held lease one last time before a write.
// Without a distributed locker it does nothing.
func (m *Manager) confirmLease(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, domain.ErrLockLost) {
		return cause
	}
	lease, ok := ctx.Value(leaseKey{}).(ports.Lease)
	if !ok {
		return nil
	}
	if err := lease.Refresh(ctx, m.lockTTL); err != nil {
		if errors.Is(err, domain.ErrLockLost) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrLockLost, err)
	}
	return nil
}

// Update runs fn on the session context under the session lock and persists the result.
//
// A missing session starts from an empty context. A corrupted one is reset
// (deleted) and reported with an error wrapping domain.ErrContextCorrupted
// without calling fn. When fn fails nothing is saved. A context whose stack is
// empty after fn is deleted instead of saved.
//
// Nothing is written once the distributed lease is lost (domain.ErrLockLost),
// and the store rejects a save over a newer revision (domain.ErrStaleContext).
func (m *Manager) Update(ctx context.Context, sessionID, userID string, fn func(context.Context, *domain.WorkflowContext) error) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		wc, err := m.store.Load(ctx, sessionID)
		switch {
		case err == nil:
			if wc.UserID() == "" && userID != "" {
				wc.SetUserID(userID)
			}
		case errors.Is(err, domain.ErrSessionNotFound):
			wc = domain.NewContext(sessionID, userID, m.maxDepth)
		case errors.Is(err, domain.ErrContextCorrupted):
			m.logger.Error("Corrupted session context, resetting",
				"session_id", sessionID,
				"err", err,
			)
			if delErr := m.store.Delete(ctx, sessionID); delErr != nil {
				return fmt.Errorf("failed to reset corrupted session: %w", delErr)
			}
			return err
		default:
			return fmt.Errorf("failed to load session: %w", err)
		}

		if err := fn(ctx, wc); err != nil {
			return err
		}
		if err := m.confirmLease(ctx); err != nil {
			return fmt.Errorf("refusing to save session %s: %w", sessionID, err)
		}

		if wc.IsEmpty() {
			if err := m.store.Delete(ctx, sessionID); err != nil {
				return fmt.Errorf("failed to delete finished session: %w", err)
			}
			return nil
		}
		wc.Touch(time.Now())
		if err := m.store.Save(ctx, sessionID, wc, m.ttl); err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

// Load retrieves a snapshot of an existing session from the store.
func (m *Manager) Load(ctx context.Context, sessionID string) (*domain.WorkflowContext, error) {
	return m.store.Load(ctx, sessionID)
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		if err := m.confirmLease(ctx); err != nil {
			return err
		}
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying context store.
func (m *Manager) Store() ports.ContextStore {
	return m.store
}
