package ports

import (
	"context"
	"time"
)

// Lease is a held distributed lock.
type Lease interface {
	// Refresh pushes the expiry to ttl from now. It fails with an error wrapping
	// domain.ErrLockLost when the lock expired or another holder owns it.
	Refresh(ctx context.Context, ttl time.Duration) error

	// Release frees the lock if it is still ours. Releasing a lost lease is a no-op.
	Release(ctx context.Context) error
}

// DistributedLocker defines the interface for distributed concurrency control.
// It allows the session Manager to coordinate access across multiple instances (replicas).
type DistributedLocker interface {
	// Lock acquires the lock for key, blocking until it is acquired or ctx is done.
	// The returned Lease MUST be released.
	Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error)

	// TryLock acquires the lock for key without waiting.
	// Returns domain.ErrSessionBusy when another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
