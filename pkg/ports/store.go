package ports

import (
	"context"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// ContextStore defines the interface for persisting workflow contexts.
// Implementations must serialize the context (domain.MarshalContext) so that
// callers never share frames with the store.
type ContextStore interface {
	// Save persists the context for a given session ID.
	// A zero ttl falls back to the store default, which keeps the context until it is deleted.
	Save(ctx context.Context, sessionID string, wc *domain.WorkflowContext, ttl time.Duration) error

	// Load retrieves the context for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist or has expired,
	// and an error wrapping domain.ErrContextCorrupted if it cannot be decoded.
	Load(ctx context.Context, sessionID string) (*domain.WorkflowContext, error)

	// Delete removes the context for a given session ID. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of every live session.
	List(ctx context.Context) ([]string, error)
}
