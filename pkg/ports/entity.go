package ports

import "context"

// EntityStore looks up existing records by a search field.
type EntityStore interface {
	// Find returns the identity of the matching record.
	// Returns domain.ErrEntityNotFound when nothing matches; any other error is an
	// infrastructure failure.
	Find(ctx context.Context, entity, searchField string, searchValue any) (any, error)
}
