package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// AuditSink receives a record for every frame that leaves a stack.
type AuditSink interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
}

// AuditReader is implemented by sinks that can replay a session trail.
type AuditReader interface {
	Trail(ctx context.Context, sessionID string) ([]domain.AuditRecord, error)
}
