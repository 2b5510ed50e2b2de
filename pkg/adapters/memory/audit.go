package memory

import (
	"context"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// AuditLog implements ports.AuditSink and ports.AuditReader in memory.
type AuditLog struct {
	mu      sync.RWMutex
	records map[string][]domain.AuditRecord
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{records: make(map[string][]domain.AuditRecord)}
}

// Append records rec under its session.
func (a *AuditLog) Append(ctx context.Context, rec domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[rec.SessionID] = append(a.records[rec.SessionID], rec)
	return nil
}

// Trail returns the session records, oldest first.
func (a *AuditLog) Trail(ctx context.Context, sessionID string) ([]domain.AuditRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.AuditRecord, len(a.records[sessionID]))
	copy(out, a.records[sessionID])
	return out, nil
}
