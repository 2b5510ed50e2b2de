package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// AuditLog implements ports.AuditSink and ports.AuditReader with one Redis list per session.
type AuditLog struct {
	client *backend.Client
	prefix string
	max    int64
	ttl    time.Duration
}

// AuditOption configures the AuditLog.
type AuditOption func(*AuditLog)

// WithMaxEntries caps each session trail, dropping the oldest records.
func WithMaxEntries(n int64) AuditOption {
	return func(a *AuditLog) {
		a.max = n
	}
}

// WithRetention expires a session trail after its last append.
func WithRetention(ttl time.Duration) AuditOption {
	return func(a *AuditLog) {
		a.ttl = ttl
	}
}

// NewAuditLog creates an audit log sharing the given client.
func NewAuditLog(client *backend.Client, prefix string, opts ...AuditOption) *AuditLog {
	a := &AuditLog{
		client: client,
		prefix: prefix,
		max:    1000,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AuditLog) key(sessionID string) string {
	return a.prefix + "audit:" + sessionID
}

// Append pushes rec to the end of the session trail.
func (a *AuditLog) Append(ctx context.Context, rec domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	key := a.key(rec.SessionID)
	pipe := a.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if a.max > 0 {
		pipe.LTrim(ctx, key, -a.max, -1)
	}
	if a.ttl > 0 {
		pipe.Expire(ctx, key, a.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// Trail returns the session records, oldest first.
func (a *AuditLog) Trail(ctx context.Context, sessionID string) ([]domain.AuditRecord, error) {
	raw, err := a.client.LRange(ctx, a.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}

	out := make([]domain.AuditRecord, 0, len(raw))
	for _, item := range raw {
		var rec domain.AuditRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
