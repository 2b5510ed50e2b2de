package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

type entry struct {
	data      []byte
	expiresAt time.Time // Zero means no expiry
}

// Store implements ports.ContextStore in memory.
// Contexts are kept serialized so callers never share frames with the store.
// Safe for concurrent use.
type Store struct {
	data map[string]entry
	mu   sync.RWMutex
	now  func() time.Time
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Save persists the context in memory if its revision still matches the stored one.
func (s *Store) Save(ctx context.Context, sessionID string, wc *domain.WorkflowContext, ttl time.Duration) error {
	data, err := domain.MarshalNext(wc)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	now := s.now()
	e := entry{data: data}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	cur, exists := s.data[sessionID]
	exists = exists && !cur.expired(now)
	if exists {
		if stored, err = domain.RevisionOf(cur.data); err != nil {
			return err
		}
	}
	if err := domain.CheckRevision(wc, stored, exists); err != nil {
		return err
	}

	s.data[sessionID] = e
	wc.SetRevision(stored + 1)
	return nil
}

// Load retrieves the context from memory.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.WorkflowContext, error) {
	s.mu.RLock()
	e, ok := s.data[sessionID]
	s.mu.RUnlock()

	if !ok || e.expired(s.now()) {
		return nil, domain.ErrSessionNotFound
	}
	return domain.UnmarshalContext(e.data)
}

// Delete removes the context.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns live sessions, dropping expired ones.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sessions := make([]string, 0, len(s.data))
	for id, e := range s.data {
		if e.expired(now) {
			delete(s.data, id)
			continue
		}
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Put stores raw bytes for a session. Tests use it to plant corrupted payloads.
func (s *Store) Put(sessionID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sessionID] = entry{data: data}
}
