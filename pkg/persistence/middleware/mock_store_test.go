package middleware_test

import (
	"context"
	"sort"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// MockStore is a simple map-based store for testing middleware.
// It keeps the serialized form so tests can inspect what reached the backend.
type MockStore struct {
	data map[string][]byte
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string][]byte),
	}
}

func (s *MockStore) Save(ctx context.Context, sessionID string, wc *domain.WorkflowContext, ttl time.Duration) error {
	raw, err := domain.MarshalNext(wc)
	if err != nil {
		return err
	}
	s.data[sessionID] = raw
	wc.SetRevision(wc.Revision() + 1)
	return nil
}

func (s *MockStore) Load(ctx context.Context, sessionID string) (*domain.WorkflowContext, error) {
	raw, ok := s.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return domain.UnmarshalContext(raw)
}

func (s *MockStore) Delete(ctx context.Context, sessionID string) error {
	delete(s.data, sessionID)
	return nil
}

func (s *MockStore) List(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Raw returns the bytes stored for sessionID.
func (s *MockStore) Raw(sessionID string) string {
	return string(s.data[sessionID])
}

var _ ports.ContextStore = (*MockStore)(nil)

// mockSink collects audit records.
type mockSink struct {
	records []domain.AuditRecord
}

func (s *mockSink) Append(ctx context.Context, rec domain.AuditRecord) error {
	s.records = append(s.records, rec)
	return nil
}
