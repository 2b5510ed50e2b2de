package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// record is the on-disk envelope of a session file.
type record struct {
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Context   json.RawMessage `json:"context"`
}

// Store implements ports.ContextStore using the local filesystem.
// It stores sessions as JSON files in a configured directory.
// The revision check on Save is atomic within one process only.
type Store struct {
	BasePath string

	mu  sync.Mutex // serializes compare-and-write
	now func() time.Time
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".espalier/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".espalier", "sessions")
	}
	return &Store{BasePath: basePath, now: time.Now}
}

func (s *Store) path(sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("sessionID cannot be empty")
	}
	if strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid sessionID %q", sessionID)
	}
	return filepath.Join(s.BasePath, sessionID+".json"), nil
}

// Save persists the context to a JSON file atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) Save(ctx context.Context, sessionID string, wc *domain.WorkflowContext, ttl time.Duration) error {
	destPath, err := s.path(sessionID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	payload, err := domain.MarshalNext(wc)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	rec := record{Context: payload}
	if ttl > 0 {
		exp := s.now().Add(ttl).UTC()
		rec.ExpiresAt = &exp
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	cur, exists, err := s.read(destPath)
	if err != nil {
		return err
	}
	if exists {
		if stored, err = domain.RevisionOf(cur.Context); err != nil {
			return err
		}
	}
	if err := domain.CheckRevision(wc, stored, exists); err != nil {
		return err
	}

	// Same directory, so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+sessionID+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// On Windows, os.Rename fails if dest exists.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing session file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to valid session: %w", err)
	}
	wc.SetRevision(stored + 1)
	return nil
}

// read returns the live record at path. Expired records are removed and
// reported as absent.
func (s *Store) read(path string) (record, bool, error) {
	var rec record
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("failed to read session file: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, false, fmt.Errorf("%w: %v", domain.ErrContextCorrupted, err)
	}
	if rec.ExpiresAt != nil && !s.now().Before(*rec.ExpiresAt) {
		_ = os.Remove(path)
		return rec, false, nil
	}
	return rec, true, nil
}

// Load retrieves the context from its JSON file. Expired files are removed
// and reported as not found.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.WorkflowContext, error) {
	filePath, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}

	rec, ok, err := s.read(filePath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return domain.UnmarshalContext(rec.Context)
}

// Delete removes the session file.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	filePath, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// List returns all session IDs with a file in the base directory.
// Expiry is only checked on Load.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(sessions)
	return sessions, nil
}
