package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the adapters.
const DefaultPrefix = "espalier:session:"

// farFuture is the index score of contexts without expiry (2100-01-01).
const farFuture = 4102444800

// Store implements ports.ContextStore using Redis.
// Contexts are stored as JSON strings next to a ZSET index scored by expiry.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the default expiration for sessions saved without one.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client exposes the underlying client so the locker and audit log can share it.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save persists the context to Redis. The write is a WATCH/MULTI transaction
// that fails with domain.ErrStaleContext when another writer got there first.
func (s *Store) Save(ctx context.Context, sessionID string, wc *domain.WorkflowContext, ttl time.Duration) error {
	data, err := domain.MarshalNext(wc)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	key := s.key(sessionID)
	var stored int64
	txf := func(tx *backend.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		exists := err == nil
		if err != nil && !errors.Is(err, backend.Nil) {
			return fmt.Errorf("failed to read current revision: %w", err)
		}
		if exists {
			if stored, err = domain.RevisionOf(cur); err != nil {
				return err
			}
		}
		if err := domain.CheckRevision(wc, stored, exists); err != nil {
			return err
		}

		score := float64(time.Now().Add(ttl).Unix())
		if ttl == 0 {
			score = farFuture
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			// Use 0 for no expiration if ttl is not set.
			pipe.Set(ctx, key, data, ttl)
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{
				Score:  score,
				Member: sessionID,
			})
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	switch {
	case errors.Is(err, backend.TxFailedErr):
		return fmt.Errorf("%w: session %s was written during the save", domain.ErrStaleContext, sessionID)
	case errors.Is(err, domain.ErrStaleContext):
		return err
	case err != nil:
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	wc.SetRevision(stored + 1)
	return nil
}

// Load retrieves the context from Redis.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.WorkflowContext, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	wc, err := domain.UnmarshalContext(val)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return wc, nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()

	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)

	_, err := pipe.Exec(ctx)
	return err
}

// List returns live sessions from the index, pruning expired entries first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())

	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
