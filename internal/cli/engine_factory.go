package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/pkg/adapters/file"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/adapters/process"
	redisAdapter "github.com/aretw0/espalier/pkg/adapters/redis"
	"github.com/aretw0/espalier/pkg/observability"
	"github.com/aretw0/espalier/pkg/persistence/middleware"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Stack is an engine wired from a Config, with the resources it owns.
type Stack struct {
	Engine   *espalier.Engine
	Config   *config.Config
	Registry *prometheus.Registry
	Actions  *process.Runner

	closers []func() error
}

// Close releases connections opened for the stack.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// StackOption adjusts how NewStack wires the engine.
type StackOption func(*stackOptions)

type stackOptions struct {
	guard func(ports.ActionExecutor) ports.ActionExecutor
	hooks bool
}

// WithActionGuard wraps the action executor, e.g. with a confirmation prompt.
func WithActionGuard(guard func(ports.ActionExecutor) ports.ActionExecutor) StackOption {
	return func(o *stackOptions) {
		o.guard = guard
	}
}

// WithDebugHooks logs every lifecycle event at debug level.
func WithDebugHooks() StackOption {
	return func(o *stackOptions) {
		o.hooks = true
	}
}

// NewStack builds an engine following cfg: workflow files, process actions,
// the configured store (optionally encrypted), a Redis locker and audit log
// when the store is Redis, and Prometheus metrics.
func NewStack(cfg *config.Config, logger *slog.Logger, opts ...StackOption) (*Stack, error) {
	var o stackOptions
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Workflows == "" {
		return nil, errors.New("no workflows configured (set --workflows or workflows in the config file)")
	}
	workflows, err := file.LoadRegistry(cfg.Workflows)
	if err != nil {
		return nil, err
	}

	actionsCfg, err := process.LoadActions(cfg.Actions)
	if err != nil {
		return nil, err
	}
	runner := process.NewRunner(
		process.WithRegistry(actionsCfg),
		process.WithBaseDir(filepath.Dir(cfg.Actions)),
	)

	s := &Stack{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Actions:  runner,
	}
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(s.Registry)

	var actions ports.ActionExecutor = runner
	if o.guard != nil {
		actions = o.guard(actions)
	}

	engineOpts := []espalier.Option{
		espalier.WithLogger(logger),
		espalier.WithConfig(cfg.RuntimeConfig()),
		espalier.WithActions(actions),
		espalier.WithEntities(process.NewLookup(runner, memory.NewEntities())),
		espalier.WithMetrics(metrics),
		espalier.WithBusyPolicy(session.BusyPolicy(cfg.Session.BusyPolicy)),
		espalier.WithTTL(cfg.Store.TTL),
		espalier.WithLockTTL(cfg.Session.LockTTL),
		espalier.WithPIIPatterns(cfg.Audit.PIIPatterns...),
	}
	if cfg.Session.MaxDepth > 0 {
		engineOpts = append(engineOpts, espalier.WithMaxDepth(cfg.Session.MaxDepth))
	}
	if o.hooks {
		engineOpts = append(engineOpts, espalier.WithLifecycleHooks(observability.LogHooks(logger)))
	}

	var store ports.ContextStore
	switch cfg.Store.Driver {
	case config.StoreFile:
		store = file.New(cfg.Store.Path)
		if cfg.Audit.Enabled {
			engineOpts = append(engineOpts, espalier.WithAudit(memory.NewAuditLog()))
		}
	case config.StoreRedis:
		rs := redisAdapter.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redisAdapter.WithPrefix(cfg.Redis.Prefix))
		if err := rs.Client().Ping(context.Background()).Err(); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		s.closers = append(s.closers, rs.Close)
		store = rs
		engineOpts = append(engineOpts, espalier.WithLocker(redisAdapter.NewLocker(rs.Client(), cfg.Redis.Prefix)))
		if cfg.Audit.Enabled {
			engineOpts = append(engineOpts, espalier.WithAudit(redisAdapter.NewAuditLog(rs.Client(), cfg.Redis.Prefix)))
		}
	default:
		store = memory.NewStore()
		if cfg.Audit.Enabled {
			engineOpts = append(engineOpts, espalier.WithAudit(memory.NewAuditLog()))
		}
	}

	if cfg.Encryption.Key != "" {
		encryption, err := newEncryption(cfg.Encryption)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		store = middleware.Chain(store, encryption)
	}
	engineOpts = append(engineOpts, espalier.WithStore(store))

	s.Engine, err = espalier.New(workflows, engineOpts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newEncryption(cfg config.EncryptionConfig) (middleware.Middleware, error) {
	active, err := middleware.ParseKey(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	enc := middleware.EncryptionConfig{ActiveKey: active}
	for i, k := range cfg.FallbackKeys {
		key, err := middleware.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("invalid fallback key %d: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	return middleware.NewEncryptionMiddleware(enc), nil
}
