// Package config loads the espalier process configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/session"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config is the process configuration of the espalier binary.
type Config struct {
	// Workflows is a workflow file or a directory of them.
	Workflows string `koanf:"workflows"`

	// Actions is the process action registry (actions.yaml).
	Actions string `koanf:"actions"`

	Log        LogConfig        `koanf:"log"`
	Store      StoreConfig      `koanf:"store"`
	Redis      RedisConfig      `koanf:"redis"`
	Encryption EncryptionConfig `koanf:"encryption"`
	Session    SessionConfig    `koanf:"session"`
	Runtime    RuntimeConfig    `koanf:"runtime"`
	Server     ServerConfig     `koanf:"server"`
	Audit      AuditConfig      `koanf:"audit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type StoreConfig struct {
	Driver string        `koanf:"driver"`
	Path   string        `koanf:"path"`
	TTL    time.Duration `koanf:"ttl"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// EncryptionConfig holds hex or base64 encoded 32-byte keys.
// An empty Key disables encryption at rest.
type EncryptionConfig struct {
	Key          string   `koanf:"key"`
	FallbackKeys []string `koanf:"fallback_keys"`
}

type SessionConfig struct {
	BusyPolicy string        `koanf:"busy_policy"`
	MaxDepth   int           `koanf:"max_depth"`
	LockTTL    time.Duration `koanf:"lock_ttl"`
}

type RuntimeConfig struct {
	MaxRetries     int           `koanf:"max_retries"`
	SkipKeyword    string        `koanf:"skip_keyword"`
	AbortKeyword   string        `koanf:"abort_keyword"`
	ExtractTimeout time.Duration `koanf:"extract_timeout"`
	LookupTimeout  time.Duration `koanf:"lookup_timeout"`
	ActionTimeout  time.Duration `koanf:"action_timeout"`
}

type ServerConfig struct {
	Addr        string  `koanf:"addr"`
	MetricsAddr string  `koanf:"metrics_addr"`
	RateLimit   float64 `koanf:"rate_limit"` // requests per second per client, zero disables
	RateBurst   int     `koanf:"rate_burst"`
}

type AuditConfig struct {
	Enabled     bool     `koanf:"enabled"`
	PIIPatterns []string `koanf:"pii_patterns"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
	}
	if cfg.Store.Driver == StoreFile && cfg.Store.Path == "" {
		cfg.Store.Path = ".espalier/sessions"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "espalier:"
	}
	if cfg.Session.BusyPolicy == "" {
		cfg.Session.BusyPolicy = string(session.BusyReject)
	}
	if cfg.Session.LockTTL == 0 {
		cfg.Session.LockTTL = session.DefaultLockTTL
	}

	d := runtime.DefaultConfig()
	if cfg.Runtime.MaxRetries == 0 {
		cfg.Runtime.MaxRetries = d.MaxRetries
	}
	if cfg.Runtime.SkipKeyword == "" {
		cfg.Runtime.SkipKeyword = d.SkipKeyword
	}
	if cfg.Runtime.AbortKeyword == "" {
		cfg.Runtime.AbortKeyword = d.AbortKeyword
	}
	if cfg.Runtime.ExtractTimeout == 0 {
		cfg.Runtime.ExtractTimeout = d.ExtractTimeout
	}
	if cfg.Runtime.LookupTimeout == 0 {
		cfg.Runtime.LookupTimeout = d.LookupTimeout
	}
	if cfg.Runtime.ActionTimeout == 0 {
		cfg.Runtime.ActionTimeout = d.ActionTimeout
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = int(cfg.Server.RateLimit) + 1
	}
}

// Normalize fills defaults left empty by later overrides (e.g. command line
// flags) and validates the result.
func (c *Config) Normalize() error {
	applyDefaults(c)
	return c.Validate()
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return fmt.Errorf("unknown store driver %q (want memory, file or redis)", c.Store.Driver)
	}
	switch session.BusyPolicy(c.Session.BusyPolicy) {
	case session.BusyReject, session.BusyWait:
	default:
		return fmt.Errorf("unknown busy policy %q (want reject or wait)", c.Session.BusyPolicy)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Session.MaxDepth < 0 {
		return fmt.Errorf("session.max_depth must not be negative")
	}
	if c.Store.TTL < 0 {
		return fmt.Errorf("store.ttl must not be negative")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if err := c.RuntimeConfig().Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}

	depth := c.Session.MaxDepth
	if depth == 0 {
		depth = domain.DefaultMaxDepth
	}
	if budget := c.RuntimeConfig().TurnBudget(depth); c.Session.LockTTL <= budget {
		return fmt.Errorf("session.lock_ttl %s must exceed the turn budget %s (extract + lookup + max_depth x action timeouts)",
			c.Session.LockTTL, budget)
	}
	return nil
}

// RuntimeConfig converts the runtime section into orchestrator tunables.
func (c *Config) RuntimeConfig() runtime.Config {
	return runtime.Config{
		MaxRetries:     c.Runtime.MaxRetries,
		SkipKeyword:    c.Runtime.SkipKeyword,
		AbortKeyword:   c.Runtime.AbortKeyword,
		ExtractTimeout: c.Runtime.ExtractTimeout,
		LookupTimeout:  c.Runtime.LookupTimeout,
		ActionTimeout:  c.Runtime.ActionTimeout,
	}
}
