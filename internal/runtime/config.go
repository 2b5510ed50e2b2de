package runtime

import (
	"fmt"
	"time"
)

// Config holds the orchestrator tunables. It is immutable once handed to NewOrchestrator.
type Config struct {
	// MaxRetries is the number of rejected answers after which a field fails its frame.
	MaxRetries int

	// SkipKeyword leaves an optional field blank. Matched case-insensitively.
	SkipKeyword string

	// AbortKeyword clears the whole stack. Matched case-insensitively.
	AbortKeyword string

	ExtractTimeout time.Duration
	LookupTimeout  time.Duration
	ActionTimeout  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		SkipKeyword:    "skip",
		AbortKeyword:   "/abort",
		ExtractTimeout: 5 * time.Second,
		LookupTimeout:  5 * time.Second,
		ActionTimeout:  30 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.SkipKeyword == "" {
		c.SkipKeyword = d.SkipKeyword
	}
	if c.AbortKeyword == "" {
		c.AbortKeyword = d.AbortKeyword
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = d.ExtractTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d.ActionTimeout
	}
	return c
}

// TurnBudget is the longest a single turn can spend in external calls: one
// extraction, one lookup and a terminal action for every frame of a full
// stack, since a completing child can complete its parents in the same turn.
func (c Config) TurnBudget(maxDepth int) time.Duration {
	c = c.withDefaults()
	return c.ExtractTimeout + c.LookupTimeout + time.Duration(maxDepth)*c.ActionTimeout
}

// Validate rejects configurations the orchestrator cannot honour.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.SkipKeyword != "" && c.SkipKeyword == c.AbortKeyword {
		return fmt.Errorf("skip and abort keywords must differ")
	}
	return nil
}
