package runner

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// IOHandler defines the strategy for interacting with the user.
// This allows switching between Text (CLI/TUI) and JSON (Structured) modes.
type IOHandler interface {
	// Output presents the engine response of a turn.
	Output(ctx context.Context, resp *domain.Response) error

	// Input reads the next message from the user.
	Input(ctx context.Context) (string, error)

	// SystemOutput presents a meta-message to the user (e.g. confirmations, status updates).
	// This is distinct from workflow prompts.
	SystemOutput(ctx context.Context, msg string) error
}

// ContentRenderer is a function that transforms a prompt before it is printed.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)
