package runner

import (
	"log/slog"
	"time"
)

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.Logger = logger
	}
}

// WithInputHandler configures a custom IOHandler.
func WithInputHandler(handler IOHandler) Option {
	return func(r *Runner) {
		r.Handler = handler
	}
}

// WithSessionID sets the session the conversation runs in.
func WithSessionID(id string) Option {
	return func(r *Runner) {
		r.SessionID = id
	}
}

// WithUserID sets the user attached to the session.
func WithUserID(id string) Option {
	return func(r *Runner) {
		r.UserID = id
	}
}

// WithRenderer configures the content renderer (e.g. TUI, Markdown).
// It only applies when no custom handler is set.
func WithRenderer(renderer ContentRenderer) Option {
	return func(r *Runner) {
		r.Renderer = renderer
	}
}

// WithBusyRetry sets how long the runner waits before retrying a turn
// rejected because the session was busy.
func WithBusyRetry(d time.Duration) Option {
	return func(r *Runner) {
		r.BusyRetry = d
	}
}
