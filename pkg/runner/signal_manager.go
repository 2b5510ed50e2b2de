package runner

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// InterruptError is the cancellation cause of a context ended by an OS
// signal. It matches domain.ErrAborted, so the abort it triggers is recorded
// with the signal name.
type InterruptError struct {
	Signal os.Signal
}

func (e *InterruptError) Error() string {
	return "interrupted by " + e.Signal.String()
}

func (e *InterruptError) Unwrap() error { return domain.ErrAborted }

// SignalManager turns SIGINT/SIGTERM into cancellation of the context used to
// wait for input, keeping the signal as the cancellation cause.
// Each Reset arms a new generation; a signal only ends the current one.
type SignalManager struct {
	parent context.Context

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelCauseFunc
	sigs   chan os.Signal
	done   chan struct{}
}

// NewSignalManager creates a new manager and immediately starts listening for signals.
func NewSignalManager(parent context.Context) *SignalManager {
	sm := &SignalManager{parent: parent}
	sm.Reset()
	return sm
}

// Context returns the context of the current generation.
func (sm *SignalManager) Context() context.Context {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.ctx
}

// Cause returns the signal that ended the current generation, or nil when it
// is still live or ended for another reason (Stop, parent cancellation).
func (sm *SignalManager) Cause() *InterruptError {
	var ie *InterruptError
	if errors.As(context.Cause(sm.Context()), &ie) {
		return ie
	}
	return nil
}

// Interrupted reports whether a signal, and not the parent, ended the context.
func (sm *SignalManager) Interrupted() bool {
	return sm.Cause() != nil
}

// Reset re-arms the signal listener.
// Should be called after a signal has been handled to capture subsequent ones.
func (sm *SignalManager) Reset() {
	sm.Stop()

	ctx, cancel := context.WithCancelCause(sm.parent)
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	sm.mu.Lock()
	sm.ctx, sm.cancel, sm.sigs, sm.done = ctx, cancel, sigs, done
	sm.mu.Unlock()

	go func() {
		select {
		case sig := <-sigs:
			cancel(&InterruptError{Signal: sig})
		case <-done:
		case <-ctx.Done():
		}
	}()
}

// Stop permanently stops the signal listener and cancels the current context.
func (sm *SignalManager) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.sigs != nil {
		signal.Stop(sm.sigs)
		close(sm.done)
		sm.sigs = nil
	}
	if sm.cancel != nil {
		sm.cancel(nil)
	}
}

// CheckRace waits briefly to see if a context cancellation follows an error.
// On Windows, Ctrl+C can surface as an input error slightly before the
// signal context is cancelled.
func (sm *SignalManager) CheckRace() {
	ctx := sm.Context()
	if ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
	}
}
