package runtime

import (
	"context"
	"fmt"
	"time"
)

// bounded runs call with a context that expires after timeout and stops
// waiting at the deadline even when call ignores its context. A result that
// arrives late is dropped. On expiry the error is the context's
// (context.DeadlineExceeded, or context.Canceled when ctx itself ended).
func bounded[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: fmt.Errorf("panic: %v", r)}
			}
			done <- out
		}()
		out.value, out.err = call(cctx)
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-cctx.Done():
		var zero T
		return zero, cctx.Err()
	}
}
