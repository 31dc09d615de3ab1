package callguard

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout = errors.New("call timed out")
	ErrPanic   = errors.New("call panicked")
)

// Do runs fn with a deadline of timeout and returns no later than that deadline,
// even if fn ignores its context. A call that overruns is abandoned: it keeps
// running in its goroutine but its result is discarded. Panics inside fn are
// returned as ErrPanic.
func Do(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fmt.Errorf("callguard: non-positive timeout %s", timeout)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		done <- fn(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return cctx.Err()
	}
}
