package transport

import (
	"context"
	"time"
)

// retryWithBackoff runs fn until it succeeds, the attempts are exhausted,
// or the context ends. Delays double from base and are capped at max, so
// a flapping peer costs bounded time rather than unbounded spinning.
func retryWithBackoff(ctx context.Context, attempts int, base, max time.Duration, fn func() error) error {
	delay := base
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > max {
			delay = max
		}
	}
	return err
}
