package store

import (
	"context"
	"fmt"
	"time"
)

// Backoff returns the pause before retry attempt n (0-based): 10ms doubling,
// capped at 500ms.
func Backoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	d := 10 * time.Millisecond << attempt
	if d > 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	return d
}

// Retry runs attempt until it succeeds, returns a non-retryable error, the
// context ends, or maxAttempts is reached. isConflict decides retryability.
// Exhaustion yields an error wrapping ErrConflict.
func Retry(ctx context.Context, maxAttempts int, isConflict func(error) bool, attempt func() error) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	var last error
	for n := 0; n < maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = attempt()
		if last == nil {
			return nil
		}
		if !isConflict(last) {
			return last
		}
		if n == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(n)):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConflict, maxAttempts, last)
}
