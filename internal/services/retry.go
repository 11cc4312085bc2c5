package services

import (
	"context"
	"time"
)

// withRetry runs fn up to attempts times with a fixed backoff. It stops early
// when fn succeeds, when retryable rejects the error, or when ctx ends.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, retryable func(error) bool, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
