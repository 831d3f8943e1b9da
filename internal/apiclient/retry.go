// internal/apiclient/retry.go
package apiclient

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WithRetry runs op up to maxRetries+1 times, sleeping baseDelay*attempt
// between failures. Non-retryable errors and context cancellation stop the
// loop immediately; after the budget is spent the last error propagates
// unchanged.
func WithRetry(ctx context.Context, log *zap.Logger, maxRetries int, baseDelay time.Duration, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			log.Debug("Retrying operation",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
