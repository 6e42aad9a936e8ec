package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	// MaxRetries is the number of times to retry a transient shim failure.
	MaxRetries = 3
	// RetryBaseDelay is the initial delay between retries (doubles each attempt).
	RetryBaseDelay = 1 * time.Second
)

// isRetryableError reports whether err looks transient: rate limits,
// server errors, or network/timeout conditions.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") ||
		strings.Contains(s, "500") ||
		strings.Contains(s, "502") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "504") ||
		strings.Contains(s, "connection") ||
		strings.Contains(s, "timeout") ||
		errors.Is(err, context.DeadlineExceeded)
}

// retryWithBackoff executes fn with exponential backoff on retryable
// errors, generalizing the teacher's review/reviewer.go helper of the same
// shape to any result type.
func retryWithBackoff[T any](ctx context.Context, logger *slog.Logger, operation string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if !isRetryableError(lastErr) {
			return result, lastErr
		}
		if attempt < MaxRetries {
			delay := RetryBaseDelay * time.Duration(1<<attempt)
			if logger != nil {
				logger.Warn("retrying after transient error",
					"operation", operation,
					"attempt", attempt+1,
					"max_attempts", MaxRetries+1,
					"delay", delay,
					"error", lastErr,
				)
			}
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return result, fmt.Errorf("max retries exceeded for %s: %w", operation, lastErr)
}
