package onboarding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/metrics"
)

// RetryPolicy defines retry behavior of the engine's public operations.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// RetryClientErrors keeps retrying requests the backend rejected as
	// malformed. Pre-flight validation errors are never retried.
	RetryClientErrors bool
}

// DefaultRetryPolicy returns three attempts with 1s, 2s backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		RetryClientErrors: true,
	}
}

// Delay returns the wait after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(1<<(attempt-1))
}

func (p RetryPolicy) retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case gateway.IsValidationError(err):
		return false
	case gateway.IsClientError(err):
		return p.RetryClientErrors
	}
	return true
}

// withRetry runs fn until it succeeds or the policy is exhausted. Attempts
// never overlap; the error of the last attempt is returned.
func (e *Engine) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	p := e.policy
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		e.logger.Debug("onboarding operation attempt", "operation", op, "attempt", attempt, "max_attempts", p.MaxAttempts)

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				e.logger.Info("onboarding operation succeeded after retry", "operation", op, "attempts", attempt)
			}
			return nil
		}

		e.logger.Warn("onboarding operation failed", "operation", op, "attempt", attempt, "max_attempts", p.MaxAttempts, "error", lastErr)
		if !p.retryable(lastErr) || attempt == p.MaxAttempts {
			break
		}

		metrics.OnboardingRetries.WithLabelValues(op).Inc()
		if err := e.sleep(ctx, p.Delay(attempt)); err != nil {
			return fmt.Errorf("%s interrupted after %d attempts: %w", op, attempt, lastErr)
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
