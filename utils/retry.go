package utils

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy holds the parameters for the retry strategy. Delays double
// after every failed attempt and are capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *Logger

	// Retryable decides whether an error is worth another attempt.
	// A nil Retryable retries every error.
	Retryable func(error) bool

	// timer is replaced in tests.
	timer backoff.Timer
}

// DefaultRetryPolicy is three attempts with a 4s base delay capped at 10s.
func DefaultRetryPolicy(logger *Logger) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		MaxDelay:    10 * time.Second,
		Logger:      logger,
	}
}

// backOff builds the deterministic exponential schedule for one Do call.
func (r *RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay returns the back-off before attempt number attempt+1.
func (r *RetryPolicy) Delay(attempt int) time.Duration {
	b := r.backOff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do executes fn with exponential back-off retry logic. It stops early when
// the error is not retryable or ctx is done.
func (r *RetryPolicy) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	attempts := max(r.MaxAttempts, 1)

	var (
		attempt   int
		lastErr   error
		permanent bool
	)
	operation := func() error {
		attempt++
		lastErr = fn(ctx)
		if lastErr != nil && r.Retryable != nil && !r.Retryable(lastErr) {
			permanent = true
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}
	notify := func(err error, delay time.Duration) {
		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				operationName, attempt, attempts, err, delay)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.backOff(), uint64(attempts-1)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, r.timer)
	switch {
	case err == nil:
		return nil
	case permanent:
		return lastErr
	case attempt < attempts && ctx.Err() != nil:
		return fmt.Errorf("%s interrupted after %d attempts: %w", operationName, attempt, lastErr)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempt, lastErr)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
