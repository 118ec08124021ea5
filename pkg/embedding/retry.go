package embedding

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// RetryConfig configures exponential backoff between provider calls.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig retries three times starting at half a second.
func DefaultRetryConfig(maxRetries int) RetryConfig {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
	}
}

// statusError is a non-200 reply from the provider.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return http.StatusText(e.Code) + ": " + e.Body
}

// retryable reports whether another attempt may succeed: rate limits, server
// errors and transport timeouts are retried, everything else is final.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, errEmptyBody)
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// or MaxRetries extra attempts are spent.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	backoff := cfg.BaseDelay

	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt >= cfg.MaxRetries || !retryable(err) {
			return zero, err
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxDelay {
			backoff = cfg.MaxDelay
		}
	}
}
