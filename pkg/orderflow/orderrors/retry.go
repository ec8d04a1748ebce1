package orderrors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures the collaborator-client retry wrapper.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64
	RetryableFunc  func(error) bool
}

// DefaultRetry is used by every collaborator client unless
// collaborator.retryMaxAttempts overrides MaxAttempts.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry disables retries: the wrapped call runs exactly once, with no
// backoff.
var NoRetry = RetryConfig{MaxAttempts: 1}

// RetryResult is the outcome of WithRetryContext.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext executes fn with exponential backoff and jitter,
// retrying only errors Categorize reports as CategoryTransient. It respects
// ctx cancellation both between attempts and during a backoff sleep, so a
// canceled saga step's collaborator call doesn't outlive the step.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	backoff := cfg.InitialBackoff
	var lastErr error

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsRetryable
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RetryResult[T]{
				Err:      Permanent(err, "context cancelled"),
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return RetryResult[T]{Value: result, Attempts: attempt + 1, Duration: time.Since(start)}
		}
		lastErr = err

		if !isRetryable(err) {
			return RetryResult[T]{
				Err:      NewCategorized(err, Categorize(err), "not retryable"),
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		if attempt < cfg.MaxAttempts-1 {
			sleep := calculateBackoff(backoff, cfg.Jitter)
			select {
			case <-ctx.Done():
				return RetryResult[T]{
					Err:      Permanent(ctx.Err(), "context cancelled during backoff"),
					Attempts: attempt + 1,
					Duration: time.Since(start),
				}
			case <-time.After(sleep):
			}
			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return RetryResult[T]{
		Err:      NewCategorized(lastErr, Categorize(lastErr), "max retries exceeded"),
		Attempts: cfg.MaxAttempts,
		Duration: time.Since(start),
	}
}

func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// NewRetryConfig builds a RetryConfig from DefaultRetry with maxAttempts
// overridden, used to apply the collaborator.retryMaxAttempts config key.
func NewRetryConfig(maxAttempts int) RetryConfig {
	cfg := DefaultRetry
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	return cfg
}
