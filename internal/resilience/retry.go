package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retries with exponential backoff. Zero fields take
// the defaults noted below.
type RetryConfig struct {
	// MaxAttempts counts the first try; 1 disables retries. Default 3.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry. Default 500ms.
	InitialBackoff time.Duration
	// MaxBackoff caps every delay, including server Retry-After hints.
	// Default 30s.
	MaxBackoff time.Duration
	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// backoff doubles per attempt and keeps a random half of the delay, so
// concurrent batches do not retry in lockstep. A larger server hint wins.
func (c RetryConfig) backoff(attempt int, hint time.Duration) time.Duration {
	d := c.InitialBackoff << min(attempt, 20)
	if d <= 0 || d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	half := d / 2
	d = half + time.Duration(rand.Int64N(int64(half)+1))
	if hint > d {
		d = min(hint, c.MaxBackoff)
	}
	return d
}

// Retry calls fn until it succeeds, fails permanently, runs out of attempts
// or ctx ends. The last error is returned.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	var zero T
	var err error
	for attempt := range cfg.MaxAttempts {
		var val T
		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
		if attempt == cfg.MaxAttempts-1 || ctx.Err() != nil || !IsTransient(err) {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
		timer := time.NewTimer(cfg.backoff(attempt, RetryAfter(err)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, err
}

// RetryLogger returns an OnRetry callback that logs each attempt.
func RetryLogger(provider, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying",
			zap.String("provider", provider),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", RetryAfter(err)),
			zap.Error(err),
		)
	}
}
