package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RetryConfig controls linear-backoff retry behavior. Delay before attempt n
// (1-based, counting the first retry as 1) is InitialBackoff * n, capped at
// MaxBackoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// InitialBackoff is the base delay. The wait before retry n is
	// InitialBackoff * n.
	InitialBackoff time.Duration

	// MaxBackoff caps the per-retry delay. Zero means no cap.
	MaxBackoff time.Duration

	// JitterFraction adds up to this fraction of random extra delay.
	JitterFraction float64

	// ShouldRetry decides whether an error is retryable. Defaults to
	// IsTransient.
	ShouldRetry func(error) bool

	// OnRetry is called before each sleep with the attempt number that
	// just failed and the error.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = IsTransient
	}
	return c
}

func (c RetryConfig) backoffFor(attempt int) time.Duration {
	d := c.InitialBackoff * time.Duration(attempt)
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	if c.JitterFraction > 0 {
		d += time.Duration(rand.Float64() * c.JitterFraction * float64(d))
	}
	return d
}

// Do runs fn up to cfg.MaxAttempts times, sleeping a linearly growing delay
// between attempts. Non-retryable errors and context cancellation stop
// immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, eris.Wrap(err, "resilience: context canceled before attempt")
		}

		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if !cfg.ShouldRetry(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := cfg.backoffFor(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, eris.Wrap(ctx.Err(), "resilience: context canceled during backoff")
		case <-timer.C:
		}
	}

	return zero, eris.Wrapf(lastErr, "resilience: exhausted %d attempts", cfg.MaxAttempts)
}

// RetryLogger returns an OnRetry callback that logs each retry at warn level
// with the given operation name.
func RetryLogger(op string) func(int, error, time.Duration) {
	return func(attempt int, err error, backoff time.Duration) {
		zap.L().Warn("retrying after transient failure",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
	}
}
