// Package retry wraps provider calls with backoff on transient errors and a
// one-shot fallback model for permanent "model unavailable" errors.
package retry

import (
	"context"
	"math/rand"
	"time"

	perrors "github.com/p-blackswan/appforge/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Delays is the backoff schedule; retry i waits Delays[min(i, len-1)].
	Delays []time.Duration
	Jitter bool

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig returns the 1s/2s/4s schedule with three retries.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Delays:     []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
	}
}

func (c Config) delay(retry int) time.Duration {
	if len(c.Delays) == 0 {
		return 0
	}
	if retry >= len(c.Delays) {
		retry = len(c.Delays) - 1
	}
	d := c.Delays[retry]
	if c.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}

func (c Config) wait(ctx context.Context, retry int) error {
	d := c.delay(retry)
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do executes fn, retrying only transient errors.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value executes fn and returns its result, retrying only transient errors.
// Any other error propagates immediately.
func Value[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !perrors.IsTransient(err) || attempt == cfg.MaxRetries {
			break
		}
		if werr := cfg.wait(ctx, attempt); werr != nil {
			return zero, werr
		}
	}
	return zero, lastErr
}
