package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/appforge/internal/errors"
)

// fastConfig records requested delays instead of sleeping.
func fastConfig(retries int, slept *[]time.Duration) Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = retries
	cfg.sleep = func(ctx context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return ctx.Err()
	}
	return cfg
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3, nil), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3, nil), func(ctx context.Context) error {
		calls++
		return perrors.NewAPIError("llm", 401, "unauthorized")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryableError_EventualSuccess(t *testing.T) {
	var slept []time.Duration
	calls := 0
	err := Do(context.Background(), fastConfig(3, &slept), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return perrors.ErrTimeout
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestDo_RetryableError_AllFail(t *testing.T) {
	var slept []time.Duration
	calls := 0
	err := Do(context.Background(), fastConfig(3, &slept), func(ctx context.Context) error {
		calls++
		return perrors.NewAPIError("llm", 429, "rate limit")
	})
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, slept)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fastConfig(3, nil), func(ctx context.Context) error {
		calls++
		return perrors.ErrTimeout
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_GenericNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3, nil), func(ctx context.Context) error {
		calls++
		return errors.New("generic error")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestValue_ReturnsResult(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fastConfig(2, nil), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", perrors.NewAPIError("llm", 503, "unavailable")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestConfig_DelayClampsToLastStep(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.delay(0))
	assert.Equal(t, 4*time.Second, cfg.delay(2))
	assert.Equal(t, 4*time.Second, cfg.delay(7))
	assert.Equal(t, time.Duration(0), Config{}.delay(1))
}
