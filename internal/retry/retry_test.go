package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastConfig(retries int) *Config {
	return &Config{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 0.25, cfg.JitterFactor)
}

func TestConfig_Getters(t *testing.T) {
	t.Parallel()

	var nilCfg *Config
	assert.Equal(t, DefaultMaxRetries, nilCfg.GetMaxRetries())
	assert.Equal(t, DefaultInitialBackoff, nilCfg.GetInitialBackoff())
	assert.Equal(t, DefaultMaxBackoff, nilCfg.GetMaxBackoff())
	assert.Equal(t, 0.0, nilCfg.GetJitterFactor())

	cfg := &Config{MaxRetries: -2, JitterFactor: 3}
	assert.Equal(t, 0, cfg.GetMaxRetries())
	assert.Equal(t, MaxJitterFactor, cfg.GetJitterFactor())
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var retried []int

	res, err := Do(context.Background(), fastConfig(3), func(_ context.Context, attempt int) error {
		calls.Add(1)
		if attempt < 2 {
			return errTransient
		}
		return nil
	}, &Options{OnRetry: func(attempt int, err error, _ time.Duration) {
		retried = append(retried, attempt)
		assert.ErrorIs(t, err, errTransient)
	}})

	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	res, err := Do(context.Background(), fastConfig(2), func(context.Context, int) error {
		return errTransient
	}, nil)

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, res.Attempts)
}

func TestDo_ZeroRetries(t *testing.T) {
	t.Parallel()

	res, err := Do(context.Background(), fastConfig(0), func(context.Context, int) error {
		return errTransient
	}, nil)

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, res.Attempts)
}

func TestDo_ShouldRetryStops(t *testing.T) {
	t.Parallel()

	res, err := Do(context.Background(), fastConfig(5), func(context.Context, int) error {
		return errTransient
	}, &Options{ShouldRetry: func(error) bool { return false }})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, res.Attempts)
}

func TestDo_Permanent(t *testing.T) {
	t.Parallel()

	res, err := Do(context.Background(), fastConfig(5), func(context.Context, int) error {
		return Permanent(errTransient)
	}, nil)

	assert.Equal(t, errTransient, err)
	assert.False(t, IsPermanent(err))
	assert.Equal(t, 1, res.Attempts)
	assert.Nil(t, Permanent(nil))
	assert.True(t, IsPermanent(Permanent(errTransient)))
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, cfg, func(context.Context, int) error { return errTransient }, nil)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, errTransient)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDo_ContextAlreadyDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Do(ctx, fastConfig(3), func(context.Context, int) error {
		t.Fatal("fn must not be called")
		return nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Attempts)
}

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{name: "first", attempt: 0, min: 100 * time.Millisecond, max: 125 * time.Millisecond},
		{name: "second", attempt: 1, min: 200 * time.Millisecond, max: 250 * time.Millisecond},
		{name: "capped", attempt: 10, min: time.Second, max: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := CalculateBackoff(tt.attempt, 100*time.Millisecond, time.Second, 0.25)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}
