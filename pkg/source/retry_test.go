package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), nil, RetryPolicy{Attempts: 5, Base: time.Millisecond}, "history", func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), nil, RetryPolicy{Attempts: 3, Base: time.Millisecond}, "history", func() error {
		calls++
		return Transient(errors.New("still down"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err))
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("bad request")
	err := Retry(context.Background(), nil, RetryPolicy{Attempts: 5, Base: time.Millisecond}, "resolve", func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryWaitDoesNotConsumeAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), nil, RetryPolicy{Attempts: 1, WaitCap: 5 * time.Millisecond}, "history", func() error {
		calls++
		if calls == 1 {
			return Wait("flood", time.Millisecond, errors.New("FLOOD_WAIT_1"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryCapsServerWait(t *testing.T) {
	start := time.Now()
	calls := 0
	err := Retry(context.Background(), nil, RetryPolicy{Attempts: 1, WaitCap: 10 * time.Millisecond}, "history", func() error {
		calls++
		if calls == 1 {
			return Wait("flood", time.Hour, errors.New("FLOOD_WAIT_3600"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := Retry(ctx, nil, RetryPolicy{Attempts: 1, WaitCap: time.Minute}, "history", func() error {
		return Wait("slowmode", 30*time.Second, errors.New("SLOWMODE_WAIT_30"))
	})
	require.Error(t, err)
	w, ok := AsWait(err)
	require.True(t, ok)
	assert.Equal(t, "slowmode", w.Kind)
}

func TestAsWaitSeesWrappedErrors(t *testing.T) {
	err := fmt.Errorf("page 3: %w", Wait("flood", 7*time.Second, errors.New("FLOOD_WAIT_7")))
	w, ok := AsWait(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, w.Duration)
	assert.Equal(t, "flood", w.Kind)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Transient(errors.New("eof"))))
	assert.True(t, IsTransient(Wait("flood", time.Second, errors.New("x"))))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(ErrUnresolvable))
}
