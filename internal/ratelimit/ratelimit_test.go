package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestQuotaWithinIntervalDoesNotBlock(t *testing.T) {
	l := New(5, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Do(ctx, noop))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 5, l.Used())
}

func TestAcquisitionOverQuotaWaitsForOldestExpiry(t *testing.T) {
	interval := 150 * time.Millisecond
	l := New(3, interval)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Do(ctx, noop))
	}
	require.NoError(t, l.Do(ctx, noop))
	assert.GreaterOrEqual(t, time.Since(start), interval)
	assert.Equal(t, 3, l.Used())
}

func TestFailedScopeRecordsNoPermit(t *testing.T) {
	l := New(1, time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	err := l.Do(ctx, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.Used())

	start := time.Now()
	require.NoError(t, l.Do(ctx, noop))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 1, l.Used())
}

func TestPanicInScopeRecordsNoPermit(t *testing.T) {
	l := New(1, time.Minute)

	func() {
		defer func() { _ = recover() }()
		_ = l.Do(context.Background(), func(context.Context) error { panic("boom") })
	}()
	assert.Equal(t, 0, l.Used())

	// The scope must have been released by the panic.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Do(ctx, noop))
}

func TestWaitIsCancellable(t *testing.T) {
	l := New(1, time.Hour)
	require.NoError(t, l.Do(context.Background(), noop))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	ran := false
	err := l.Do(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)
	assert.Equal(t, 1, l.Used())
}

func TestExpiredPermitsArePruned(t *testing.T) {
	interval := 40 * time.Millisecond
	l := New(2, interval)
	ctx := context.Background()
	require.NoError(t, l.Do(ctx, noop))
	require.NoError(t, l.Do(ctx, noop))

	time.Sleep(interval + 20*time.Millisecond)
	assert.Equal(t, 0, l.Used())

	start := time.Now()
	require.NoError(t, l.Do(ctx, noop))
	assert.Less(t, time.Since(start), interval)
}

func TestScopesAreSerialized(t *testing.T) {
	l := New(10, time.Minute)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.Do(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	second := make(chan struct{})
	go func() {
		_ = l.Do(ctx, func(context.Context) error {
			close(second)
			return nil
		})
	}()

	select {
	case <-second:
		t.Fatal("second scope entered while first was active")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("second scope never entered")
	}
}

func TestNewPanicsOnInvalidQuota(t *testing.T) {
	assert.Panics(t, func() { New(0, time.Second) })
	assert.Panics(t, func() { New(1, 0) })
}
