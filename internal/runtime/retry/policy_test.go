package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
)

func TestDelayDoublesFromBase(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 300 * time.Millisecond}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 300*time.Millisecond, p.Delay(1))
	assert.Equal(t, 600*time.Millisecond, p.Delay(2))
	assert.Equal(t, 1200*time.Millisecond, p.Delay(3))
	assert.Equal(t, 2400*time.Millisecond, p.Delay(4))
}

func TestDelayRespectsCap(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))
	assert.Equal(t, 3*time.Second, p.Delay(10))
}

func TestDoAlwaysFailingStopsAtCeiling(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	var calls int32
	var delays []time.Duration
	var notified []int

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("downstream unavailable")
	}, func(f Failure) {
		notified = append(notified, f.Attempt)
		delays = append(delays, f.Next)
	})

	require.Error(t, err)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, notified)
	assert.Equal(t, []time.Duration{
		time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond, 0,
	}, delays)
}

func TestDoBackoffGrowth(t *testing.T) {
	base := 5 * time.Millisecond
	p := Policy{MaxAttempts: 4, BaseDelay: base}
	var starts []time.Time

	_, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		starts = append(starts, time.Now())
		return errors.New("fail")
	}, nil)
	require.Error(t, err)
	require.Len(t, starts, 4)

	for k := 2; k <= 4; k++ {
		gap := starts[k-1].Sub(starts[k-2])
		minimum := base * time.Duration(1<<(k-2))
		assert.GreaterOrEqual(t, gap, minimum, "delay before attempt %d", k)
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoPermanentErrorStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	var lastNext time.Duration = -1

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return errspkg.Permanent(errors.New("invalid order"))
	}, func(f Failure) {
		lastNext = f.Next
	})

	require.Error(t, err)
	assert.True(t, errspkg.IsPermanent(err))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, time.Duration(0), lastNext)
}

func TestDoTimeoutCountsAsFailedAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, AttemptTimeout: 20 * time.Millisecond}
	release := make(chan struct{})
	defer close(release)

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		<-release // ignores its context on purpose
		return nil
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrAttemptTimeout)
	assert.Equal(t, 2, attempts)
}

func TestDoReportsFailuresFromTheCallingGoroutine(t *testing.T) {
	timeout := 10 * time.Millisecond
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, AttemptTimeout: timeout}
	var failures []Failure

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		time.Sleep(3 * timeout) // outlives its deadline
		return nil
	}, func(f Failure) {
		failures = append(failures, f)
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	require.Len(t, failures, 3)
	for i, f := range failures {
		assert.Equal(t, i+1, f.Attempt)
		assert.ErrorIs(t, f.Err, errspkg.ErrAttemptTimeout)
		assert.GreaterOrEqual(t, f.Elapsed, timeout)
		assert.False(t, f.StartedAt.IsZero())
	}
}

func TestDoPanicIsRecovered(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, AttemptTimeout: time.Second}

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		panic("nil map")
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrHandlerPanic)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "nil map", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, 2, attempts)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	attempts, err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), time.Minute)
	assert.Error(t, ctx.Err())
}

func TestDoZeroPolicyRunsOnce(t *testing.T) {
	attempts, err := Policy{}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
