// Package retry runs a handler attempt loop with exponential backoff, a per
// attempt timeout and panic recovery.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failure. Each later wait doubles.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero leaves it uncapped.
	MaxDelay time.Duration
	// AttemptTimeout bounds one invocation. Zero disables the bound.
	AttemptTimeout time.Duration
}

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Failure describes one failed attempt. It is built on the goroutine that
// called Do, never on the one running the attempt.
type Failure struct {
	Attempt   int
	Err       error
	StartedAt time.Time
	Elapsed   time.Duration
	// Next is the wait before the following attempt, zero when no further
	// attempt will be made.
	Next time.Duration
}

// Notify observes a failed attempt.
type Notify func(f Failure)

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Duration(math.MaxInt64)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	b.Reset()
	return b
}

// Delay returns the wait that follows the given number of failures,
// base*2^(failures-1), capped by MaxDelay.
func (p Policy) Delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	b := p.withDefaults().backOff()
	var d time.Duration
	for i := 0; i < failures; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do runs op until it succeeds, returns a permanent error, the attempts run
// out, or ctx is cancelled. It returns the number of attempts made and the
// last error. Attempts never exceed MaxAttempts.
func (p Policy) Do(ctx context.Context, op Operation, notify Notify) (int, error) {
	p = p.withDefaults()
	b := p.backOff()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		started := time.Now()
		lastErr = p.runAttempt(ctx, attempt, op)
		elapsed := time.Since(started)
		if lastErr == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, lastErr
		}

		final := attempt == p.MaxAttempts || errspkg.IsPermanent(lastErr)
		var next time.Duration
		if !final {
			next = b.NextBackOff()
		}
		if notify != nil {
			notify(Failure{Attempt: attempt, Err: lastErr, StartedAt: started, Elapsed: elapsed, Next: next})
		}
		if final {
			return attempt, lastErr
		}
		if err := sleep(ctx, next); err != nil {
			return attempt, lastErr
		}
	}
	return p.MaxAttempts, lastErr
}

func (p Policy) runAttempt(ctx context.Context, attempt int, op Operation) error {
	if p.AttemptTimeout <= 0 {
		return safeCall(ctx, attempt, op)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	// a handler that ignores its context keeps running in the background;
	// the buffered channel lets it finish without blocking
	done := make(chan error, 1)
	go func() {
		done <- safeCall(attemptCtx, attempt, op)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			// the handler noticed its deadline before we did
			return fmt.Errorf("%w after %s: %v", errspkg.ErrAttemptTimeout, p.AttemptTimeout, err)
		}
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", errspkg.ErrAttemptTimeout, p.AttemptTimeout)
	}
}

func safeCall(ctx context.Context, attempt int, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return op(ctx, attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PanicError is returned when an attempt panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", errspkg.ErrHandlerPanic, e.Value)
}

func (e *PanicError) Unwrap() error {
	return errspkg.ErrHandlerPanic
}
