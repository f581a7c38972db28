package transport

import (
	"time"

	"github.com/drblury/eventbus/internal/runtime/deadletter"
	"github.com/drblury/eventbus/internal/runtime/metadata"
)

// AttemptContext describes one handler invocation to hooks.
type AttemptContext struct {
	Topic     string
	MessageID string
	// Attempt starts at 1. Malformed payloads are reported with 0.
	Attempt   int
	Metadata  metadata.Metadata
	StartedAt time.Time
	Duration  time.Duration
}

// Hooks observe the consume lifecycle. All hooks are optional and run on the
// consumer goroutine, so they must not block.
type Hooks struct {
	// OnAttemptFailed is called after every failed handler invocation.
	OnAttemptFailed func(ac AttemptContext, err error)
	// OnDelivered is called once a handler succeeded.
	OnDelivered func(ac AttemptContext)
	// OnDeadLetter is called after a record was written to its dead-letter
	// topic.
	OnDeadLetter func(ac AttemptContext, record deadletter.Record)
}

// Merge combines two Hooks. The hooks from other run after the hooks from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnAttemptFailed: chain2(h.OnAttemptFailed, other.OnAttemptFailed),
		OnDelivered:     chain1(h.OnDelivered, other.OnDelivered),
		OnDeadLetter:    chain2(h.OnDeadLetter, other.OnDeadLetter),
	}
}

// FireAttemptFailed invokes OnAttemptFailed when set.
func (h Hooks) FireAttemptFailed(ac AttemptContext, err error) {
	if h.OnAttemptFailed != nil {
		h.OnAttemptFailed(ac, err)
	}
}

// FireDelivered invokes OnDelivered when set.
func (h Hooks) FireDelivered(ac AttemptContext) {
	if h.OnDelivered != nil {
		h.OnDelivered(ac)
	}
}

// FireDeadLetter invokes OnDeadLetter when set.
func (h Hooks) FireDeadLetter(ac AttemptContext, record deadletter.Record) {
	if h.OnDeadLetter != nil {
		h.OnDeadLetter(ac, record)
	}
}

func chain1[A any](a, b func(A)) func(A) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A) {
		a(x)
		b(x)
	}
}

func chain2[A, B any](a, b func(A, B)) func(A, B) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A, y B) {
		a(x, y)
		b(x, y)
	}
}
