package runtime

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/transport"
)

// JSONHandler adapts a typed handler. The payload is decoded into a fresh T
// on every attempt; a payload that does not decode is dead-lettered without
// retries.
func JSONHandler[T any](fn func(ctx context.Context, event T) error) transport.Handler {
	return func(ctx context.Context, d transport.Delivery) error {
		var event T
		if err := d.Decode(&event); err != nil {
			return errspkg.Permanent(fmt.Errorf("decode %T: %w", event, err))
		}
		return fn(ctx, event)
	}
}

// ProtoHandler adapts a typed protobuf handler. newFn returns an empty message
// the payload is decoded into using the protojson mapping.
func ProtoHandler[T proto.Message](newFn func() T, fn func(ctx context.Context, event T) error) transport.Handler {
	return func(ctx context.Context, d transport.Delivery) error {
		if newFn == nil {
			return errspkg.Permanent(errors.New("proto handler: message constructor is nil"))
		}
		event := newFn()
		if err := d.Decode(event); err != nil {
			return errspkg.Permanent(fmt.Errorf("decode %s: %w", event.ProtoReflect().Descriptor().FullName(), err))
		}
		return fn(ctx, event)
	}
}
