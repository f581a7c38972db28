package durable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventbus/internal/runtime/deadletter"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/internal/runtime/jsoncodec"
	"github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/internal/runtime/metadata"
	"github.com/drblury/eventbus/internal/runtime/retry"
	"github.com/drblury/eventbus/transport"
)

// pipeline builds the per-record handler chain, outermost first: tracing,
// logging, metrics, panic recovery, then dispatch to the registered handlers.
// A returned error means the record must not be acknowledged.
func (t *Transport) pipeline(c *consumer) message.HandlerFunc {
	middlewares := []message.HandlerMiddleware{
		t.tracerMiddleware(c),
		t.logMessagesMiddleware(c),
		t.metricsMiddleware(c),
		middleware.Recoverer,
	}

	h := t.dispatch(c)
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// tracerMiddleware restores the producer's trace context from the record
// headers and wraps processing in a consumer span.
func (t *Transport) tracerMiddleware(c *consumer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			md := metadata.FromWatermill(msg.Metadata)
			ctx := metadata.ExtractTrace(t.lifecycle, t.env.Propagator, md)
			ctx, span := t.tracer.Start(ctx, c.topic+" process",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.system", t.conn.Name()),
					attribute.String("messaging.destination.name", c.topic),
					attribute.String("messaging.consumer.group.name", c.group),
					attribute.String("messaging.message.id", msg.UUID),
				),
			)
			defer span.End()
			msg.SetContext(ctx)

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

func (t *Transport) logMessagesMiddleware(c *consumer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			t.logger.Debug("Processing record", logging.LogFields{
				"topic":        c.topic,
				"message_uuid": msg.UUID,
				"payload_size": len(msg.Payload),
			})
			return h(msg)
		}
	}
}

func (t *Transport) metricsMiddleware(c *consumer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			t.env.Metrics.RecordConsumed(c.topic)
			msgs, err := h(msg)
			t.env.Metrics.ObserveProcessing(c.topic, time.Since(start))
			return msgs, err
		}
	}
}

// dispatch runs every handler of the consumer on the record. Malformed
// payloads and handlers that failed for good are dead-lettered; only a failed
// dead-letter publish or an interrupted shutdown surface as an error.
func (t *Transport) dispatch(c *consumer) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx := msg.Context()
		md := metadata.FromWatermill(msg.Metadata)

		if _, err := jsoncodec.DecodePayload(msg.Payload); err != nil {
			ac := transport.AttemptContext{Topic: c.topic, MessageID: msg.UUID, Metadata: md, StartedAt: time.Now()}
			cause := fmt.Errorf("decode payload: %w", err)
			return nil, t.deadLetter(ctx, c.topic, ac, cause, msg.Payload, 0, deadletter.ReasonMalformed)
		}

		for _, handler := range c.snapshot() {
			if err := t.runHandler(ctx, c, msg, md, handler); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
}

func (t *Transport) runHandler(ctx context.Context, c *consumer, msg *message.Message, md metadata.Metadata, handler transport.Handler) error {
	started := time.Now()
	fields := logging.LogFields{"topic": c.topic, "message_uuid": msg.UUID}

	// the operation may outlive its attempt on another goroutine, so it only
	// touches its own locals; hooks and metrics run from notify below
	attempts, err := t.policy.Do(ctx, func(attemptCtx context.Context, attempt int) error {
		payload, err := jsoncodec.DecodePayload(msg.Payload)
		if err != nil {
			return errspkg.Permanent(err)
		}
		return handler(attemptCtx, transport.Delivery{
			Topic:     c.topic,
			MessageID: msg.UUID,
			Payload:   payload,
			Raw:       append([]byte(nil), msg.Payload...),
			Attempt:   attempt,
			Metadata:  md.Clone(),
		})
	}, func(f retry.Failure) {
		t.env.Metrics.RecordAttempt(c.topic, f.Err)
		t.env.Hooks.FireAttemptFailed(transport.AttemptContext{
			Topic:     c.topic,
			MessageID: msg.UUID,
			Attempt:   f.Attempt,
			Metadata:  md.Clone(),
			StartedAt: f.StartedAt,
			Duration:  f.Elapsed,
		}, f.Err)
		if f.Next > 0 {
			t.logger.Info("Handler failed, retrying", fields.Add(logging.LogFields{
				"attempt":      f.Attempt,
				"max_attempts": t.policy.MaxAttempts,
				"backoff":      f.Next.String(),
				"error":        f.Err.Error(),
			}))
		}
	})

	ac := transport.AttemptContext{
		Topic:     c.topic,
		MessageID: msg.UUID,
		Attempt:   attempts,
		Metadata:  md.Clone(),
		StartedAt: started,
		Duration:  time.Since(started),
	}
	if err == nil {
		t.env.Metrics.RecordAttempt(c.topic, nil)
		t.env.Hooks.FireDelivered(ac)
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("processing interrupted after %d attempts: %w", attempts, ctx.Err())
	}

	reason := deadletter.ReasonExhausted
	if errspkg.IsPermanent(err) {
		reason = deadletter.ReasonPermanent
	}
	return t.deadLetter(ctx, c.topic, ac, err, msg.Payload, attempts, reason)
}

// deadLetter publishes the failure record to the topic's dead-letter
// counterpart, carrying the trace context of ctx.
func (t *Transport) deadLetter(ctx context.Context, topic string, ac transport.AttemptContext, cause error, payload []byte, attempts int, reason string) error {
	dlqTopic := t.conf.DeadLetterTopic(topic)
	record := deadletter.New(cause, payload, attempts, t.env.Now())
	fields := logging.LogFields{
		"topic":        topic,
		"dlq_topic":    dlqTopic,
		"message_uuid": ac.MessageID,
		"attempts":     attempts,
		"reason":       reason,
	}

	data, err := record.Marshal()
	if err == nil {
		err = t.send(ctx, dlqTopic, data)
	}
	if err != nil {
		t.env.Metrics.RecordDeadLetterFailure(topic)
		t.logger.Error("Dead-letter publish failed", err, fields)
		return errors.Join(fmt.Errorf("dead-letter %s: %w", dlqTopic, err), cause)
	}

	t.env.Metrics.RecordDeadLetter(topic, reason, attempts)
	t.env.Hooks.FireDeadLetter(ac, record)
	t.logger.Error("Record dead-lettered", cause, fields)
	return nil
}
