// Package transport defines the contract every event bus transport satisfies
// and the registry the bus uses to pick one by mode. Each implementation
// (stub, kafka, channel) lives in its own sub-package and registers itself
// with the default registry.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventbus/internal/runtime/config"
	"github.com/drblury/eventbus/internal/runtime/jsoncodec"
	"github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/internal/runtime/metadata"
	"github.com/drblury/eventbus/internal/runtime/metrics"
)

// TracerName is the instrumentation scope used for publish and consume spans.
const TracerName = "github.com/drblury/eventbus"

// Transport is implemented by every delivery mode.
type Transport interface {
	// Start warms the transport up. It is idempotent.
	Start(ctx context.Context) error
	// Publish sends payload to topic. It fails only when the transport does.
	Publish(ctx context.Context, topic string, payload any) error
	// RegisterConsumer attaches handler to topic and subscribes as a side
	// effect. Registering again on the same topic adds another handler.
	RegisterConsumer(topic string, handler Handler) error
	// Health reports readiness without a publish/consume round trip.
	Health(ctx context.Context) HealthStatus
	// Close releases every held connection. It is idempotent.
	Close() error
}

// Handler processes one delivered record. A returned error is retried by
// durable transports; wrap it with errors.Permanent to skip the retries.
type Handler func(ctx context.Context, d Delivery) error

// Delivery is a record handed to a Handler.
type Delivery struct {
	Topic string
	// MessageID identifies the record across redeliveries.
	MessageID string
	// Payload is the deserialized JSON value: maps, slices, strings,
	// json.Number, bools or nil.
	Payload any
	// Raw holds the payload bytes as received.
	Raw json.RawMessage
	// Attempt starts at 1 and grows with every retry of the same record.
	Attempt  int
	Metadata metadata.Metadata
}

// Decode unmarshals the raw payload into v. Protobuf messages use protojson.
func (d Delivery) Decode(v any) error {
	return jsoncodec.DecodeInto(d.Raw, v)
}

// HealthStatus is the result of a readiness probe.
type HealthStatus struct {
	Ready   bool           `json:"ready"`
	Mode    string         `json:"mode"`
	Details map[string]any `json:"details,omitempty"`
}

// Environment carries the collaborators a transport is built with.
type Environment struct {
	Logger         logging.ServiceLogger
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
	// Metrics may be nil, in which case nothing is recorded.
	Metrics *metrics.Metrics
	Hooks   Hooks
	// Now is the clock used for dead-letter timestamps.
	Now func() time.Time
}

// WithDefaults fills unset collaborators: a no-op logger, the global tracer
// provider, the trace-context + baggage propagator and the wall clock.
func (e Environment) WithDefaults() Environment {
	if e.Logger == nil {
		e.Logger = logging.NewNopServiceLogger()
	}
	if e.TracerProvider == nil {
		e.TracerProvider = otel.GetTracerProvider()
	}
	if e.Propagator == nil {
		e.Propagator = metadata.DefaultPropagator()
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	return e
}

// Tracer returns the tracer used for bus spans.
func (e Environment) Tracer() trace.Tracer {
	return e.WithDefaults().TracerProvider.Tracer(TracerName)
}

// Builder creates a transport from configuration.
type Builder func(ctx context.Context, cfg *config.Config, env Environment) (Transport, error)
