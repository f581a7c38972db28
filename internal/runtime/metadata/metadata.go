// Package metadata models record headers. Headers carry cross-cutting context
// only (trace context and baggage), never business data.
package metadata

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/propagation"
)

// Metadata represents the headers carried alongside a record. It satisfies
// propagation.TextMapCarrier.
type Metadata map[string]string

var _ propagation.TextMapCarrier = Metadata{}

// Get returns the value for key, or "" when absent.
func (m Metadata) Get(key string) string {
	return m[key]
}

// Set stores value under key. Setting on a nil map is a no-op.
func (m Metadata) Set(key, value string) {
	if m == nil {
		return
	}
	m[key] = value
}

// Keys lists the header names in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the metadata map. The result is never nil.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// DefaultPropagator carries W3C trace context and baggage.
func DefaultPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// InjectTrace writes the trace context of ctx into a fresh Metadata map.
func InjectTrace(ctx context.Context, propagator propagation.TextMapPropagator) Metadata {
	md := Metadata{}
	if propagator == nil {
		propagator = DefaultPropagator()
	}
	propagator.Inject(ctx, md)
	return md
}

// ExtractTrace returns ctx enriched with the trace context found in md.
func ExtractTrace(ctx context.Context, propagator propagation.TextMapPropagator, md Metadata) context.Context {
	if propagator == nil {
		propagator = DefaultPropagator()
	}
	return propagator.Extract(ctx, md)
}
