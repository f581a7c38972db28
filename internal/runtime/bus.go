package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	configpkg "github.com/drblury/eventbus/internal/runtime/config"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventbus/internal/runtime/logging"
	metricspkg "github.com/drblury/eventbus/internal/runtime/metrics"
	"github.com/drblury/eventbus/transport"

	// built-in transports register themselves with the default registry
	_ "github.com/drblury/eventbus/transport/transports"
)

// Dependencies holds the optional collaborators of a Bus. Leave fields nil to
// get the defaults.
type Dependencies struct {
	// Registry resolves the configured mode. Defaults to
	// transport.DefaultRegistry with the built-in transports.
	Registry *transport.Registry
	// Transport, when set, is used as is and the registry is not consulted.
	Transport transport.Transport

	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator

	// MetricsRegisterer enables metrics and receives the collectors. When
	// nil, metrics are registered with prometheus.DefaultRegisterer if
	// Config.MetricsEnabled is set and skipped otherwise.
	MetricsRegisterer prometheus.Registerer

	Hooks transport.Hooks
	// Now overrides the clock used for dead-letter timestamps.
	Now func() time.Time
}

// Bus is the single entry point services use to exchange events. The
// transport is chosen once, in New, and never changes.
type Bus struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport    transport.Transport
	capabilities transport.Capabilities
	metrics      *metricspkg.Metrics

	closeOnce sync.Once
	closeErr  error
}

// New validates conf and builds the transport its mode selects.
func New(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Bus, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	conf.Normalize()
	if err := conf.Validate(); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}

	log.Info("Creating event bus", loggingpkg.LogFields{
		"mode":   conf.Mode,
		"config": conf.String(),
	})

	m, err := newMetrics(conf, deps)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	registry := deps.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}

	env := transport.Environment{
		Logger:         log,
		TracerProvider: deps.TracerProvider,
		Propagator:     deps.Propagator,
		Metrics:        m,
		Hooks:          deps.Hooks,
		Now:            deps.Now,
	}

	tr := deps.Transport
	if tr == nil {
		tr, err = registry.Build(ctx, conf, env)
		if err != nil {
			return nil, fmt.Errorf("build %s transport: %w", conf.Mode, err)
		}
	}

	return &Bus{
		Conf:         conf,
		Logger:       log,
		transport:    tr,
		capabilities: registry.Capabilities(conf.Mode),
		metrics:      m,
	}, nil
}

func newMetrics(conf *configpkg.Config, deps Dependencies) (*metricspkg.Metrics, error) {
	registerer := deps.MetricsRegisterer
	if registerer == nil {
		if !conf.MetricsEnabled {
			return nil, nil
		}
		registerer = prometheus.DefaultRegisterer
	}
	m := metricspkg.New(registerer)
	if err := m.Register(); err != nil {
		return nil, err
	}
	return m, nil
}

// Start warms the transport up, e.g. connects the producer ahead of the first
// publish. It is idempotent.
func (b *Bus) Start(ctx context.Context) error {
	if err := b.transport.Start(ctx); err != nil {
		return fmt.Errorf("start %s transport: %w", b.Conf.Mode, err)
	}
	return nil
}

// Publish sends payload to topic. It fails only when the transport is
// unavailable, never because a consumer failed.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	return b.transport.Publish(ctx, topic, payload)
}

// RegisterConsumer attaches handler to topic and subscribes as a side effect.
func (b *Bus) RegisterConsumer(topic string, handler transport.Handler) error {
	return b.transport.RegisterConsumer(topic, handler)
}

// Health reports readiness of the transport. The mode and the transport
// capabilities are always part of the report.
func (b *Bus) Health(ctx context.Context) transport.HealthStatus {
	status := b.transport.Health(ctx)
	if status.Mode == "" {
		status.Mode = b.Conf.Mode
	}
	if status.Details == nil {
		status.Details = map[string]any{}
	}
	status.Details["capabilities"] = b.capabilities
	return status
}

// Close releases every connection held by the transport. It is idempotent.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.transport.Close()
		if b.closeErr != nil {
			b.Logger.Error("Closing event bus failed", b.closeErr, nil)
			return
		}
		b.Logger.Info("Event bus closed", loggingpkg.LogFields{"mode": b.Conf.Mode})
	})
	return b.closeErr
}
