package durable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventbus/internal/runtime/config"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/internal/runtime/ids"
	"github.com/drblury/eventbus/internal/runtime/jsoncodec"
	"github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/internal/runtime/metadata"
	"github.com/drblury/eventbus/internal/runtime/retry"
	"github.com/drblury/eventbus/transport"
)

// Transport delivers records at least once: a record is acknowledged only
// after every handler succeeded or the failure was written to the dead-letter
// topic.
type Transport struct {
	conf   *config.Config
	conn   Connector
	env    transport.Environment
	logger logging.ServiceLogger
	wmLog  watermill.LoggerAdapter
	tracer trace.Tracer
	policy retry.Policy

	producerMu     sync.Mutex
	producer       message.Publisher
	producerClosed bool

	mu        sync.Mutex
	consumers map[string]*consumer
	closed    bool

	// lifecycle is the parent of subscriptions and in-flight processing. It
	// is cancelled once Close gave up waiting.
	lifecycle context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	wg        sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Transport = (*Transport)(nil)

// New creates a durable transport. No connection is opened until Start,
// Publish or RegisterConsumer.
func New(conf *config.Config, conn Connector, env transport.Environment) (*Transport, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if conn == nil {
		return nil, errors.New("durable: connector is required")
	}
	env = env.WithDefaults()

	lifecycle, cancel := context.WithCancel(context.Background())
	logger := env.Logger.With(logging.LogFields{"transport": conn.Name()})

	return &Transport{
		conf:   conf,
		conn:   conn,
		env:    env,
		logger: logger,
		wmLog:  logging.NewWatermillAdapter(logger),
		tracer: env.Tracer(),
		policy: retry.Policy{
			MaxAttempts:    conf.RetryMaxAttempts,
			BaseDelay:      conf.BackoffBase(),
			MaxDelay:       conf.RetryMaxBackoff,
			AttemptTimeout: conf.HandlerTimeout,
		},
		consumers: make(map[string]*consumer),
		lifecycle: lifecycle,
		cancel:    cancel,
		stop:      make(chan struct{}),
	}, nil
}

// Start connects the producer ahead of the first publish.
func (t *Transport) Start(ctx context.Context) error {
	if t.isClosed() {
		return errspkg.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.ensureProducer()
	return err
}

// ensureProducer returns the shared producer, connecting it on first use.
// Concurrent callers wait for the one connect in flight; a failed connect is
// not remembered, so the next caller tries again.
func (t *Transport) ensureProducer() (message.Publisher, error) {
	t.producerMu.Lock()
	defer t.producerMu.Unlock()

	if t.producerClosed {
		return nil, errspkg.ErrClosed
	}
	if t.producer != nil {
		return t.producer, nil
	}

	producer, err := t.conn.NewPublisher(t.wmLog)
	if err != nil {
		return nil, fmt.Errorf("connect producer: %w", err)
	}
	t.producer = producer
	t.logger.Info("Producer connected", nil)
	return producer, nil
}

// Publish serializes payload and sends it as one record to topic with the
// trace context of ctx in its headers.
func (t *Transport) Publish(ctx context.Context, topic string, payload any) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if t.isClosed() {
		return errspkg.ErrClosed
	}

	data, err := jsoncodec.EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	ctx, span := t.tracer.Start(ctx, topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", t.conn.Name()),
			attribute.String("messaging.destination.name", topic),
			attribute.Int("messaging.message.body.size", len(data)),
		),
	)
	defer span.End()

	err = t.send(ctx, topic, data)
	t.env.Metrics.RecordPublish(topic, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (t *Transport) send(ctx context.Context, topic string, data []byte) error {
	producer, err := t.ensureProducer()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	msg := message.NewMessage(ids.NewMessageID(), data)
	msg.Metadata = metadata.ToWatermill(metadata.InjectTrace(ctx, t.env.Propagator))
	msg.SetContext(ctx)

	if err := producer.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	t.logger.Trace("Record published", logging.LogFields{"topic": topic, "message_uuid": msg.UUID})
	return nil
}

// Health probes the broker through the connector, bounded by the configured
// health timeout.
func (t *Transport) Health(ctx context.Context) transport.HealthStatus {
	details, err := t.ping(ctx)
	if details == nil {
		details = map[string]any{}
	}
	details["connector"] = t.conn.Name()
	details["consumers"] = t.topics()
	if t.env.Metrics != nil {
		details["dead_letters"] = t.env.Metrics.Snapshot()
	}

	if err == nil && t.isClosed() {
		err = errspkg.ErrClosed
	}
	if err != nil {
		details["error"] = err.Error()
		return transport.HealthStatus{Ready: false, Mode: t.conf.Mode, Details: details}
	}
	return transport.HealthStatus{Ready: true, Mode: t.conf.Mode, Details: details}
}

func (t *Transport) ping(ctx context.Context) (map[string]any, error) {
	if t.conf.HealthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.conf.HealthTimeout)
		defer cancel()
	}

	type result struct {
		details map[string]any
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("health probe panicked: %v", r)}
			}
		}()
		details, err := t.conn.Ping(ctx)
		done <- result{details: details, err: err}
	}()

	select {
	case r := <-done:
		return r.details, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("health probe: %w", ctx.Err())
	}
}

func (t *Transport) topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	topics := make([]string, 0, len(t.consumers))
	for topic, c := range t.consumers {
		if c.subscriber != nil {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	return topics
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close stops reading, waits up to the shutdown timeout for in-flight
// records, then closes subscribers and the producer. Records still in flight
// when the timeout expires are not acknowledged and will be redelivered.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.shutdown()
	})
	return t.closeErr
}

func (t *Transport) shutdown() error {
	t.mu.Lock()
	t.closed = true
	consumers := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		// registrations still dialling see closed and clean up themselves
		if c.subscriber != nil {
			consumers = append(consumers, c)
		}
	}
	t.mu.Unlock()

	close(t.stop)
	if !waitTimeout(&t.wg, t.conf.ShutdownTimeout) {
		t.logger.Info("Shutdown timeout elapsed, abandoning in-flight records", logging.LogFields{
			"timeout": t.conf.ShutdownTimeout.String(),
		})
		t.cancel()
		t.wg.Wait()
	}
	t.cancel()

	var errs []error
	for _, c := range consumers {
		if err := c.subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber %s: %w", c.topic, err))
		}
	}

	t.producerMu.Lock()
	if t.producer != nil {
		if err := t.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer: %w", err))
		}
		t.producer = nil
	}
	t.producerClosed = true
	t.producerMu.Unlock()

	t.logger.Info("Transport closed", nil)
	return errors.Join(errs...)
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
