// Package stub provides the broker-less transport used for local development
// and tests. Publish never leaves the process. With loopback enabled it hands
// the payload synchronously to handlers registered in the same process;
// delivery is then at-most-once and in-line with the publisher, with no
// retries and no dead letters.
package stub

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/drblury/eventbus/internal/runtime/config"
	errspkg "github.com/drblury/eventbus/internal/runtime/errors"
	"github.com/drblury/eventbus/internal/runtime/ids"
	"github.com/drblury/eventbus/internal/runtime/jsoncodec"
	"github.com/drblury/eventbus/internal/runtime/logging"
	"github.com/drblury/eventbus/internal/runtime/metadata"
	"github.com/drblury/eventbus/transport"
)

// TransportName is the mode this transport is registered under.
const TransportName = config.ModeStub

func init() {
	Register()
}

// Register adds the stub transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.StubCapabilities)
}

// Build creates a stub transport.
func Build(_ context.Context, conf *config.Config, env transport.Environment) (transport.Transport, error) {
	return New(conf, env)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.StubCapabilities
}

// Transport satisfies the bus contract without a broker.
type Transport struct {
	conf   *config.Config
	env    transport.Environment
	logger logging.ServiceLogger

	mu       sync.RWMutex
	handlers map[string][]transport.Handler
	closed   bool
}

var _ transport.Transport = (*Transport)(nil)

// New creates a stub transport.
func New(conf *config.Config, env transport.Environment) (*Transport, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	env = env.WithDefaults()
	return &Transport{
		conf:     conf,
		env:      env,
		logger:   env.Logger.With(logging.LogFields{"transport": TransportName}),
		handlers: make(map[string][]transport.Handler),
	}, nil
}

// Start is a no-op.
func (t *Transport) Start(context.Context) error {
	return nil
}

// Publish serializes payload so both modes reject the same inputs, then
// either drops it or, with loopback, runs the local handlers of topic in
// registration order. Handler failures are logged and never returned.
func (t *Transport) Publish(ctx context.Context, topic string, payload any) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	t.mu.RLock()
	closed := t.closed
	handlers := append([]transport.Handler(nil), t.handlers[topic]...)
	t.mu.RUnlock()
	if closed {
		return errspkg.ErrClosed
	}

	data, err := jsoncodec.EncodePayload(payload)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	t.env.Metrics.RecordPublish(topic, nil)

	if !t.conf.StubLoopback {
		t.logger.Debug("Publish discarded by stub transport", logging.LogFields{
			"topic":        topic,
			"payload_size": len(data),
		})
		return nil
	}

	messageID := ids.NewMessageID()
	for _, h := range handlers {
		t.deliver(ctx, topic, messageID, data, h)
	}
	return nil
}

func (t *Transport) deliver(ctx context.Context, topic, messageID string, data []byte, h transport.Handler) {
	ac := transport.AttemptContext{
		Topic:     topic,
		MessageID: messageID,
		Attempt:   1,
		Metadata:  metadata.Metadata{},
		StartedAt: time.Now(),
	}
	t.env.Metrics.RecordConsumed(topic)

	err := t.invoke(ctx, topic, messageID, data, h)
	ac.Duration = time.Since(ac.StartedAt)
	t.env.Metrics.RecordAttempt(topic, err)
	if err != nil {
		t.env.Hooks.FireAttemptFailed(ac, err)
		t.logger.Error("Loopback handler failed", err, logging.LogFields{
			"topic":        topic,
			"message_uuid": messageID,
		})
		return
	}
	t.env.Hooks.FireDelivered(ac)
}

func (t *Transport) invoke(ctx context.Context, topic, messageID string, data []byte, h transport.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", errspkg.ErrHandlerPanic, r, debug.Stack())
		}
	}()

	// each handler gets its own decoded copy
	payload, err := jsoncodec.DecodePayload(data)
	if err != nil {
		return err
	}
	return h(ctx, transport.Delivery{
		Topic:     topic,
		MessageID: messageID,
		Payload:   payload,
		Raw:       append([]byte(nil), data...),
		Attempt:   1,
		Metadata:  metadata.Metadata{},
	})
}

// RegisterConsumer records handler for loopback delivery.
func (t *Transport) RegisterConsumer(topic string, handler transport.Handler) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errspkg.ErrClosed
	}
	t.handlers[topic] = append(t.handlers[topic], handler)
	t.logger.Debug("Consumer registered", logging.LogFields{
		"topic":    topic,
		"loopback": t.conf.StubLoopback,
	})
	return nil
}

// Health always reports ready.
func (t *Transport) Health(context.Context) transport.HealthStatus {
	t.mu.RLock()
	topics := make([]string, 0, len(t.handlers))
	for topic := range t.handlers {
		topics = append(topics, topic)
	}
	t.mu.RUnlock()
	sort.Strings(topics)

	return transport.HealthStatus{
		Ready: true,
		Mode:  t.conf.Mode,
		Details: map[string]any{
			"mode":      TransportName,
			"loopback":  t.conf.StubLoopback,
			"consumers": topics,
		},
	}
}

// Close drops every registered handler. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.handlers = map[string][]transport.Handler{}
	return nil
}
