package durable

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventbus/internal/runtime/config"
	"github.com/drblury/eventbus/transport"
)

// memConnector serves publishers and subscribers from one in-process
// GoChannel and counts how often each is opened.
type memConnector struct {
	pubsub *gochannel.GoChannel

	publishers  atomic.Int32
	subscribers atomic.Int32

	// failPublishers makes the next n NewPublisher calls fail.
	failPublishers atomic.Int32

	mu          sync.Mutex
	failTopics  map[string]error
	pingErr     error
	pingDelay   time.Duration
	pingDetails map[string]any
}

func newMemConnector() *memConnector {
	return &memConnector{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
		failTopics: map[string]error{},
	}
}

func (m *memConnector) Name() string { return "memory" }

func (m *memConnector) NewPublisher(watermill.LoggerAdapter) (message.Publisher, error) {
	m.publishers.Add(1)
	// widen the window in which concurrent first publishes would race
	time.Sleep(5 * time.Millisecond)
	if m.failPublishers.Load() > 0 {
		m.failPublishers.Add(-1)
		return nil, errors.New("broker unreachable")
	}
	return &failingPublisher{Publisher: m.pubsub, conn: m}, nil
}

func (m *memConnector) NewSubscriber(string, watermill.LoggerAdapter) (message.Subscriber, error) {
	m.subscribers.Add(1)
	return m.pubsub, nil
}

func (m *memConnector) Ping(ctx context.Context) (map[string]any, error) {
	m.mu.Lock()
	delay, err, details := m.pingDelay, m.pingErr, m.pingDetails
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := map[string]any{}
	for k, v := range details {
		out[k] = v
	}
	return out, err
}

func (m *memConnector) failTopic(topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failTopics, topic)
		return
	}
	m.failTopics[topic] = err
}

func (m *memConnector) topicErr(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failTopics[topic]
}

type failingPublisher struct {
	message.Publisher
	conn *memConnector
}

func (p *failingPublisher) Publish(topic string, messages ...*message.Message) error {
	if err := p.conn.topicErr(topic); err != nil {
		return err
	}
	return p.Publisher.Publish(topic, messages...)
}

// slowConnector delays subscriber creation the way a broker dial does.
type slowConnector struct {
	*memConnector
	delay   time.Duration
	err     error
	dialing chan struct{}
}

func newSlowConnector(delay time.Duration) *slowConnector {
	return &slowConnector{memConnector: newMemConnector(), delay: delay, dialing: make(chan struct{}, 1)}
}

func (s *slowConnector) NewSubscriber(group string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	select {
	case s.dialing <- struct{}{}:
	default:
	}
	time.Sleep(s.delay)
	if s.err != nil {
		return nil, s.err
	}
	return s.memConnector.NewSubscriber(group, logger)
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Mode:            config.ModeMemory,
		ClientID:        "orders-svc",
		RetryBackoffMS:  1,
		HandlerTimeout:  time.Second,
		HealthTimeout:   200 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	}
	cfg.Normalize()
	return cfg
}

func newTestTransport(t *testing.T, cfg *config.Config, conn Connector, env transport.Environment) *Transport {
	t.Helper()
	tr, err := New(cfg, conn, env)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}
