package kafka

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xdg-go/scram"

	"github.com/drblury/eventbus/internal/runtime/config"
	"github.com/drblury/eventbus/transport"
)

type mockPublisher struct {
	published map[string][]*message.Message
	closed    bool
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	if m.published == nil {
		m.published = map[string][]*message.Message{}
	}
	m.published[topic] = append(m.published[topic], messages...)
	return nil
}

func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

type mockSubscriber struct {
	topics []string
	closed bool
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	m.topics = append(m.topics, topic)
	return make(chan *message.Message), nil
}

func (m *mockSubscriber) Close() error {
	m.closed = true
	return nil
}

type mockAdmin struct {
	brokers    []*sarama.Broker
	controller int32
	err        error
	closed     bool
}

func (m *mockAdmin) DescribeCluster() ([]*sarama.Broker, int32, error) {
	return m.brokers, m.controller, m.err
}

func (m *mockAdmin) Close() error {
	m.closed = true
	return nil
}

func durableConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	base := map[string]string{
		"EVENTBUS_MODE":      "durable",
		"EVENTBUS_CLIENT_ID": "orders-svc",
		"EVENTBUS_BROKERS":   "kafka-1:9092,kafka-2:9092",
	}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.LoadFrom(base)
	require.NoError(t, err)
	return cfg
}

func overrideFactories(t *testing.T) {
	t.Helper()
	pub, sub, admin := PublisherFactory, SubscriberFactory, ClusterAdminFactory
	t.Cleanup(func() {
		PublisherFactory, SubscriberFactory, ClusterAdminFactory = pub, sub, admin
	})
}

func TestRegister(t *testing.T) {
	saved := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = saved })
	transport.DefaultRegistry = transport.NewRegistry()

	Register()

	assert.True(t, transport.DefaultRegistry.Has("durable"))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, Capabilities(), caps)
	assert.True(t, caps.Durable)
	assert.True(t, caps.SupportsDeadLetter)
}

func TestBuildWiresConnectorIntoDurableTransport(t *testing.T) {
	overrideFactories(t)

	pub := &mockPublisher{}
	sub := &mockSubscriber{}
	var (
		pubCfg kafka.PublisherConfig
		subCfg kafka.SubscriberConfig
	)
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		pubCfg = cfg
		return pub, nil
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		subCfg = cfg
		return sub, nil
	}

	tr, err := Build(context.Background(), durableConfig(t, nil), transport.Environment{})
	require.NoError(t, err)

	require.NoError(t, tr.RegisterConsumer("orders", func(context.Context, transport.Delivery) error { return nil }))
	assert.Equal(t, "orders-svc-orders", subCfg.ConsumerGroup)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, subCfg.Brokers)
	assert.Equal(t, sarama.OffsetNewest, subCfg.OverwriteSaramaConfig.Consumer.Offsets.Initial)
	assert.Equal(t, []string{"orders"}, sub.topics)
	assert.Nil(t, pub.published, "the producer is connected lazily")

	require.NoError(t, tr.Publish(context.Background(), "orders", map[string]any{"type": "order.created", "id": 42}))
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, pubCfg.Brokers)
	assert.Equal(t, "orders-svc", pubCfg.OverwriteSaramaConfig.ClientID)
	require.Len(t, pub.published["orders"], 1)
	assert.JSONEq(t, `{"type":"order.created","id":42}`, string(pub.published["orders"][0].Payload))

	require.NoError(t, tr.Close())
	assert.True(t, pub.closed)
	assert.True(t, sub.closed)
}

func TestBuildPropagatesFactoryErrors(t *testing.T) {
	overrideFactories(t)

	PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("publisher error")
	}
	SubscriberFactory = func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("subscriber error")
	}

	tr, err := Build(context.Background(), durableConfig(t, nil), transport.Environment{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	err = tr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher error")

	err = tr.RegisterConsumer("orders", func(context.Context, transport.Delivery) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscriber error")
}

func TestSaramaConfigSecurity(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		tls       bool
		sasl      bool
		mechanism sarama.SASLMechanism
		scram     bool
	}{
		{name: "plaintext", env: nil},
		{name: "tls only", env: map[string]string{"EVENTBUS_TLS": "true"}, tls: true},
		{
			name: "sasl plain",
			env: map[string]string{
				"EVENTBUS_SASL_MECHANISM": "PLAIN",
				"EVENTBUS_SASL_USERNAME":  "svc",
				"EVENTBUS_SASL_PASSWORD":  "secret",
			},
			sasl:      true,
			mechanism: sarama.SASLTypePlaintext,
		},
		{
			name: "scram sha 512 over tls",
			env: map[string]string{
				"EVENTBUS_TLS":            "true",
				"EVENTBUS_SASL_MECHANISM": "scram-sha-512",
				"EVENTBUS_SASL_USERNAME":  "svc",
				"EVENTBUS_SASL_PASSWORD":  "secret",
			},
			tls:       true,
			sasl:      true,
			mechanism: sarama.SASLTypeSCRAMSHA512,
			scram:     true,
		},
		{
			name: "scram sha 256",
			env: map[string]string{
				"EVENTBUS_SASL_MECHANISM": "scram-sha-256",
				"EVENTBUS_SASL_USERNAME":  "svc",
				"EVENTBUS_SASL_PASSWORD":  "secret",
			},
			sasl:      true,
			mechanism: sarama.SASLTypeSCRAMSHA256,
			scram:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := durableConfig(t, tt.env)
			for _, sc := range []*sarama.Config{PublisherSaramaConfig(cfg), SubscriberSaramaConfig(cfg), AdminSaramaConfig(cfg)} {
				assert.Equal(t, tt.tls, sc.Net.TLS.Enable)
				if tt.tls {
					require.NotNil(t, sc.Net.TLS.Config)
				}
				assert.Equal(t, tt.sasl, sc.Net.SASL.Enable)
				if tt.sasl {
					assert.Equal(t, tt.mechanism, sc.Net.SASL.Mechanism)
					assert.Equal(t, "svc", sc.Net.SASL.User)
					assert.Equal(t, "secret", sc.Net.SASL.Password)
				}
				assert.Equal(t, tt.scram, sc.Net.SASL.SCRAMClientGeneratorFunc != nil)
				assert.NoError(t, sc.Validate())
			}
		})
	}
}

func TestAdminConfigIsBoundedByHealthTimeout(t *testing.T) {
	cfg := durableConfig(t, map[string]string{"EVENTBUS_HEALTH_TIMEOUT": "750ms"})
	sc := AdminSaramaConfig(cfg)

	assert.Equal(t, 750*time.Millisecond, sc.Net.DialTimeout)
	assert.Equal(t, 750*time.Millisecond, sc.Admin.Timeout)
	assert.Zero(t, sc.Admin.Retry.Max)
	assert.Zero(t, sc.Metadata.Retry.Max)
}

func TestScramClientStartsConversation(t *testing.T) {
	client := &scramClient{HashGeneratorFcn: scram.SHA256}
	require.NoError(t, client.Begin("svc", "secret", ""))

	first, err := client.Step("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "n,,n=svc,r="), first)
	assert.False(t, client.Done())
}

func TestPing(t *testing.T) {
	overrideFactories(t)
	cfg := durableConfig(t, nil)

	admin := &mockAdmin{brokers: []*sarama.Broker{sarama.NewBroker("kafka-1:9092"), sarama.NewBroker("kafka-2:9092")}, controller: 1}
	var gotBrokers []string
	ClusterAdminFactory = func(brokers []string, sc *sarama.Config) (ClusterAdmin, error) {
		gotBrokers = brokers
		return admin, nil
	}

	details, err := NewConnector(cfg).Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.Brokers, gotBrokers)
	assert.Equal(t, 2, details["cluster_brokers"])
	assert.Equal(t, int32(1), details["controller_id"])
	assert.True(t, admin.closed)
}

func TestHealthReportsUnreachableCluster(t *testing.T) {
	overrideFactories(t)
	ClusterAdminFactory = func([]string, *sarama.Config) (ClusterAdmin, error) {
		return nil, sarama.ErrOutOfBrokers
	}

	tr, err := Build(context.Background(), durableConfig(t, nil), transport.Environment{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	status := tr.Health(context.Background())
	assert.False(t, status.Ready)
	assert.Equal(t, "durable", status.Mode)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, status.Details["brokers"])
	assert.Contains(t, status.Details["error"], "connect cluster admin")
}

func TestHealthReportsReadyCluster(t *testing.T) {
	overrideFactories(t)
	ClusterAdminFactory = func([]string, *sarama.Config) (ClusterAdmin, error) {
		return &mockAdmin{brokers: []*sarama.Broker{sarama.NewBroker("kafka-1:9092")}, controller: 3}, nil
	}

	tr, err := Build(context.Background(), durableConfig(t, nil), transport.Environment{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	status := tr.Health(context.Background())
	assert.True(t, status.Ready)
	assert.Equal(t, 1, status.Details["cluster_brokers"])
	assert.Equal(t, "kafka", status.Details["connector"])
}
