// Package kafka provides the durable Kafka transport. It connects the retry
// and dead-letter pipeline of the durable package to Kafka through
// watermill-kafka and sarama.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/eventbus/internal/runtime/config"
	"github.com/drblury/eventbus/internal/runtime/durable"
	"github.com/drblury/eventbus/transport"
)

// TransportName is the mode this transport is registered under.
const TransportName = config.ModeDurable

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// ClusterAdmin is the part of sarama.ClusterAdmin the health probe uses.
type ClusterAdmin interface {
	DescribeCluster() (brokers []*sarama.Broker, controllerID int32, err error)
	Close() error
}

// ClusterAdminFactory allows overriding the admin connection for testing.
var ClusterAdminFactory = func(brokers []string, cfg *sarama.Config) (ClusterAdmin, error) {
	admin, err := sarama.NewClusterAdmin(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return admin, nil
}

func init() {
	Register()
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a durable transport backed by Kafka. Nothing is dialled until
// the transport is started, publishes or registers a consumer.
func Build(_ context.Context, conf *config.Config, env transport.Environment) (transport.Transport, error) {
	return durable.New(conf, NewConnector(conf), env)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

// Connector opens Kafka producers, consumer-group subscribers and admin
// connections from one configuration.
type Connector struct {
	conf *config.Config
}

var _ durable.Connector = (*Connector)(nil)

// NewConnector creates a Kafka connector.
func NewConnector(conf *config.Config) *Connector {
	return &Connector{conf: conf}
}

// Name implements durable.Connector.
func (c *Connector) Name() string {
	return "kafka"
}

// NewPublisher opens a synchronous producer: Publish returns once the
// partition leader acknowledged the record.
func (c *Connector) NewPublisher(logger watermill.LoggerAdapter) (message.Publisher, error) {
	return PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               c.conf.Brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: PublisherSaramaConfig(c.conf),
		},
		logger,
	)
}

// NewSubscriber opens a consumer-group subscriber starting at the newest
// offset.
func (c *Connector) NewSubscriber(group string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               c.conf.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         group,
			OverwriteSaramaConfig: SubscriberSaramaConfig(c.conf),
		},
		logger,
	)
}
