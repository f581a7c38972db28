// Package channel provides the in-memory transport. It runs the full durable
// pipeline (retries, dead-lettering, trace propagation) over Go channels so
// services and tests get broker semantics without a broker.
//
// Publish blocks until every subscriber of the topic acknowledged the record,
// which keeps records of a topic in publish order. As a consequence a handler
// must not publish to its own topic, and consumers should be registered
// before publishing starts: registering while a publish waits for an ack
// blocks until that ack.
package channel

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/eventbus/internal/runtime/config"
	"github.com/drblury/eventbus/internal/runtime/durable"
	"github.com/drblury/eventbus/transport"
)

// TransportName is the mode this transport is registered under.
const TransportName = config.ModeMemory

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	Register()
}

// Register adds the memory transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MemoryCapabilities)
}

// Build creates a memory transport. Every Build gets its own channel, so two
// buses never see each other's records.
func Build(_ context.Context, conf *config.Config, env transport.Environment) (transport.Transport, error) {
	return durable.New(conf, NewConnector(), env)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.MemoryCapabilities
}

// Connector hands out one shared GoChannel as both publisher and subscriber.
type Connector struct {
	once   sync.Once
	pubSub *gochannel.GoChannel
}

var _ durable.Connector = (*Connector)(nil)

// NewConnector creates a memory connector.
func NewConnector() *Connector {
	return &Connector{}
}

func (c *Connector) channel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	c.once.Do(func() {
		c.pubSub = Factory(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, logger)
	})
	return c.pubSub
}

// Name implements durable.Connector.
func (c *Connector) Name() string {
	return "memory"
}

// NewPublisher implements durable.Connector.
func (c *Connector) NewPublisher(logger watermill.LoggerAdapter) (message.Publisher, error) {
	return c.channel(logger), nil
}

// NewSubscriber implements durable.Connector. Go channels have no consumer
// groups; the durable transport opens one subscription per topic, which gives
// the same single-delivery behaviour within a process.
func (c *Connector) NewSubscriber(_ string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return c.channel(logger), nil
}

// Ping implements durable.Connector. The in-process channel is always
// reachable.
func (c *Connector) Ping(context.Context) (map[string]any, error) {
	return map[string]any{"broker": "in-process"}, nil
}
