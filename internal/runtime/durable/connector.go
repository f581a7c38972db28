// Package durable implements the retrying, dead-lettering transport on top of
// Watermill publishers and subscribers. A Connector supplies the broker
// specific pieces; the Kafka and in-memory transports are thin connectors
// around this package.
package durable

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Connector opens broker connections for a Transport.
type Connector interface {
	// Name identifies the broker in logs, spans and health details.
	Name() string
	// NewPublisher opens the producer connection. It is called at most once
	// per successful connect.
	NewPublisher(logger watermill.LoggerAdapter) (message.Publisher, error)
	// NewSubscriber opens a subscriber that joins the given consumer group
	// and starts reading from the newest offset.
	NewSubscriber(group string, logger watermill.LoggerAdapter) (message.Subscriber, error)
	// Ping checks broker reachability without producing or consuming. The
	// returned details are merged into the health report.
	Ping(ctx context.Context) (map[string]any, error)
}
