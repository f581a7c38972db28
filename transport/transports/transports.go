// Package transports imports the built-in transports for their registration
// side effect. Import it to have stub, durable (Kafka) and memory available
// in the default registry.
package transports

import (
	_ "github.com/drblury/eventbus/transport/channel"
	_ "github.com/drblury/eventbus/transport/kafka"
	_ "github.com/drblury/eventbus/transport/stub"
)
