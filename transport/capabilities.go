package transport

// Capabilities describes the delivery guarantees of a transport so callers
// and operators can tell modes apart without branching on the mode name.
type Capabilities struct {
	// Name is the mode the transport is registered under.
	Name string `json:"name"`

	// Durable indicates records survive a process restart.
	Durable bool `json:"durable"`

	// SupportsRetry indicates failed handlers are retried with backoff.
	SupportsRetry bool `json:"supports_retry"`

	// SupportsDeadLetter indicates exhausted records are moved to a
	// dead-letter topic.
	SupportsDeadLetter bool `json:"supports_dead_letter"`

	// SupportsOrdering indicates records of one partition are handled in
	// publish order.
	SupportsOrdering bool `json:"supports_ordering"`

	// SupportsTracing indicates trace context travels in record headers.
	SupportsTracing bool `json:"supports_tracing"`

	// Synchronous indicates Publish returns only after local handlers ran.
	Synchronous bool `json:"synchronous"`
}

// StubCapabilities describes the broker-less stub transport.
var StubCapabilities = Capabilities{
	Name:             "stub",
	SupportsOrdering: true,
	Synchronous:      true,
}

// KafkaCapabilities describes the durable Kafka transport.
var KafkaCapabilities = Capabilities{
	Name:               "durable",
	Durable:            true,
	SupportsRetry:      true,
	SupportsDeadLetter: true,
	SupportsOrdering:   true,
	SupportsTracing:    true,
}

// MemoryCapabilities describes the in-process channel transport.
var MemoryCapabilities = Capabilities{
	Name:               "memory",
	SupportsRetry:      true,
	SupportsDeadLetter: true,
	SupportsOrdering:   true,
	SupportsTracing:    true,
	Synchronous:        true,
}
