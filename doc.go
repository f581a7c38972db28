// Package eventbus lets a service publish events to named topics and consume
// them with registered handlers without knowing which transport is behind the
// bus.
//
// A Bus is built once from Config. Config.Mode selects the transport:
//   - stub: no broker, publishes are logged and dropped (or delivered in
//     process when StubLoopback is set)
//   - durable: Kafka through Watermill, with consumer groups, bounded retry
//     with exponential backoff, dead-letter topics and trace propagation
//   - memory: the same retrying pipeline over in-process Go channels
//
// Every mode exposes the same five operations: Start, Publish,
// RegisterConsumer, Health and Close.
//
// # Retries and dead letters
//
// A handler that returns an error is retried up to Config.RetryMaxAttempts
// times in total, waiting base*2^(n-1) after failure n. A record that still
// fails is written to <topic>.DLQ as
//
//	{"error": "...", "original": {...}, "attempts": 5, "ts": "2024-03-01T12:30:00.000Z"}
//
// and committed. Errors wrapped with Permanent skip the remaining attempts.
// Payloads that are not JSON never reach the handler and are dead-lettered
// with attempts 0.
//
// # Quick start
//
//	conf, err := eventbus.Load()
//	if err != nil {
//		return err
//	}
//	bus, err := eventbus.New(ctx, conf, eventbus.NewSlogServiceLogger(slog.Default()), eventbus.Dependencies{})
//	if err != nil {
//		return err
//	}
//	defer bus.Close()
//
//	err = bus.RegisterConsumer("orders", eventbus.JSONHandler(func(ctx context.Context, o OrderCreated) error {
//		return billing.Charge(ctx, o)
//	}))
//
// Custom transports are added with RegisterTransport or injected directly
// through Dependencies.Transport.
package eventbus
