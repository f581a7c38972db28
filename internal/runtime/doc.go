/*
Package runtime hosts the Bus facade and the building blocks behind it.

# Bus

Bus selects its transport once, from Config.Mode, and exposes exactly five
operations: Start, Publish, RegisterConsumer, Health and Close. Calling code
never branches on the mode.

# Sub-packages

  - config/: environment driven configuration with validation
  - errors/: sentinel errors, permanent errors and validation errors
  - logging/: ServiceLogger and its slog, logrus-style and Watermill adapters
  - ids/: ULID message identifiers
  - jsoncodec/: sonic backed JSON and protojson payload codec
  - metadata/: record headers and trace propagation
  - retry/: the bounded exponential backoff loop
  - deadletter/: the dead-letter record format
  - metrics/: Prometheus collectors and the dead-letter summary
  - durable/: the retrying, dead-lettering transport on top of Watermill

# Usage Example

	conf, err := config.Load()
	if err != nil {
		return err
	}

	bus, err := runtime.New(ctx, conf, logger, runtime.Dependencies{})
	if err != nil {
		return err
	}
	defer bus.Close()

	_ = bus.RegisterConsumer("orders", runtime.JSONHandler(func(ctx context.Context, o OrderCreated) error {
		return billing.Charge(ctx, o)
	}))

	_ = bus.Publish(ctx, "orders", OrderCreated{Type: "order.created", ID: 42})
*/
package runtime
