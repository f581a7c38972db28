package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/drblury/eventbus"
)

func newPublishCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish TOPIC [PAYLOAD]",
		Short: "Publish a JSON payload to a topic",
		Long: `Publishes one JSON document to TOPIC. The payload is read from stdin when
it is not given as an argument.`,
		Example: `  eventbus publish orders '{"type":"order.created","id":42}'
  echo '{"id":42}' | eventbus publish orders --mode durable --brokers localhost:9092`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			raw, err := readPayload(cmd, args)
			if err != nil {
				return err
			}

			bus, err := opts.openBus(ctx, cmd, eventbus.Dependencies{})
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			if err := bus.Start(ctx); err != nil {
				return err
			}
			if err := bus.Publish(ctx, args[0], raw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", args[0])
			return nil
		},
	}
}

func readPayload(cmd *cobra.Command, args []string) (json.RawMessage, error) {
	var data []byte
	if len(args) == 2 {
		data = []byte(args[1])
	} else {
		var err error
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	var probe any
	if err := eventbus.Unmarshal(data, &probe); err != nil {
		return nil, errors.New("payload must be a JSON document")
	}
	return json.RawMessage(data), nil
}
