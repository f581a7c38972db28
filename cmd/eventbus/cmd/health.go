package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/eventbus"
)

type capabilityReport struct {
	Mode         string                `json:"mode"`
	Capabilities eventbus.Capabilities `json:"capabilities"`
}

func newHealthCommand(opts *globalOptions) *cobra.Command {
	var listCapabilities bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report transport readiness",
		Long: `Builds the configured transport, probes it and prints the health report.

Exit codes:
  0 - transport is ready
  1 - transport is not ready or could not be built`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listCapabilities {
				return printCapabilities(cmd)
			}
			return runHealth(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&listCapabilities, "capabilities", false, "list registered transports and their capabilities instead")
	return cmd
}

func runHealth(ctx context.Context, cmd *cobra.Command, opts *globalOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bus, err := opts.openBus(ctx, cmd, eventbus.Dependencies{})
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	status := bus.Health(ctx)
	out, err := eventbus.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if !status.Ready {
		return errNotReady
	}
	return nil
}

func printCapabilities(cmd *cobra.Command) error {
	names := eventbus.DefaultTransportRegistry.Names()
	reports := make([]capabilityReport, 0, len(names))
	for _, name := range names {
		reports = append(reports, capabilityReport{Mode: name, Capabilities: eventbus.GetCapabilities(name)})
	}
	out, err := eventbus.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
