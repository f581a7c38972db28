package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/drblury/eventbus"
)

// errNotReady makes the process exit non-zero without printing an error twice.
var errNotReady = errors.New("transport not ready")

type globalOptions struct {
	mode      string
	brokers   string
	clientID  string
	logLevel  string
	logFormat string
}

// envOverrides maps flags onto the variables Load reads.
func (o *globalOptions) envOverrides(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd.Flags().Changed("mode") {
		out["EVENTBUS_MODE"] = o.mode
	}
	if cmd.Flags().Changed("brokers") {
		out["EVENTBUS_BROKERS"] = o.brokers
	}
	if cmd.Flags().Changed("client-id") {
		out["EVENTBUS_CLIENT_ID"] = o.clientID
	}
	return out
}

func (o *globalOptions) logger(cmd *cobra.Command) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())

	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	switch strings.ToLower(o.logFormat) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text", "console":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", o.logFormat)
	}
	return log, nil
}

// openBus loads the configuration, applies flag overrides and builds the bus.
func (o *globalOptions) openBus(ctx context.Context, cmd *cobra.Command, deps eventbus.Dependencies) (*eventbus.Bus, error) {
	for k, v := range o.envOverrides(cmd) {
		if err := os.Setenv(k, v); err != nil {
			return nil, err
		}
	}

	conf, err := eventbus.Load()
	if err != nil {
		return nil, err
	}

	log, err := o.logger(cmd)
	if err != nil {
		return nil, err
	}

	return eventbus.New(ctx, conf, eventbus.NewEntryServiceLogger(logrus.NewEntry(log)), deps)
}

// NewRootCommand builds the eventbus CLI.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "eventbus",
		Short: "Publish, consume and health-check events through the event bus",
		Long: `eventbus drives the event bus from the command line.

The transport is read from EVENTBUS_* environment variables (and a .env file
when present). --mode, --brokers and --client-id override them.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.mode, "mode", "", "transport mode (stub, durable, memory)")
	flags.StringVar(&opts.brokers, "brokers", "", "comma separated host:port list of Kafka brokers")
	flags.StringVar(&opts.clientID, "client-id", "", "client id used to name consumer groups")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(newHealthCommand(opts))
	root.AddCommand(newPublishCommand(opts))
	root.AddCommand(newConsumeCommand(opts))

	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		if !errors.Is(err, errNotReady) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
