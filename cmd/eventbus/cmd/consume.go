package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/drblury/eventbus"
)

type consumedRecord struct {
	Topic     string            `json:"topic"`
	MessageID string            `json:"message_id"`
	Attempt   int               `json:"attempt"`
	Metadata  eventbus.Metadata `json:"metadata,omitempty"`
	Payload   any               `json:"payload"`
}

func newConsumeCommand(opts *globalOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "consume TOPIC...",
		Short: "Print every record received on the given topics",
		Long: `Registers a consumer per topic and prints received records as JSON lines
until interrupted. With --metrics-addr the Prometheus metrics of the bus are
served on /metrics.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runConsume(ctx, cmd, opts, args, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func runConsume(ctx context.Context, cmd *cobra.Command, opts *globalOptions, topics []string, metricsAddr string) error {
	deps := eventbus.Dependencies{}
	var registry *prometheus.Registry
	if metricsAddr != "" {
		registry = prometheus.NewRegistry()
		deps.MetricsRegisterer = registry
	}

	bus, err := opts.openBus(ctx, cmd, deps)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	if registry != nil {
		srv := &http.Server{Addr: metricsAddr, Handler: metricsHandler(registry), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				bus.Logger.Error("Metrics server failed", err, eventbus.LogFields{"addr": metricsAddr})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out := cmd.OutOrStdout()
	for _, topic := range topics {
		err := bus.RegisterConsumer(topic, func(ctx context.Context, d eventbus.Delivery) error {
			line, err := eventbus.Marshal(consumedRecord{
				Topic:     d.Topic,
				MessageID: d.MessageID,
				Attempt:   d.Attempt,
				Metadata:  d.Metadata,
				Payload:   d.Payload,
			})
			if err != nil {
				return eventbus.Permanent(err)
			}
			_, err = fmt.Fprintln(out, string(line))
			return err
		})
		if err != nil {
			return err
		}
	}

	if err := bus.Start(ctx); err != nil {
		return err
	}
	bus.Logger.Info("Consuming", eventbus.LogFields{"topics": topics})

	<-ctx.Done()
	return nil
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return mux
}
