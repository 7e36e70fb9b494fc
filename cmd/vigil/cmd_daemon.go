package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/daemon"
	"github.com/yairfalse/vigil/telemetry"
)

var (
	daemonListen  string
	daemonWorkers int
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the continuous analysis daemon",
	Long: `Run Vigil in daemon mode.

Events arrive from the configured sources (file, Kafka, NATS, SQS,
CloudTrail) or POST /v1/events, wait in a priority queue and are analyzed
by a pool of workers. Results go to the log, Prometheus and optionally S3.
A sweeper expires and escalates compliance workflows.

Endpoints:
- /health and /metrics
- /v1/events, /v1/stats and /v1/workflows`,
	Example: `  vigil daemon --config vigil.toml
  vigil daemon --listen :9090 --workers 8`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVar(&daemonListen, "listen", "", "HTTP listen address (overrides daemon.listen)")
	daemonCmd.Flags().IntVar(&daemonWorkers, "workers", 0, "Worker count (overrides daemon.workers)")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	if daemonListen != "" {
		cfg.Daemon.Listen = daemonListen
	}
	if daemonWorkers > 0 {
		cfg.Daemon.Workers = daemonWorkers
	}

	ctx := cmd.Context()
	shutdown := initTelemetry(ctx)
	defer shutdown()

	return withComponents(cmd, func(ctx context.Context, c *daemon.Components) error {
		d, err := daemon.New(ctx, cfg, c)
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, titleStyle.Render("Vigil daemon "+version))
		fmt.Fprintln(out, field("listen", cfg.Daemon.Listen))
		fmt.Fprintln(out, field("workers", fmt.Sprint(cfg.Daemon.Workers)))
		fmt.Fprintln(out, field("storage", cfg.Storage.Path))
		fmt.Fprintln(out, field("llm", llmLabel()))

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon error: %w", err)
		}
		fmt.Fprintln(out, mutedStyle.Render("daemon stopped"))
		return nil
	})
}

func llmLabel() string {
	if !cfg.LLM.Enabled() {
		return "disabled (rule-based insights)"
	}
	return cfg.LLM.Model + " @ " + cfg.LLM.Endpoint
}

// initTelemetry sets up OTEL traces and metrics. Failure is logged and the
// daemon runs without export.
func initTelemetry(ctx context.Context) func() {
	logger := telemetry.NewLogger("vigil")

	otelCfg := telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.OTEL.Environment,
		Endpoint:       cfg.OTEL.Endpoint,
		Insecure:       cfg.OTEL.Insecure,
		SampleRate:     cfg.OTEL.Traces.SampleRate,
	}

	shutdown, err := telemetry.InitOTEL(ctx, otelCfg)
	if err != nil {
		logger.WithContext(ctx).Warn().Err(err).Msg("telemetry initialization failed, running without export")
		return func() {}
	}

	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.WithContext(ctx).Warn().Err(err).Msg("failed to shut down telemetry")
		}
	}
}
