package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/config"
	"github.com/yairfalse/vigil/internal/daemon"
	"github.com/yairfalse/vigil/telemetry"
)

var (
	version    = "0.1.0"
	configPath string
	debug      bool
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:   "vigil",
		Short: "IT and SDLC event analysis engine",
		Long: `Vigil - IT and SDLC Event Analysis

Vigil runs every event through a set of specialist checkers (security,
compliance, cost, resources, infrastructure, anomaly), explains the
findings, writes an audit trail and opens compliance workflows for the
events that need a human decision.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Vigil {{.Version}} - IT and SDLC Event Analysis
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// loadConfig reads --config, or the defaults when unset, and applies the log
// level. Logs go to stderr so command output stays parseable.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		c = loaded
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	telemetry.SetOutput(cmd.ErrOrStderr())
	level := c.Log.Level
	if debug {
		level = "debug"
	}
	telemetry.SetLevel(level)

	cfg = c
	return nil
}

// withComponents wires the analysis stack for one command and closes it after
func withComponents(cmd *cobra.Command, fn func(ctx context.Context, c *daemon.Components) error) error {
	ctx := cmd.Context()
	c, err := daemon.Wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(ctx, c)
}
