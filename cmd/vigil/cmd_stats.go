package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/daemon"
)

var (
	statsSince     time.Duration
	statsJSON      bool
	compactOlder   time.Duration
	compactConfirm bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize analyzed events",
	Example: `  vigil stats
  vigil stats --since 168h --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd, func(ctx context.Context, c *daemon.Components) error {
			s, err := c.Store.SummaryStats(ctx, time.Now().Add(-statsSince))
			if err != nil {
				return fmt.Errorf("failed to compute stats: %w", err)
			}
			if statsJSON {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStats(s))
			return nil
		})
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Delete audit records older than a cutoff",
	Long: `Delete audit and finding records older than --older-than.

Workflows are kept. Run without --yes to see the cutoff only.`,
	Example: `  vigil compact --older-than 2160h --yes`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cutoff := time.Now().Add(-compactOlder)
		out := cmd.OutOrStdout()
		if !compactConfirm {
			fmt.Fprintln(out, field("cutoff", cutoff.Format(time.RFC3339)))
			fmt.Fprintln(out, mutedStyle.Render("dry run, pass --yes to delete"))
			return nil
		}
		return withComponents(cmd, func(ctx context.Context, c *daemon.Components) error {
			n, err := c.Store.Compact(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("failed to compact: %w", err)
			}
			fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("removed %d records", n)))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, compactCmd)
	statsCmd.Flags().DurationVar(&statsSince, "since", 24*time.Hour, "Window to summarize")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print JSON")

	compactCmd.Flags().DurationVar(&compactOlder, "older-than", 90*24*time.Hour, "Age of records to delete")
	compactCmd.Flags().BoolVar(&compactConfirm, "yes", false, "Actually delete")
}
