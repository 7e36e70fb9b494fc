package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/daemon"
)

var (
	historySince time.Duration
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the audit trail",
}

var historyActorCmd = &cobra.Command{
	Use:     "actor <id>",
	Short:   "Audit records for one actor",
	Example: `  vigil history actor alice@example.com --since 720h`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, func(ctx context.Context, c *daemon.Components) error {
			records, err := c.Store.AuditByActor(ctx, args[0], time.Now().Add(-historySince))
			if err != nil {
				return fmt.Errorf("failed to query actor history: %w", err)
			}
			out := cmd.OutOrStdout()
			if historyJSON {
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no records"))
			}
			for _, r := range records {
				fmt.Fprintln(out, renderAuditRow(r))
			}
			return nil
		})
	},
}

var historyAgentCmd = &cobra.Command{
	Use:     "agent <name>",
	Short:   "Findings raised by one checker",
	Example: `  vigil history agent security_watchdog`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd, func(ctx context.Context, c *daemon.Components) error {
			records, err := c.Store.FindingsByAgent(ctx, args[0], time.Now().Add(-historySince))
			if err != nil {
				return fmt.Errorf("failed to query agent findings: %w", err)
			}
			out := cmd.OutOrStdout()
			if historyJSON {
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no findings"))
			}
			for _, r := range records {
				fmt.Fprintln(out, renderFindingRow(r))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyActorCmd, historyAgentCmd)
	historyCmd.PersistentFlags().DurationVar(&historySince, "since", 7*24*time.Hour, "How far back to look")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Print JSON")
}
