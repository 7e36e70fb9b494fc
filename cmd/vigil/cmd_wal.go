package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/wal"
)

var (
	walSince time.Duration
	walTypes []string
	walJSON  bool
)

var walCmd = &cobra.Command{
	Use:   "wal",
	Short: "Inspect the write-ahead journal",
	Long: `Inspect the write-ahead journal.

Every processed event and workflow transition is appended to the journal
before it is acknowledged. These commands read the files directly and do
not need the database.`,
}

var walReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print journal entries",
	Example: `  vigil wal replay --since 1h
  vigil wal replay --type failed --json`,
	RunE: runWALReplay,
}

var walStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show journal statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s := wal.GetStatsFromDir(cfg.WAL.Dir, walConfig())
		out := cmd.OutOrStdout()
		if walJSON {
			return writeJSON(out, s)
		}

		lines := []string{
			field("files", fmt.Sprint(s.TotalFiles)),
			field("size", fmt.Sprintf("%d bytes", s.TotalSizeBytes)),
			field("entries", fmt.Sprint(s.SequenceCount)),
			field("sequence", fmt.Sprintf("%d..%d", s.FirstSequence, s.LastSequence)),
			field("failures", fmt.Sprint(s.Failures)),
		}
		if !s.OldestFile.IsZero() {
			lines = append(lines, field("oldest", s.OldestFile.Format(time.RFC3339)))
		}
		fmt.Fprintln(out, titleStyle.Render("Journal "+cfg.WAL.Dir))
		fmt.Fprintln(out, boxStyle.Render(strings.Join(lines, "\n")))

		byType := make(map[string]int, len(s.EntriesByType))
		for t, n := range s.EntriesByType {
			byType[string(t)] = n
		}
		fmt.Fprint(out, renderCounts("by type", byType))
		return nil
	},
}

var walCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove journal files past retention",
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := wal.CleanupWithStats(cfg.WAL.Dir, walConfig())
		if err != nil {
			return fmt.Errorf("failed to clean up journal: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(
			fmt.Sprintf("removed %d files (%d bytes)", res.FilesRemoved, res.BytesFreed)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(walCmd)
	walCmd.AddCommand(walReplayCmd, walStatsCmd, walCleanupCmd)
	walCmd.PersistentFlags().BoolVar(&walJSON, "json", false, "Print JSON")
	walReplayCmd.Flags().DurationVar(&walSince, "since", 0, "Only entries newer than this (0 for all)")
	walReplayCmd.Flags().StringSliceVar(&walTypes, "type", nil, "Entry types to include")
}

func walConfig() wal.Config {
	c := wal.DefaultConfig()
	if cfg.WAL.RetentionDays > 0 {
		c.RetentionDays = cfg.WAL.RetentionDays
	}
	return c
}

func runWALReplay(cmd *cobra.Command, _ []string) error {
	var since time.Time
	if walSince > 0 {
		since = time.Now().Add(-walSince)
	}
	include := make(map[wal.EntryType]bool, len(walTypes))
	for _, t := range walTypes {
		include[wal.EntryType(t)] = true
	}

	out := cmd.OutOrStdout()
	count := 0
	err := wal.ReplayWithConfig(cfg.WAL.Dir, walConfig(), since, func(e *wal.Entry) error {
		if len(include) > 0 && !include[e.Type] {
			return nil
		}
		count++
		if walJSON {
			return writeJSON(out, e)
		}
		line := fmt.Sprintf("%6d  %s  %-20s  %s",
			e.Sequence, e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.SubjectID)
		if e.Error != "" {
			line += " " + errStyle.Render(e.Error)
		}
		fmt.Fprintln(out, line)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replay journal: %w", err)
	}
	if !walJSON {
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%d entries", count)))
	}
	return nil
}
