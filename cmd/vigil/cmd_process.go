package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/daemon"
	"github.com/yairfalse/vigil/internal/plugin"
)

var processJSON bool

var processCmd = &cobra.Command{
	Use:   "process [file|-]",
	Short: "Analyze events from a file or stdin",
	Long: `Run events through the analysis pipeline once and print the results.

Input is a JSON array, a single JSON object, or one object per line.
Reads stdin when the file is "-" or omitted.`,
	Example: `  vigil process events.json
  cat events.jsonl | vigil process
  vigil process --json incident.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().BoolVar(&processJSON, "json", false, "Print results as JSON")
}

func runProcess(cmd *cobra.Command, args []string) error {
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	events, err := plugin.ReadEvents(in)
	if err != nil {
		return err
	}

	return withComponents(cmd, func(ctx context.Context, c *daemon.Components) error {
		out := cmd.OutOrStdout()
		rejected := 0
		for i, ev := range events {
			result, err := c.Pipeline.Process(ctx, ev)
			if err != nil {
				rejected++
				fmt.Fprintln(cmd.ErrOrStderr(), errStyle.Render(fmt.Sprintf("event %d rejected: %v", i+1, err)))
				continue
			}

			if processJSON {
				if err := writeJSON(out, result); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(out, renderResult(result))
		}

		if rejected > 0 {
			return fmt.Errorf("%d of %d events rejected", rejected, len(events))
		}
		return nil
	})
}
