package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/daemon"
	"github.com/yairfalse/vigil/internal/plugin"
	"github.com/yairfalse/vigil/policy"
	"github.com/yairfalse/vigil/types"
)

var rulesJSON bool

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and test compliance rules",
	Long: `Inspect and test the compliance rules loaded from the built-in catalog
and catalog.path.`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, engine, err := daemon.LoadPolicies(cmd.Context(), cfg.Catalog)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		policies := engine.Policies()
		if rulesJSON {
			return writeJSON(out, policies)
		}
		for _, p := range policies {
			domains := "all"
			if len(p.Domains) > 0 {
				names := make([]string, len(p.Domains))
				for i, d := range p.Domains {
					names[i] = string(d)
				}
				domains = strings.Join(names, ",")
			}
			fmt.Fprintf(out, "%-28s %s  %s %s\n",
				p.ID,
				severityStyle(p.Severity).Render(fmt.Sprintf("%-8s", p.Severity)),
				p.Name,
				mutedStyle.Render("["+domains+"] "+strings.Join(p.Frameworks, ", ")))
		}
		return nil
	},
}

// ruleHit is one violated rule for one event
type ruleHit struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	RuleID    string         `json:"rule_id"`
	Name      string         `json:"name"`
	Severity  types.Severity `json:"severity"`
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [file|-]",
	Short: "Evaluate rules against events without storing anything",
	Example: `  vigil rules check events.json
  echo '{"event_type":"BucketPolicyChanged","source_system":"aws","domain":"Security","payload":{"acl":"public-read"}}' | vigil rules check`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesCheck,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesCheckCmd)
	rulesCmd.PersistentFlags().BoolVar(&rulesJSON, "json", false, "Print JSON")
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0]) // #nosec G304 -- path is intentional user input
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	inputs, err := plugin.ReadEvents(in)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	_, engine, err := daemon.LoadPolicies(ctx, cfg.Catalog)
	if err != nil {
		return err
	}

	hits := []ruleHit{}
	for i, raw := range inputs {
		event, err := types.NewEvent(raw)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), errStyle.Render(fmt.Sprintf("event %d invalid: %v", i+1, err)))
			continue
		}
		input := policy.BuildInput(event)
		for _, p := range engine.Applicable(event.Domain) {
			violated, err := engine.Violated(ctx, p.ID, input)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errStyle.Render(err.Error()))
				continue
			}
			if violated {
				hits = append(hits, ruleHit{
					EventID:   event.ID,
					EventType: event.Type,
					RuleID:    p.ID,
					Name:      p.Name,
					Severity:  p.Severity,
				})
			}
		}
	}

	out := cmd.OutOrStdout()
	if rulesJSON {
		return writeJSON(out, hits)
	}
	if len(hits) == 0 {
		fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("no violations in %d events", len(inputs))))
		return nil
	}
	for _, h := range hits {
		fmt.Fprintf(out, "%s  %-24s %s %s\n",
			severityStyle(h.Severity).Render(fmt.Sprintf("%-8s", h.Severity)),
			h.RuleID, h.Name, mutedStyle.Render(h.EventType))
	}
	return nil
}
