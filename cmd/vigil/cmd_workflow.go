package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vigil/internal/daemon"
	"github.com/yairfalse/vigil/workflow"
)

var (
	wfCorrelation string
	wfRequester   string
	wfMetadata    []string
	wfActor       string
	wfReason      string
	wfStatus      []string
	wfType        string
	wfJSON        bool
)

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Manage compliance workflows",
	Long: `Create, advance and administer compliance workflows.

Templates: change_approval, access_review, incident_response.`,
}

var workflowCreateCmd = &cobra.Command{
	Use:     "create <type>",
	Short:   "Create a workflow from a template",
	Example: `  vigil workflow create change_approval --correlation chg-42 --requester alice --meta ticket=OPS-7`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := parseMetadata(wfMetadata)
		if err != nil {
			return err
		}
		return workflowAction(cmd, func(ctx context.Context, m *workflow.Machine) (*workflow.Workflow, error) {
			return m.Create(ctx, workflow.Type(args[0]), wfCorrelation, wfRequester, meta)
		})
	},
}

var workflowAdvanceCmd = &cobra.Command{
	Use:   "advance <id> <action>",
	Short: "Complete the current step when the action matches",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var outcome workflow.Outcome
		err := workflowAction(cmd, func(ctx context.Context, m *workflow.Machine) (*workflow.Workflow, error) {
			w, o, err := m.Advance(ctx, args[0], args[1], wfActor)
			outcome = o
			return w, err
		})
		if err == nil && outcome != workflow.Advanced {
			fmt.Fprintln(cmd.ErrOrStderr(), errStyle.Render("not advanced: "+outcome.String()))
		}
		return err
	},
}

var workflowGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowAction(cmd, func(ctx context.Context, m *workflow.Machine) (*workflow.Workflow, error) {
			return m.Get(ctx, args[0])
		})
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	Example: `  vigil workflow list --status awaiting_approval,escalated
  vigil workflow list --type incident_response`,
	RunE: runWorkflowList,
}

var workflowApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve the current step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowAction(cmd, func(ctx context.Context, m *workflow.Machine) (*workflow.Workflow, error) {
			return m.Approve(ctx, args[0], wfActor)
		})
	},
}

var workflowRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject and close a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowAction(cmd, func(ctx context.Context, m *workflow.Machine) (*workflow.Workflow, error) {
			return m.Reject(ctx, args[0], wfActor, wfReason)
		})
	},
}

var workflowUnblockCmd = &cobra.Command{
	Use:   "unblock <id>",
	Short: "Force the current step to complete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowAction(cmd, func(ctx context.Context, m *workflow.Machine) (*workflow.Workflow, error) {
			return m.Unblock(ctx, args[0], wfReason)
		})
	},
}

var workflowResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Rewind a workflow to its first step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowAction(cmd, func(ctx context.Context, m *workflow.Machine) (*workflow.Workflow, error) {
			return m.Reset(ctx, args[0])
		})
	},
}

var workflowEscalateCmd = &cobra.Command{
	Use:   "escalate <id>",
	Short: "Mark a workflow as escalated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return workflowAction(cmd, func(ctx context.Context, m *workflow.Machine) (*workflow.Workflow, error) {
			return m.Escalate(ctx, args[0], wfReason)
		})
	},
}

var workflowSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire and escalate overdue workflows now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd, func(ctx context.Context, c *daemon.Components) error {
			res, err := workflow.NewSweeper(c.Workflows).Sweep(ctx, time.Now())
			if err != nil {
				return err
			}
			if wfJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, field("expired", strings.Join(res.Expired, ", ")))
			fmt.Fprintln(out, field("escalated", strings.Join(res.Escalated, ", ")))
			for _, e := range res.Errors {
				fmt.Fprintln(out, errStyle.Render("  ! "+e))
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.PersistentFlags().BoolVar(&wfJSON, "json", false, "Print JSON")

	workflowCreateCmd.Flags().StringVar(&wfCorrelation, "correlation", "", "Correlation ID linking the workflow to events")
	workflowCreateCmd.Flags().StringVar(&wfRequester, "requester", "", "Requester ID")
	workflowCreateCmd.Flags().StringArrayVar(&wfMetadata, "meta", nil, "Metadata key=value (repeatable)")

	for _, c := range []*cobra.Command{workflowAdvanceCmd, workflowApproveCmd, workflowRejectCmd} {
		c.Flags().StringVar(&wfActor, "actor", "", "Acting user ID")
	}
	for _, c := range []*cobra.Command{workflowRejectCmd, workflowUnblockCmd, workflowEscalateCmd} {
		c.Flags().StringVar(&wfReason, "reason", "", "Reason recorded on the workflow")
	}

	workflowListCmd.Flags().StringSliceVar(&wfStatus, "status", nil, "Statuses to include (comma separated)")
	workflowListCmd.Flags().StringVar(&wfType, "type", "", "Workflow type")
	workflowListCmd.Flags().StringVar(&wfCorrelation, "correlation", "", "Correlation ID")

	workflowCmd.AddCommand(
		workflowCreateCmd, workflowAdvanceCmd, workflowGetCmd, workflowListCmd,
		workflowApproveCmd, workflowRejectCmd, workflowUnblockCmd, workflowResetCmd,
		workflowEscalateCmd, workflowSweepCmd,
	)
}

func workflowAction(cmd *cobra.Command, fn func(context.Context, *workflow.Machine) (*workflow.Workflow, error)) error {
	return withComponents(cmd, func(ctx context.Context, c *daemon.Components) error {
		w, err := fn(ctx, c.Workflows)
		if err != nil {
			return err
		}
		if wfJSON {
			return writeJSON(cmd.OutOrStdout(), w)
		}
		fmt.Fprint(cmd.OutOrStdout(), renderWorkflow(w))
		return nil
	})
}

func runWorkflowList(cmd *cobra.Command, _ []string) error {
	filter := workflow.Filter{Type: workflow.Type(wfType), CorrelationID: wfCorrelation}
	for _, name := range wfStatus {
		st, ok := workflow.ParseStatus(name)
		if !ok {
			return fmt.Errorf("unknown status %q", name)
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	return withComponents(cmd, func(ctx context.Context, c *daemon.Components) error {
		list, err := c.Workflows.List(ctx, filter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if wfJSON {
			if list == nil {
				list = []*workflow.Workflow{}
			}
			return writeJSON(out, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("no workflows"))
			return nil
		}
		for _, w := range list {
			fmt.Fprintln(out, renderWorkflowRow(w))
		}
		return nil
	})
}

func parseMetadata(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("metadata %q must be key=value", p)
		}
		meta[strings.TrimSpace(k)] = v
	}
	return meta, nil
}
