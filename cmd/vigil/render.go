package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/yairfalse/vigil/orchestrator"
	"github.com/yairfalse/vigil/storage"
	"github.com/yairfalse/vigil/types"
	"github.com/yairfalse/vigil/workflow"
)

var (
	primary   = lipgloss.Color("#7C3AED")
	secondary = lipgloss.Color("#10B981")
	warning   = lipgloss.Color("#F59E0B")
	danger    = lipgloss.Color("#EF4444")
	muted     = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primary)
	labelStyle = lipgloss.NewStyle().Foreground(muted).Width(14)
	mutedStyle = lipgloss.NewStyle().Foreground(muted)
	okStyle    = lipgloss.NewStyle().Foreground(secondary).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(danger).Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primary).
			Padding(0, 1)
)

func severityStyle(s types.Severity) lipgloss.Style {
	switch s {
	case types.SeverityCritical:
		return lipgloss.NewStyle().Foreground(danger).Bold(true)
	case types.SeverityHigh:
		return lipgloss.NewStyle().Foreground(danger)
	case types.SeverityMedium:
		return lipgloss.NewStyle().Foreground(warning)
	default:
		return lipgloss.NewStyle().Foreground(secondary)
	}
}

func field(label, value string) string {
	return labelStyle.Render(label) + " " + value
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderResult(r *orchestrator.Result) string {
	var b strings.Builder
	event := r.Event
	sev := r.HighestSeverity
	if !sev.Valid() {
		sev = event.Severity
	}

	b.WriteString(titleStyle.Render(fmt.Sprintf("%s from %s", event.Type, event.Source)))
	b.WriteString("\n")

	lines := []string{
		field("event", event.ID),
		field("severity", severityStyle(sev).Render(sev.String())),
		field("domain", string(event.Domain)),
		field("risk", fmt.Sprintf("%.2f", r.TotalRiskScore)),
		field("mode", r.Mode),
		field("stored", r.DBStatus),
	}
	if r.WorkflowID != "" {
		lines = append(lines, field("workflow", r.WorkflowID))
	}
	b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	if r.Summary != "" {
		b.WriteString(r.Summary + "\n")
	}
	if r.RootCause != "" {
		b.WriteString(mutedStyle.Render("root cause: "+r.RootCause) + "\n")
	}

	for _, f := range r.Findings {
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			severityStyle(f.Severity).Render(fmt.Sprintf("[%s]", f.Severity)),
			f.Title,
			mutedStyle.Render(fmt.Sprintf("(%s, %.2f)", f.CheckerID, f.Confidence))))
	}
	for i, a := range r.RecommendedActions {
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, a))
	}
	for _, e := range r.Errors {
		b.WriteString(errStyle.Render("  ! "+e) + "\n")
	}
	return b.String()
}

func renderWorkflow(w *workflow.Workflow) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", w.Type, w.ID)))
	b.WriteString("\n")

	lines := []string{
		field("status", statusStyle(w.Status).Render(w.Status.String())),
		field("correlation", w.CorrelationID),
		field("requester", w.RequesterID),
		field("updated", w.UpdatedAt.Format("2006-01-02 15:04:05")),
	}
	if w.ApproverID != "" {
		lines = append(lines, field("approver", w.ApproverID))
	}
	b.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	for i, s := range w.Steps {
		marker := mutedStyle.Render("○")
		switch {
		case s.Done():
			marker = okStyle.Render("●")
		case i == w.CurrentStep && !w.Status.Terminal():
			marker = titleStyle.Render("▶")
		}
		line := fmt.Sprintf("  %s %-22s %s", marker, s.Name, mutedStyle.Render(s.RequiredAction))
		if s.Condition != "" {
			line += mutedStyle.Render(" if " + s.Condition)
		}
		if s.CompletedBy != "" {
			line += " " + s.CompletedBy
		}
		if s.Comment != "" {
			line += mutedStyle.Render(" ("+s.Comment+")")
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func statusStyle(s workflow.Status) lipgloss.Style {
	switch s {
	case workflow.StatusCompleted, workflow.StatusApproved:
		return okStyle
	case workflow.StatusRejected, workflow.StatusExpired:
		return errStyle
	case workflow.StatusEscalated, workflow.StatusAwaitingApproval:
		return lipgloss.NewStyle().Foreground(warning).Bold(true)
	default:
		return lipgloss.NewStyle()
	}
}

func renderWorkflowRow(w *workflow.Workflow) string {
	return fmt.Sprintf("%-36s  %-18s  %s  %s",
		w.ID, w.Type, statusStyle(w.Status).Render(fmt.Sprintf("%-17s", w.Status)), w.CorrelationID)
}

func renderStats(s storage.Stats) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Analysis since "+s.Since.Format("2006-01-02 15:04")) + "\n")

	lines := []string{
		field("events", fmt.Sprint(s.TotalEvents)),
		field("findings", fmt.Sprint(s.TotalFindings)),
		field("avg risk", fmt.Sprintf("%.2f", s.AverageRisk)),
		field("llm used", fmt.Sprint(s.LLMUsed)),
		field("guardrails", fmt.Sprintf("%d passed", s.GuardrailsPassed)),
	}
	b.WriteString(boxStyle.Render(strings.Join(lines, "\n")) + "\n")

	b.WriteString(renderCounts("by severity", s.BySeverity))
	b.WriteString(renderCounts("by domain", s.ByDomain))

	if len(s.TopFindings) > 0 {
		b.WriteString(mutedStyle.Render("top findings") + "\n")
		for _, tc := range s.TopFindings {
			b.WriteString(fmt.Sprintf("  %4d  %s\n", tc.Count, tc.Title))
		}
	}
	return b.String()
}

func renderCounts(label string, counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(mutedStyle.Render(label) + "\n")
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("  %-16s %d\n", k, counts[k]))
	}
	return b.String()
}

func renderAuditRow(r storage.AuditRecord) string {
	return fmt.Sprintf("%s  %s  %-24s  risk %.2f  %d findings",
		r.Timestamp.Format("2006-01-02 15:04:05"),
		severityStyle(r.HighestSeverity).Render(fmt.Sprintf("%-8s", r.HighestSeverity)),
		r.EventType, r.RiskScore, len(r.Findings))
}

func renderFindingRow(r storage.FindingRecord) string {
	return fmt.Sprintf("%s  %s  %-32s  %s",
		r.Timestamp.Format("2006-01-02 15:04:05"),
		severityStyle(r.Finding.Severity).Render(fmt.Sprintf("%-8s", r.Finding.Severity)),
		r.Finding.Title, mutedStyle.Render(r.EventType))
}
