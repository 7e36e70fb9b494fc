package synthesizer

import (
	"fmt"
	"strings"

	"github.com/yairfalse/vigil/types"
)

// template describes how rule-based analysis talks about a class of events
type template struct {
	keywords  []string
	label     string
	rootCause string
	actions   []string
}

// Checked top to bottom; the first keyword hit wins
var templates = []template{
	{
		keywords:  []string{"secret", "credential", "key_exposure", "leak"},
		label:     "credential exposure",
		rootCause: "Credentials were exposed outside their secure store",
		actions:   []string{"Rotate exposed credentials"},
	},
	{
		keywords:  []string{"deploy", "release", "rollout"},
		label:     "deployment change",
		rootCause: "A deployment changed the running system",
		actions:   []string{"Verify the change ticket and rollback plan"},
	},
	{
		keywords:  []string{"login", "auth", "sudo", "ssh"},
		label:     "authentication anomaly",
		rootCause: "Authentication activity deviated from expected behavior",
		actions:   []string{"Confirm the actor's identity"},
	},
	{
		keywords:  []string{"cpu", "memory", "disk", "latency", "saturation"},
		label:     "resource saturation",
		rootCause: "A resource is running close to its capacity",
		actions:   []string{"Check capacity headroom"},
	},
	{
		keywords:  []string{"reconciliation", "billing", "invoice", "transaction"},
		label:     "financial discrepancy",
		rootCause: "Financial records do not reconcile",
		actions:   []string{"Reconcile the affected ledger entries"},
	},
}

var severityActions = map[types.Severity][]string{
	types.SeverityCritical: {"Immediate investigation required", "Notify security team"},
	types.SeverityHigh:     {"Review and assess within 1 hour", "Document incident"},
	types.SeverityMedium:   {"Add to monitoring queue", "Review in next standup"},
	types.SeverityLow:      {"Log for audit purposes"},
}

func matchTemplate(eventType string) (template, bool) {
	lowered := strings.ToLower(eventType)
	for _, t := range templates {
		if types.ContainsAny(lowered, t.keywords...) {
			return t, true
		}
	}
	return template{}, false
}

// RuleBased analyzes an event without a language model
func RuleBased(event *types.Event, findings []types.Finding) Insight {
	sev := event.Severity.String()
	tmpl, templated := matchTemplate(event.Type)

	insight := Insight{Mode: ModeRuleBased}

	switch {
	case len(findings) > 0 && templated:
		insight.Summary = fmt.Sprintf("%s %s: %s. %d finding(s) identified.", sev, tmpl.label, findings[0].Title, len(findings))
	case len(findings) > 0:
		insight.Summary = fmt.Sprintf("%s event: %s. %d finding(s) identified.", sev, findings[0].Title, len(findings))
	case templated:
		insight.Summary = fmt.Sprintf("%s %s from %s. No critical findings.", sev, tmpl.label, event.Source)
	default:
		insight.Summary = fmt.Sprintf("%s event from %s. No critical findings.", sev, event.Source)
	}

	if len(findings) > 0 {
		insight.RootCause = findings[0].Description
		if insight.RootCause == "" {
			insight.RootCause = "See findings for details"
		}
	} else if templated {
		insight.RootCause = tmpl.rootCause
	}

	insight.Actions = append(insight.Actions, severityActions[event.Severity]...)
	if templated && event.Severity.AtLeast(types.SeverityMedium) {
		insight.Actions = append(insight.Actions, tmpl.actions...)
	}

	return insight
}
