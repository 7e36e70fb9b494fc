// Package router selects which checkers run for an event.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vigil/checker"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// AgentName is the audit name of the routing step
const AgentName = "supervisor"

// group is one routing condition. It matches on the event domain or on a
// lowercase substring of the event type. Unknown matches no domain group.
type group struct {
	domain   types.Domain
	keywords []string
	checkers []checker.ID
}

// Groups are evaluated in order; every matching group contributes.
var groups = []group{
	{
		domain:   types.DomainSecurity,
		keywords: []string{"access", "auth", "login", "security", "ssh", "permission"},
		checkers: []checker.ID{checker.SecurityWatchdog, checker.ComplianceSentinel},
	},
	{
		domain:   types.DomainFinancial,
		keywords: []string{"financial", "cost", "billing", "payment", "reconciliation"},
		checkers: []checker.ID{checker.CostAnalyst, checker.ComplianceSentinel},
	},
	{
		domain:   types.DomainInfrastructure,
		keywords: []string{"metric", "system", "cpu", "memory", "disk", "health", "scaling", "resource"},
		checkers: []checker.ID{checker.InfrastructureMonitor, checker.ResourceWatcher, checker.AnomalyDetector},
	},
	{
		keywords: []string{"cost", "scale", "autoscal"},
		checkers: []checker.ID{checker.CostAnalyst, checker.InfrastructureMonitor},
	},
}

var (
	escalationCheckers = []checker.ID{checker.SecurityWatchdog, checker.ComplianceSentinel}
	fallbackCheckers   = []checker.ID{checker.SecurityWatchdog, checker.ComplianceSentinel, checker.AnomalyDetector}
)

// Decision is the routing result for one event
type Decision struct {
	Domain   types.Domain
	Severity types.Severity
	Checkers []checker.ID
	Audit    types.AuditEntry
}

// Names returns the selected checker names in order
func (d Decision) Names() []string {
	names := make([]string, len(d.Checkers))
	for i, id := range d.Checkers {
		names[i] = id.String()
	}
	return names
}

// Route decides the ordered, duplicate-free set of checkers for an event.
// The result is never empty.
func Route(ctx context.Context, event *types.Event) Decision {
	_, span := telemetry.Tracer.Start(ctx, "router.route",
		trace.WithAttributes(attribute.String("event.type", event.Type)))
	defer span.End()

	start := time.Now()
	domain := event.Domain
	eventType := event.LowerType()

	var selected []checker.ID
	for _, g := range groups {
		if (g.domain != "" && g.domain == domain) || types.ContainsAny(eventType, g.keywords...) {
			selected = append(selected, g.checkers...)
		}
	}

	if event.Severity.AtLeast(types.SeverityHigh) {
		selected = append(selected, escalationCheckers...)
	}

	if len(selected) == 0 {
		selected = append(selected, fallbackCheckers...)
	}

	selected = dedupe(selected)

	decision := Decision{
		Domain:   domain,
		Severity: event.Severity,
		Checkers: selected,
	}
	names := decision.Names()
	decision.Audit = types.AuditEntry{
		Step:      "Routing",
		Agent:     AgentName,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Message:   fmt.Sprintf("Routed to %d agents: %s", len(names), strings.Join(names, ", ")),
		Fields: map[string]any{
			"domain":    string(domain),
			"severity":  event.Severity.String(),
			"routed_to": names,
		},
	}

	span.SetAttributes(attribute.StringSlice("router.checkers", names))
	return decision
}

func dedupe(ids []checker.ID) []checker.ID {
	seen := make(map[checker.ID]bool, len(ids))
	out := make([]checker.ID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
