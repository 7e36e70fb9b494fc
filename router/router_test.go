package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/checker"
	"github.com/yairfalse/vigil/types"
)

func newEvent(t *testing.T, eventType, severity, domain string) *types.Event {
	t.Helper()
	event, err := types.NewEvent(types.EventInput{
		EventType:    eventType,
		SourceSystem: "test",
		Severity:     severity,
		Domain:       domain,
	})
	require.NoError(t, err)
	return event
}

func indexOf(ids []checker.ID, id checker.ID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestRoute_SecurityLow(t *testing.T) {
	d := Route(context.Background(), newEvent(t, "badge_swipe", "Low", "Security"))

	sec := indexOf(d.Checkers, checker.SecurityWatchdog)
	comp := indexOf(d.Checkers, checker.ComplianceSentinel)
	require.NotEqual(t, -1, sec)
	require.NotEqual(t, -1, comp)
	assert.Less(t, sec, comp, "security_watchdog precedes compliance_sentinel")
}

func TestRoute_CriticalAlwaysEscalates(t *testing.T) {
	d := Route(context.Background(), newEvent(t, "disk_full", "Critical", "Infrastructure"))

	assert.Subset(t, d.Checkers, []checker.ID{
		checker.SecurityWatchdog,
		checker.ComplianceSentinel,
		checker.InfrastructureMonitor,
		checker.ResourceWatcher,
		checker.AnomalyDetector,
	})
}

func TestRoute_UnknownDomain(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		severity  string
		want      []checker.ID
	}{
		{
			name:      "no keyword falls back",
			eventType: "SecretDetected",
			severity:  "Low",
			want:      []checker.ID{checker.SecurityWatchdog, checker.ComplianceSentinel, checker.AnomalyDetector},
		},
		{
			name:      "keyword still matches",
			eventType: "health_check",
			severity:  "Low",
			want:      []checker.ID{checker.InfrastructureMonitor, checker.ResourceWatcher, checker.AnomalyDetector},
		},
		{
			name:      "high severity escalates only",
			eventType: "SecretDetected",
			severity:  "High",
			want:      []checker.ID{checker.SecurityWatchdog, checker.ComplianceSentinel},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := newEvent(t, tt.eventType, tt.severity, "")
			require.Equal(t, types.DomainUnknown, event.Domain)

			d := Route(context.Background(), event)
			assert.Equal(t, types.DomainUnknown, d.Domain)
			assert.Equal(t, tt.want, d.Checkers)
		})
	}
}

func TestRoute_OverlappingKeywords(t *testing.T) {
	// "cost" hits the financial and cost/scale groups, "scale" hits cost/scale
	d := Route(context.Background(), newEvent(t, "cost_scale_event", "Low", "Financial"))

	assert.Equal(t, []checker.ID{
		checker.CostAnalyst,
		checker.ComplianceSentinel,
		checker.InfrastructureMonitor,
	}, d.Checkers)
}

func TestRoute_AlwaysNonEmptyAndUnique(t *testing.T) {
	cases := []struct{ eventType, severity, domain string }{
		{"x", "Low", "Compliance"},
		{"login", "Critical", "Security"},
		{"autoscaling_cpu_metric", "High", "Infrastructure"},
		{"billing_payment", "Medium", "Financial"},
		{"policy_update", "Low", "Compliance"},
	}

	for _, c := range cases {
		t.Run(c.eventType, func(t *testing.T) {
			d := Route(context.Background(), newEvent(t, c.eventType, c.severity, c.domain))
			require.NotEmpty(t, d.Checkers)

			seen := map[checker.ID]bool{}
			for _, id := range d.Checkers {
				assert.False(t, seen[id], "duplicate %s", id)
				seen[id] = true
			}
		})
	}
}

func TestRoute_ComplianceLowFallsBack(t *testing.T) {
	d := Route(context.Background(), newEvent(t, "quarterly_review", "Low", "Compliance"))

	assert.Equal(t, []checker.ID{
		checker.SecurityWatchdog,
		checker.ComplianceSentinel,
		checker.AnomalyDetector,
	}, d.Checkers)
}

func TestRoute_AuditEntry(t *testing.T) {
	d := Route(context.Background(), newEvent(t, "ssh_login", "High", "Security"))

	assert.Equal(t, "Routing", d.Audit.Step)
	assert.Equal(t, AgentName, d.Audit.Agent)
	assert.Equal(t, "Security", d.Audit.Fields["domain"])
	assert.Equal(t, "High", d.Audit.Fields["severity"])
	assert.Equal(t, "Routed to 2 agents: security_watchdog, compliance_sentinel", d.Audit.Message)
}
