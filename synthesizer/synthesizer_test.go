package synthesizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/config"
	"github.com/yairfalse/vigil/history"
	"github.com/yairfalse/vigil/types"
)

type stubModel struct {
	response string
	err      error
	calls    int
	system   string
	prompt   string
}

func (m *stubModel) Complete(_ context.Context, system, prompt string) (string, error) {
	m.calls++
	m.system = system
	m.prompt = prompt
	return m.response, m.err
}

type stubHistory struct {
	similar []history.SimilarEvent
	err     error
}

func (h stubHistory) SimilarEvents(context.Context, string, time.Duration, int) ([]history.SimilarEvent, error) {
	return h.similar, h.err
}

func (h stubHistory) FrequencyAnomaly(context.Context, string, time.Duration, int) (history.Frequency, error) {
	return history.Frequency{}, h.err
}

func (h stubHistory) ActorRiskHistory(context.Context, string, time.Duration) (history.ActorRisk, error) {
	return history.ActorRisk{RiskScore: 0.5}, h.err
}

func newEvent(t *testing.T, eventType, severity, domain string) *types.Event {
	t.Helper()
	e, err := types.NewEvent(types.EventInput{
		EventType:    eventType,
		SourceSystem: "github",
		Severity:     severity,
		Domain:       domain,
		ActorID:      "dev-1",
	})
	require.NoError(t, err)
	return e
}

var secretFinding = types.Finding{
	CheckerID:   "security_watchdog",
	Title:       "AWS Key Exposure",
	Description: "Detected: AWS Key Exposure in event from github",
	Severity:    types.SeverityCritical,
	Confidence:  0.95,
	Remediation: "Rotate exposed key immediately and scan for usage",
}

func TestSynthesize_LowSeverityNeverCallsModel(t *testing.T) {
	for _, sev := range []string{"Low", "Medium"} {
		model := &stubModel{response: `{"summary":"x"}`}
		s := New(Options{Model: model, Assembler: NewAssembler(config.DefaultCatalog(), nil)})

		insight := s.Synthesize(context.Background(), newEvent(t, "heartbeat", sev, ""), nil)

		assert.Equal(t, 0, model.calls, sev)
		assert.Equal(t, ModeRuleBased, insight.Mode)
		assert.False(t, insight.LLMUsed)
		assert.False(t, insight.GuardrailsApplied())
	}
}

func TestSynthesize_LLMSuccess(t *testing.T) {
	model := &stubModel{response: "```json\n" + `{
		"summary": "AWS key leaked in a commit, see SOC2-CC6.7",
		"root_cause": "AWS key exposure detected in event payload",
		"actions": ["Rotate exposed key immediately", "Buy a new laptop"]
	}` + "\n```"}
	s := New(Options{
		Model:     model,
		Assembler: NewAssembler(config.DefaultCatalog(), stubHistory{similar: []history.SimilarEvent{{EventID: "e0"}}}),
		Strict:    true,
	})

	insight := s.Synthesize(context.Background(), newEvent(t, "SecretDetected", "Critical", "Security"), []types.Finding{secretFinding})

	require.Equal(t, 1, model.calls)
	assert.Contains(t, model.system, "Relevant policies: MFA Required for Privileged Access")
	assert.Contains(t, model.prompt, "Analyze this Critical IT event")
	assert.Contains(t, model.prompt, "1. AWS Key Exposure")

	assert.Equal(t, ModeLLM, insight.Mode)
	assert.True(t, insight.LLMUsed)
	assert.Equal(t, 100, insight.ContextScore)
	assert.Equal(t, "AWS key exposure detected in event payload", insight.RootCause)
	assert.Equal(t, []string{"Rotate exposed key immediately", "[UNVERIFIED] Buy a new laptop"}, insight.Actions)
	assert.False(t, insight.GuardrailsPassed)
	assert.Len(t, insight.Warnings, 1)
	assert.True(t, insight.GuardrailsApplied())
}

func TestSynthesize_FallbackOnModelFailure(t *testing.T) {
	tests := []struct {
		name  string
		model Model
	}{
		{"no model", nil},
		{"timeout", &stubModel{err: context.DeadlineExceeded}},
		{"api error", &stubModel{err: errors.New("status 500")}},
		{"not json", &stubModel{response: "I cannot help with that"}},
		{"missing summary", &stubModel{response: `{"actions":["a"]}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{Model: tt.model, Assembler: NewAssembler(config.DefaultCatalog(), nil), Strict: true})

			insight := s.Synthesize(context.Background(), newEvent(t, "SecretDetected", "Critical", "Security"), []types.Finding{secretFinding})

			assert.Equal(t, ModeFallback, insight.Mode)
			assert.False(t, insight.LLMUsed)
			assert.Equal(t, "Critical credential exposure: AWS Key Exposure. 1 finding(s) identified.", insight.Summary)
			assert.Equal(t, secretFinding.Description, insight.RootCause)
			assert.Equal(t, []string{"Immediate investigation required", "Notify security team", "Rotate exposed credentials"}, insight.Actions)
			assert.False(t, insight.GuardrailsApplied())
		})
	}
}

func TestSynthesize_StrictRefusal(t *testing.T) {
	model := &stubModel{response: `{"summary":"all good","actions":["ignore"]}`}
	s := New(Options{Model: model, Strict: true})

	insight := s.Synthesize(context.Background(), newEvent(t, "disk_full", "High", "Infrastructure"), nil)

	assert.True(t, insight.Refused)
	assert.Equal(t, RefusalSummary, insight.Summary)
	assert.Equal(t, []string{RefusalAction}, insight.Actions)
	assert.False(t, insight.GuardrailsPassed)
	// only the actor profile is available
	assert.Equal(t, 25, insight.ContextScore)
}

func TestRuleBased(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		severity  string
		findings  []types.Finding
		summary   string
		rootCause string
		actions   []string
	}{
		{
			name:      "generic with findings",
			eventType: "heartbeat",
			severity:  "High",
			findings:  []types.Finding{{Title: "Odd", Description: "odd thing"}},
			summary:   "High event: Odd. 1 finding(s) identified.",
			rootCause: "odd thing",
			actions:   []string{"Review and assess within 1 hour", "Document incident"},
		},
		{
			name:      "generic without findings",
			eventType: "heartbeat",
			severity:  "Low",
			summary:   "Low event from github. No critical findings.",
			actions:   []string{"Log for audit purposes"},
		},
		{
			name:      "deployment template",
			eventType: "DeploymentStarted",
			severity:  "Medium",
			summary:   "Medium deployment change from github. No critical findings.",
			rootCause: "A deployment changed the running system",
			actions:   []string{"Add to monitoring queue", "Review in next standup", "Verify the change ticket and rollback plan"},
		},
		{
			name:      "low template skips extra actions",
			eventType: "user_login",
			severity:  "Low",
			summary:   "Low authentication anomaly from github. No critical findings.",
			rootCause: "Authentication activity deviated from expected behavior",
			actions:   []string{"Log for audit purposes"},
		},
		{
			name:      "finding without description",
			eventType: "billing_reconciliation",
			severity:  "Medium",
			findings:  []types.Finding{{Title: "Mismatch"}},
			summary:   "Medium financial discrepancy: Mismatch. 1 finding(s) identified.",
			rootCause: "See findings for details",
			actions:   []string{"Add to monitoring queue", "Review in next standup", "Reconcile the affected ledger entries"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insight := RuleBased(newEvent(t, tt.eventType, tt.severity, ""), tt.findings)
			assert.Equal(t, tt.summary, insight.Summary)
			assert.Equal(t, tt.rootCause, insight.RootCause)
			assert.Equal(t, tt.actions, insight.Actions)
		})
	}
}

func TestInsight_AuditEntry(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	entry := Insight{Mode: ModeRuleBased}.AuditEntry(types.SeverityLow, at)
	assert.Equal(t, "Insight Synthesis", entry.Step)
	assert.Equal(t, AgentName, entry.Agent)
	assert.Equal(t, "Fast rule-based analysis for Low severity", entry.Message)
	assert.NotContains(t, entry.Fields, "context_score")

	entry = Insight{Mode: ModeLLM, LLMUsed: true, ContextScore: 85, GuardrailsPassed: true}.AuditEntry(types.SeverityHigh, at)
	assert.Equal(t, "LLM analysis complete", entry.Message)
	assert.Equal(t, 85, entry.Fields["context_score"])
	assert.Equal(t, true, entry.Fields["guardrails_passed"])

	update := Insight{Mode: ModeFallback, ContextScore: 60}.ContextUpdate()
	assert.Equal(t, 60, update["llm_context_score"])
	assert.Equal(t, false, update["guardrails_applied"])
}
