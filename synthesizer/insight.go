// Package synthesizer turns findings into a human-readable insight, using a
// language model for High and Critical events and rule templates otherwise.
package synthesizer

import (
	"time"

	"github.com/yairfalse/vigil/types"
)

// AgentName is the synthesizer's name in audit entries
const AgentName = "insight_synthesizer"

// Mode tells how an insight was produced
type Mode string

// Synthesis modes
const (
	ModeRuleBased Mode = "rule_based"
	ModeLLM       Mode = "llm"
	ModeFallback  Mode = "fallback"
)

// Insight is the synthesized explanation of an event
type Insight struct {
	Summary          string        `json:"summary"`
	RootCause        string        `json:"root_cause,omitempty"`
	Actions          []string      `json:"recommended_actions"`
	LLMUsed          bool          `json:"llm_used"`
	Mode             Mode          `json:"mode"`
	ContextScore     int           `json:"context_score"`
	GuardrailsPassed bool          `json:"guardrails_passed"`
	Warnings         []string      `json:"guardrail_warnings,omitempty"`
	Refused          bool          `json:"refused,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
}

// GuardrailsApplied reports whether the response went through guardrails
func (i Insight) GuardrailsApplied() bool {
	return i.Mode == ModeLLM
}

// AuditEntry renders the insight's audit trail entry
func (i Insight) AuditEntry(severity types.Severity, at time.Time) types.AuditEntry {
	message := "Rule-based analysis complete"
	switch i.Mode {
	case ModeRuleBased:
		message = "Fast rule-based analysis for " + severity.String() + " severity"
	case ModeLLM:
		message = "LLM analysis complete"
	}

	fields := map[string]any{
		"mode":     string(i.Mode),
		"llm_used": i.LLMUsed,
	}
	if i.Mode != ModeRuleBased {
		fields["context_score"] = i.ContextScore
		fields["guardrails_passed"] = i.GuardrailsPassed
	}
	if i.Refused {
		fields["refused"] = true
	}
	if len(i.Warnings) > 0 {
		fields["guardrail_warnings"] = i.Warnings
	}

	return types.AuditEntry{
		Step:      "Insight Synthesis",
		Agent:     AgentName,
		Timestamp: at,
		Duration:  i.Duration,
		Message:   message,
		Fields:    fields,
	}
}

// Pipeline context keys written by ContextUpdate
const (
	KeyContextScore      = "llm_context_score"
	KeyGuardrailsApplied = "guardrails_applied"
	KeyGuardrailsPassed  = "guardrails_passed"
	KeyLLMUsed           = "llm_used"
	KeyMode              = "synthesis_mode"
)

// ContextUpdate is what the insight adds to the pipeline context
func (i Insight) ContextUpdate() map[string]any {
	return map[string]any{
		KeyContextScore:      i.ContextScore,
		KeyGuardrailsApplied: i.GuardrailsApplied(),
		KeyGuardrailsPassed:  i.GuardrailsPassed,
		KeyLLMUsed:           i.LLMUsed,
		KeyMode:              string(i.Mode),
	}
}
