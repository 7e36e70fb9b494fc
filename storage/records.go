package storage

import (
	"encoding/json"
	"time"

	"github.com/yairfalse/vigil/types"
)

// AuditRecord is the persisted outcome of one pipeline run
type AuditRecord struct {
	EventID          string             `json:"event_id"`
	CorrelationID    string             `json:"correlation_id"`
	EventType        string             `json:"event_type"`
	Source           string             `json:"source_system"`
	ActorID          string             `json:"actor_id,omitempty"`
	ResourceID       string             `json:"resource_id,omitempty"`
	Severity         types.Severity     `json:"severity"`
	Domain           types.Domain       `json:"domain"`
	EventTime        time.Time          `json:"event_time"`
	Timestamp        time.Time          `json:"timestamp"`
	RiskScore        float64            `json:"risk_score"`
	HighestSeverity  types.Severity     `json:"highest_severity"`
	Findings         []types.Finding    `json:"findings,omitempty"`
	Summary          string             `json:"summary,omitempty"`
	RootCause        string             `json:"root_cause,omitempty"`
	Actions          []string           `json:"actions,omitempty"`
	LLMUsed          bool               `json:"llm_used"`
	Mode             string             `json:"mode,omitempty"`
	GuardrailsPassed bool               `json:"guardrails_passed"`
	ContextScore     int                `json:"context_score"`
	ProcessingTime   time.Duration      `json:"processing_time_ns"`
	AgentsCompleted  []string           `json:"agents_completed,omitempty"`
	AuditLog         []types.AuditEntry `json:"audit_log,omitempty"`
}

// FindingRecord is a finding stored alongside the event that produced it
type FindingRecord struct {
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	ActorID   string        `json:"actor_id,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Finding   types.Finding `json:"finding"`
}

// WorkflowRecord is a versioned workflow document. Data is opaque to the
// store; the indexed fields are copied out of it by the caller.
type WorkflowRecord struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Status        string          `json:"status"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Data          json.RawMessage `json:"data"`
}

// WorkflowFilter selects workflows from the index. Zero fields match all.
type WorkflowFilter struct {
	Statuses      []string
	ExcludeStatus []string
	Type          string
	CorrelationID string
	CreatedBefore time.Time
}

func (f WorkflowFilter) matches(w *WorkflowState) bool {
	if f.Type != "" && w.Type != f.Type {
		return false
	}
	if f.CorrelationID != "" && w.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.CreatedBefore.IsZero() && !w.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if len(f.Statuses) > 0 && !containsString(f.Statuses, w.Status) {
		return false
	}
	if containsString(f.ExcludeStatus, w.Status) {
		return false
	}
	return true
}

// TitleCount is a finding title with its occurrence count
type TitleCount struct {
	Title string `json:"title"`
	Count int    `json:"count"`
}

// Stats summarizes stored audit records over a period
type Stats struct {
	Since            time.Time      `json:"since"`
	TotalEvents      int            `json:"total_events"`
	TotalFindings    int            `json:"total_findings"`
	BySeverity       map[string]int `json:"by_severity"`
	ByDomain         map[string]int `json:"by_domain"`
	AverageRisk      float64        `json:"average_risk"`
	LLMUsed          int            `json:"llm_used"`
	GuardrailsPassed int            `json:"guardrails_passed"`
	TopFindings      []TitleCount   `json:"top_findings"`
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
