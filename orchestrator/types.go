package orchestrator

import (
	"time"

	"github.com/yairfalse/vigil/types"
)

// State is the accumulated result of one pipeline run. Stages never write it
// directly; they return an Update which Merge folds in.
type State struct {
	Event              *types.Event       `json:"event"`
	Findings           []types.Finding    `json:"findings"`
	TotalRiskScore     float64            `json:"total_risk_score"`
	HighestSeverity    types.Severity     `json:"highest_severity,omitempty"`
	Summary            string             `json:"summary,omitempty"`
	RootCause          string             `json:"root_cause,omitempty"`
	RecommendedActions []string           `json:"recommended_actions,omitempty"`
	AgentsToRun        []string           `json:"agents_to_run,omitempty"`
	AgentsCompleted    []string           `json:"agents_completed,omitempty"`
	AuditLog           []types.AuditEntry `json:"audit_log"`
	StartTime          time.Time          `json:"start_time"`
	Context            map[string]any     `json:"context,omitempty"`
}

// Update is a partial State returned by a pipeline stage. Zero fields are
// ignored.
type Update struct {
	Event              *types.Event
	Findings           []types.Finding
	TotalRiskScore     float64
	HighestSeverity    types.Severity
	Summary            string
	RootCause          string
	RecommendedActions []string
	AgentsToRun        []string
	AgentsCompleted    []string
	AuditLog           []types.AuditEntry
	StartTime          time.Time
	Context            map[string]any
}

// NewState creates an empty state
func NewState() *State {
	return &State{Context: make(map[string]any)}
}

// Merge folds an update into the state:
//   - event, highest severity and start time keep their first write
//   - summary and root cause keep their first non-empty write
//   - the risk score only grows
//   - list fields concatenate in call order
//   - context keys are overwritten by later writes
func (s *State) Merge(u Update) {
	if s.Event == nil && u.Event != nil {
		s.Event = u.Event
	}
	if !s.HighestSeverity.Valid() && u.HighestSeverity.Valid() {
		s.HighestSeverity = u.HighestSeverity
	}
	if s.StartTime.IsZero() && !u.StartTime.IsZero() {
		s.StartTime = u.StartTime
	}
	if s.Summary == "" && u.Summary != "" {
		s.Summary = u.Summary
	}
	if s.RootCause == "" && u.RootCause != "" {
		s.RootCause = u.RootCause
	}
	if u.TotalRiskScore > s.TotalRiskScore {
		s.TotalRiskScore = u.TotalRiskScore
	}

	s.Findings = append(s.Findings, u.Findings...)
	s.RecommendedActions = append(s.RecommendedActions, u.RecommendedActions...)
	s.AgentsToRun = append(s.AgentsToRun, u.AgentsToRun...)
	s.AgentsCompleted = append(s.AgentsCompleted, u.AgentsCompleted...)
	s.AuditLog = append(s.AuditLog, u.AuditLog...)

	if len(u.Context) > 0 && s.Context == nil {
		s.Context = make(map[string]any, len(u.Context))
	}
	for k, v := range u.Context {
		s.Context[k] = v
	}
}

// contextCopy returns a shallow copy of the state context for checkers
func (s *State) contextCopy() map[string]any {
	out := make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		out[k] = v
	}
	return out
}

// Result is what a pipeline run hands to callers and emitters
type Result struct {
	State
	ProcessingTime   time.Duration `json:"processing_time_ns"`
	Mode             string        `json:"mode"`
	LLMUsed          bool          `json:"llm_used"`
	GuardrailsPassed bool          `json:"guardrails_passed"`
	DBStatus         string        `json:"db_status"`
	WorkflowID       string        `json:"workflow_id,omitempty"`
	Errors           []string      `json:"errors,omitempty"`
}
