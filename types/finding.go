package types

import (
	"fmt"
	"math"
	"time"
)

// Finding is one structured observation produced by a checker
type Finding struct {
	CheckerID   string         `json:"agent_id"`
	Type        string         `json:"finding_type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
}

// Risk returns severity weight times confidence
func (f Finding) Risk() float64 {
	return f.Severity.Weight() * f.Confidence
}

// Validate ensures the finding has the fields downstream consumers rely on
func (f Finding) Validate() error {
	if f.CheckerID == "" {
		return fmt.Errorf("finding agent_id cannot be empty")
	}
	if f.Title == "" {
		return fmt.Errorf("finding title cannot be empty")
	}
	if !f.Severity.Valid() {
		return fmt.Errorf("finding severity %d is invalid", int(f.Severity))
	}
	if f.Confidence < 0.0 || f.Confidence > 1.0 {
		return fmt.Errorf("finding confidence must be between 0.0 and 1.0, got %f", f.Confidence)
	}
	return nil
}

// RiskScore is the maximum finding risk, clamped to [0,1] and rounded to two
// decimals. An empty list scores 0.
func RiskScore(findings []Finding) float64 {
	var max float64
	for _, f := range findings {
		if r := f.Risk(); r > max {
			max = r
		}
	}
	if max > 1.0 {
		max = 1.0
	}
	if max < 0 {
		max = 0
	}
	return math.Round(max*100) / 100
}

// HighestSeverity returns the greatest severity among findings, Low when empty
func HighestSeverity(findings []Finding) Severity {
	highest := SeverityLow
	for _, f := range findings {
		if f.Severity.Valid() && f.Severity > highest {
			highest = f.Severity
		}
	}
	return highest
}

// AuditEntry is one step of the append-only trace of a pipeline run
type AuditEntry struct {
	Step      string         `json:"step"`
	Agent     string         `json:"agent"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration_ns,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// IsError reports whether the entry records a failure
func (a AuditEntry) IsError() bool {
	return a.Error != ""
}
