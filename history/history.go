// Package history answers behavioral questions about past events from the
// persisted audit trail.
package history

import (
	"context"
	"time"

	"github.com/yairfalse/vigil/types"
)

// SimilarEvent is a past event of the same type
type SimilarEvent struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Severity  types.Severity `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	RiskScore float64        `json:"risk_score"`
}

// Frequency is the result of a rate check for an event type
type Frequency struct {
	IsAnomaly bool          `json:"is_anomaly"`
	Count     int           `json:"count_in_window"`
	Threshold int           `json:"threshold"`
	Window    time.Duration `json:"window"`
	// Score is count/threshold capped at 2
	Score float64 `json:"anomaly_score"`
}

// ActorRisk is an actor's historical risk profile
type ActorRisk struct {
	RiskScore         float64 `json:"risk_score"`
	EventsCount       int     `json:"events_count"`
	HighSeverityCount int     `json:"high_severity_count"`
	RepeatOffender    bool    `json:"is_repeat_offender"`
}

// Neutral risk reported for actors without history
const neutralRisk = 0.5

// RepeatOffenderThreshold is the high-severity count that marks an actor
const RepeatOffenderThreshold = 3

// Source provides historical context to checkers and the synthesizer
type Source interface {
	SimilarEvents(ctx context.Context, eventType string, window time.Duration, limit int) ([]SimilarEvent, error)
	FrequencyAnomaly(ctx context.Context, eventType string, window time.Duration, threshold int) (Frequency, error)
	ActorRiskHistory(ctx context.Context, actorID string, window time.Duration) (ActorRisk, error)
}

// Nop is a Source with no history
type Nop struct{}

// SimilarEvents returns nothing
func (Nop) SimilarEvents(context.Context, string, time.Duration, int) ([]SimilarEvent, error) {
	return nil, nil
}

// FrequencyAnomaly reports no anomaly
func (Nop) FrequencyAnomaly(_ context.Context, _ string, window time.Duration, threshold int) (Frequency, error) {
	return Frequency{Threshold: threshold, Window: window}, nil
}

// ActorRiskHistory returns the neutral profile
func (Nop) ActorRiskHistory(context.Context, string, time.Duration) (ActorRisk, error) {
	return ActorRisk{RiskScore: neutralRisk}, nil
}

// frequencyScore computes count/threshold capped at 2
func frequencyScore(count, threshold int) float64 {
	if threshold <= 0 {
		return 0
	}
	score := float64(count) / float64(threshold)
	if score > 2.0 {
		score = 2.0
	}
	return score
}
