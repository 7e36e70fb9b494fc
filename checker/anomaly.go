package checker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/yairfalse/vigil/history"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

const (
	baselineWindow        = 24 * time.Hour
	baselineLimit         = 20
	anomalyFrequencyLimit = 5
)

// baseline summarizes recent events of the same type
type baseline struct {
	count             int
	avgRisk           float64
	highSeverityCount int
}

func newBaseline(events []history.SimilarEvent) (baseline, bool) {
	if len(events) == 0 {
		return baseline{}, false
	}
	b := baseline{count: len(events)}
	var total float64
	for _, e := range events {
		total += e.RiskScore
		if e.Severity.AtLeast(types.SeverityHigh) {
			b.highSeverityCount++
		}
	}
	b.avgRisk = total / float64(len(events))
	return b, true
}

// Anomaly compares the event against thresholds and its own history
type Anomaly struct {
	history history.Source
	logger  *telemetry.Logger
}

// NewAnomaly creates the anomaly checker
func NewAnomaly(src history.Source) *Anomaly {
	if src == nil {
		src = history.Nop{}
	}
	return &Anomaly{history: src, logger: telemetry.NewLogger("anomaly_detector")}
}

// ID implements Checker
func (a *Anomaly) ID() ID { return AnomalyDetector }

// Check implements Checker
func (a *Anomaly) Check(ctx context.Context, in Input) (Result, error) {
	if in.Event == nil {
		return completedOnly(AnomalyDetector), nil
	}

	start := time.Now()
	event := in.Event
	p := event.Payload
	r := newRules(ctx, AnomalyDetector, a.logger)

	var base baseline
	hasBaseline := r.evaluate("historical_baseline", func() (bool, error) {
		events, err := a.history.SimilarEvents(ctx, event.Type, baselineWindow, baselineLimit)
		if err != nil {
			return false, err
		}
		var ok bool
		base, ok = newBaseline(events)
		return ok, nil
	})
	if hasBaseline {
		a.logger.WithContext(ctx).Debug().
			Str("event_type", event.Type).
			Int("events", base.count).
			Float64("avg_risk", base.avgRisk).
			Msg("baseline established")
	}

	cpu := p.NumberOr("cpu_usage", 0)
	memory := p.NumberOr("memory_usage", 0)
	disk := p.NumberOr("disk_usage", 0)
	cost := p.NumberOr("cost_impact_daily", 0)

	if r.evaluate("cpu", func() (bool, error) { return cpu > 90, nil }) {
		newPattern := base.highSeverityCount < 2
		confidence := 0.90
		if newPattern {
			confidence = math.Min(confidence+0.1, 1.0)
		}
		sev := types.SeverityHigh
		if cpu > 95 {
			sev = types.SeverityCritical
		}
		r.add(types.Finding{
			Type:        "Resource Anomaly",
			Title:       "Critical CPU Usage",
			Description: fmt.Sprintf("CPU usage at %s%% exceeds critical threshold", num(cpu)),
			Severity:    sev,
			Confidence:  confidence,
			Evidence: map[string]any{
				"cpu_usage":             cpu,
				"threshold":             90,
				"is_new_pattern":        newPattern,
				"historical_events_24h": base.count,
			},
			Remediation: "Scale horizontally or investigate runaway processes.",
		})
	}

	if r.evaluate("memory", func() (bool, error) { return memory > 85, nil }) {
		sev := types.SeverityMedium
		if memory > 90 {
			sev = types.SeverityHigh
		}
		r.add(types.Finding{
			Type:        "Resource Anomaly",
			Title:       "High Memory Usage",
			Description: fmt.Sprintf("Memory usage at %s%% exceeds threshold", num(memory)),
			Severity:    sev,
			Confidence:  0.85,
			Evidence:    map[string]any{"memory_usage": memory, "threshold": 85},
			Remediation: "Check for memory leaks or increase instance size.",
		})
	}

	if r.evaluate("disk", func() (bool, error) { return disk > 80, nil }) {
		r.add(types.Finding{
			Type:        "Resource Anomaly",
			Title:       "Disk Space Warning",
			Description: fmt.Sprintf("Disk usage at %s%% approaching capacity", num(disk)),
			Severity:    types.SeverityMedium,
			Confidence:  0.80,
			Evidence:    map[string]any{"disk_usage": disk, "threshold": 80},
			Remediation: "Clean up logs or expand storage.",
		})
	}

	if r.evaluate("cost", func() (bool, error) { return cost > 500, nil }) {
		sev := types.SeverityMedium
		if cost > 1000 {
			sev = types.SeverityHigh
		}
		r.add(types.Finding{
			Type:        "Cost Anomaly",
			Title:       "Significant Cost Impact",
			Description: fmt.Sprintf("Daily cost impact of $%s detected", num(cost)),
			Severity:    sev,
			Confidence:  0.88,
			Evidence:    map[string]any{"cost_impact_daily": cost},
			Remediation: "Review scaling policies and resource allocation.",
		})
	}

	var freq history.Frequency
	if r.evaluate("event_rate", func() (bool, error) {
		var err error
		freq, err = a.history.FrequencyAnomaly(ctx, event.Type, time.Hour, anomalyFrequencyLimit)
		if err != nil {
			return false, err
		}
		return freq.IsAnomaly, nil
	}) {
		sev := types.SeverityHigh
		if freq.Score < 1.5 {
			sev = types.SeverityMedium
		}
		r.add(types.Finding{
			Type:        "Frequency Anomaly",
			Title:       "Event Rate Spike",
			Description: fmt.Sprintf("%d similar events in the last hour - %.1fx normal", freq.Count, freq.Score),
			Severity:    sev,
			Confidence:  math.Min(0.70+freq.Score*0.1, 0.95),
			Evidence: map[string]any{
				"count_in_window": freq.Count,
				"threshold":       freq.Threshold,
				"anomaly_score":   freq.Score,
			},
			Remediation: "Investigate for potential misconfiguration, attack, or cascading failure.",
		})
	}

	if hasBaseline {
		weight := event.Severity.Weight()
		if r.evaluate("severity_escalation", func() (bool, error) {
			return weight > base.avgRisk+0.3, nil
		}) {
			r.add(types.Finding{
				Type:        "Pattern Deviation",
				Title:       "Severity Escalation",
				Description: fmt.Sprintf("Event severity (%s) is higher than historical pattern (avg risk: %.2f)", event.Severity, base.avgRisk),
				Severity:    types.SeverityMedium,
				Confidence:  0.70,
				Evidence: map[string]any{
					"current_severity":    event.Severity.String(),
					"historical_avg_risk": base.avgRisk,
					"deviation":           weight - base.avgRisk,
				},
				Remediation: "Review if conditions have changed. May indicate escalating issue.",
			})
		}
	}

	return r.result("Anomaly Detection", start,
		fmt.Sprintf("Analyzed metrics with historical baseline, found %d anomalies.", len(r.findings)),
		map[string]any{
			"historical_baseline_available": hasBaseline,
			"events_in_baseline":            base.count,
		}), nil
}
