package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// Cost flags reconciliation mismatches and spend spikes
type Cost struct {
	logger *telemetry.Logger
}

// NewCost creates the cost checker
func NewCost() *Cost {
	return &Cost{logger: telemetry.NewLogger("cost_analyst")}
}

// ID implements Checker
func (c *Cost) ID() ID { return CostAnalyst }

// Check implements Checker
func (c *Cost) Check(ctx context.Context, in Input) (Result, error) {
	if in.Event == nil {
		return completedOnly(CostAnalyst), nil
	}

	start := time.Now()
	p := in.Event.Payload
	r := newRules(ctx, CostAnalyst, c.logger)

	mismatch := p.NumberOr("mismatch_amount", 0)
	daily := p.NumberOr("cost_impact_daily", 0)
	delta := p.NumberOr("delta_instances", 0)

	if r.evaluate("Reconciliation Mismatch", func() (bool, error) { return mismatch > 500, nil }) {
		sev := types.SeverityHigh
		if mismatch > 2000 {
			sev = types.SeverityCritical
		}
		r.add(types.Finding{
			Type:        "Financial Alert",
			Title:       "Reconciliation Mismatch",
			Description: fmt.Sprintf("$%s discrepancy detected in financial reconciliation", num(mismatch)),
			Severity:    sev,
			Confidence:  0.92,
			Evidence: map[string]any{
				"mismatch_amount":    mismatch,
				"monthly_projection": mismatch * 30,
			},
			Remediation: "Escalate to Finance for manual review and reconciliation.",
		})
	}

	if r.evaluate("Significant Daily Cost Increase", func() (bool, error) { return daily > 500, nil }) {
		sev := types.SeverityMedium
		if daily > 1000 {
			sev = types.SeverityHigh
		}
		r.add(types.Finding{
			Type:        "Cost Impact",
			Title:       "Significant Daily Cost Increase",
			Description: fmt.Sprintf("$%s/day additional spend ($%s/month projected)", num(daily), num(daily*30)),
			Severity:    sev,
			Confidence:  0.85,
			Evidence: map[string]any{
				"cost_daily":         daily,
				"monthly_projection": daily * 30,
				"delta_instances":    delta,
			},
			Remediation: "Review auto-scaling thresholds and consider reserved capacity.",
		})
	}

	if r.evaluate("Large Instance Scale-Out", func() (bool, error) { return delta > 5, nil }) {
		r.add(types.Finding{
			Type:        "Scaling Alert",
			Title:       "Large Instance Scale-Out",
			Description: fmt.Sprintf("Scaling event added %s instances", num(delta)),
			Severity:    types.SeverityMedium,
			Confidence:  0.75,
			Evidence:    map[string]any{"delta_instances": delta},
			Remediation: "Verify scaling is responding to genuine demand.",
		})
	}

	return r.result("Cost Analysis", start,
		fmt.Sprintf("Analyzed costs, found %d issues.", len(r.findings)), nil), nil
}
