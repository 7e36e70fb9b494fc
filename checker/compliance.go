package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/vigil/policy"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// Compliance evaluates the loaded compliance policies
type Compliance struct {
	engine *policy.Engine
	logger *telemetry.Logger
}

// NewCompliance creates the compliance checker. A nil engine checks nothing.
func NewCompliance(engine *policy.Engine) *Compliance {
	return &Compliance{engine: engine, logger: telemetry.NewLogger("compliance_sentinel")}
}

// ID implements Checker
func (c *Compliance) ID() ID { return ComplianceSentinel }

// Check implements Checker
func (c *Compliance) Check(ctx context.Context, in Input) (Result, error) {
	if in.Event == nil {
		return completedOnly(ComplianceSentinel), nil
	}

	start := time.Now()
	r := newRules(ctx, ComplianceSentinel, c.logger)

	var policies []policy.Policy
	if c.engine != nil {
		policies = c.engine.Applicable(in.Event.Domain)
	}

	input := policy.BuildInput(in.Event)
	for _, p := range policies {
		p := p
		if r.evaluate(p.ID, func() (bool, error) {
			return c.engine.Violated(ctx, p.ID, input)
		}) {
			r.add(types.Finding{
				Type:        "Policy Violation",
				Title:       p.Title(),
				Description: p.Description,
				Severity:    p.Severity,
				Confidence:  p.Confidence,
				Evidence: map[string]any{
					"policy_id":  p.ID,
					"frameworks": p.Frameworks,
					"event_type": in.Event.Type,
					"custom":     p.Custom,
				},
				Remediation: p.Remediation,
			})
		}
	}

	return r.result("Compliance Analysis", start,
		fmt.Sprintf("Checked %d policies, found %d violations.", len(policies), len(r.findings)),
		map[string]any{"rules_checked": len(policies)}), nil
}
