package checker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yairfalse/vigil/history"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

var awsKeyPattern = regexp.MustCompile(`AKIA[0-9A-Z]{16}`)

const (
	repeatOffenderWindow   = 7 * 24 * time.Hour
	securityFrequencyLimit = 10
)

var unknownLocations = []string{"unknown", "unknown-ip", "tor", "vpn-exit"}

// Security detects credential leaks, risky access and repeat actors
type Security struct {
	history history.Source
	logger  *telemetry.Logger
}

// NewSecurity creates the security checker
func NewSecurity(src history.Source) *Security {
	if src == nil {
		src = history.Nop{}
	}
	return &Security{history: src, logger: telemetry.NewLogger("security_watchdog")}
}

// ID implements Checker
func (s *Security) ID() ID { return SecurityWatchdog }

// Check implements Checker
func (s *Security) Check(ctx context.Context, in Input) (Result, error) {
	if in.Event == nil {
		return completedOnly(SecurityWatchdog), nil
	}

	start := time.Now()
	event := in.Event
	p := event.Payload
	r := newRules(ctx, SecurityWatchdog, s.logger)

	actor := event.ActorID
	if actor == "" {
		actor = p.FirstString("user_id", "username")
	}
	if actor == "" {
		actor = "Unknown"
	}

	threat := func(name string, sev types.Severity, confidence float64, evidence map[string]any, remediation string) {
		evidence["actor"] = actor
		r.add(types.Finding{
			Type:        "Security Threat",
			Title:       name,
			Description: fmt.Sprintf("Detected: %s in event from %s", name, event.Source),
			Severity:    sev,
			Confidence:  confidence,
			Evidence:    evidence,
			Remediation: remediation,
		})
	}

	var matchedField string
	if r.evaluate("AWS Key Exposure", func() (bool, error) {
		for _, key := range sortedKeys(p) {
			if v, ok := p[key].(string); ok && awsKeyPattern.MatchString(v) {
				matchedField = key
				return true, nil
			}
		}
		if strings.Contains(p.Lower("secret_type"), "aws") {
			matchedField = "secret_type"
			return true, nil
		}
		return false, nil
	}) {
		threat("AWS Key Exposure", types.SeverityCritical, 0.95,
			map[string]any{"matched_field": matchedField},
			"Immediately rotate the exposed AWS access key.")
	}

	if r.evaluate("Privileged Command Without MFA", func() (bool, error) {
		return strings.Contains(p.Lower("action"), "sudo") && !p.BoolOr("mfa_present", true), nil
	}) {
		threat("Privileged Command Without MFA", types.SeverityCritical, 0.92,
			map[string]any{"action": p.String("action")},
			"Enforce MFA for all privileged operations.")
	}

	if r.evaluate("Production Database Access", func() (bool, error) {
		target := strings.ToLower(p.FirstString("target", "host"))
		return types.ContainsAny(target, "prod-db", "db-prod", "production"), nil
	}) {
		threat("Production Database Access", types.SeverityHigh, 0.80,
			map[string]any{"target": p.FirstString("target", "host")},
			"Verify access is through approved jump host.")
	}

	if r.evaluate("Unknown IP Location", func() (bool, error) {
		location := p.Lower("location")
		for _, l := range unknownLocations {
			if location == l {
				return true, nil
			}
		}
		return false, nil
	}) {
		threat("Unknown IP Location", types.SeverityHigh, 0.85,
			map[string]any{"location": p.String("location")},
			"Verify user identity and investigate source IP.")
	}

	ruleFindings := len(r.findings)

	if actor != "Unknown" {
		var profile history.ActorRisk
		if r.evaluate("Repeat Security Offender", func() (bool, error) {
			var err error
			profile, err = s.history.ActorRiskHistory(ctx, actor, repeatOffenderWindow)
			if err != nil {
				return false, err
			}
			return profile.RepeatOffender, nil
		}) {
			r.add(types.Finding{
				Type:        "Behavioral Pattern",
				Title:       "Repeat Security Offender",
				Description: fmt.Sprintf("Actor %s has %d high-severity events in past 7 days", actor, profile.HighSeverityCount),
				Severity:    types.SeverityHigh,
				Confidence:  0.90,
				Evidence: map[string]any{
					"actor":               actor,
					"historical_events":   profile.EventsCount,
					"high_severity_count": profile.HighSeverityCount,
					"avg_risk_score":      profile.RiskScore,
				},
				Remediation: "Investigate actor's access patterns. Consider temporary privilege revocation.",
			})
		}
	}

	var freq history.Frequency
	if r.evaluate("Unusual Event Frequency", func() (bool, error) {
		var err error
		freq, err = s.history.FrequencyAnomaly(ctx, event.Type, time.Hour, securityFrequencyLimit)
		if err != nil {
			return false, err
		}
		return freq.IsAnomaly, nil
	}) {
		r.add(types.Finding{
			Type:        "Frequency Anomaly",
			Title:       "Unusual Event Frequency",
			Description: fmt.Sprintf("%d %s events in past hour (threshold: %d)", freq.Count, event.Type, freq.Threshold),
			Severity:    types.SeverityMedium,
			Confidence:  0.75,
			Evidence: map[string]any{
				"count":         freq.Count,
				"threshold":     freq.Threshold,
				"anomaly_score": freq.Score,
			},
			Remediation: "Investigate for potential attack or misconfiguration.",
		})
	}

	historical := len(r.findings) - ruleFindings
	return r.result("Security Analysis", start,
		fmt.Sprintf("Detected %d threats + %d behavioral patterns.", ruleFindings, historical),
		map[string]any{
			"rule_findings":       ruleFindings,
			"historical_findings": historical,
			"actor":               actor,
		}), nil
}
