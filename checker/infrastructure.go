package checker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// level is one step of a threshold ladder. Levels are checked in order and
// the first one the value reaches wins.
type level struct {
	threshold   float64
	title       string
	description string
	severity    types.Severity
	confidence  float64
	remediation string
}

// metricRule grades a single payload metric against a ladder
type metricRule struct {
	name     string
	keys     []string
	evidence string
	levels   []level
}

var infraMetrics = []metricRule{
	{
		name: "cpu", keys: []string{"cpu_usage"}, evidence: "cpu_usage",
		levels: []level{
			{95, "CPU Critical", "CPU usage at %s%% on %s", types.SeverityCritical, 0.95, "Immediate scaling required. Check for runaway processes or DDoS."},
			{85, "CPU High", "CPU usage at %s%% approaching critical on %s", types.SeverityHigh, 0.85, "Consider horizontal scaling or load balancing."},
			{75, "CPU Warning", "CPU usage at %s%% on %s", types.SeverityMedium, 0.70, "Monitor trend. Pre-scale if load is increasing."},
		},
	},
	{
		name: "memory", keys: []string{"memory_usage"}, evidence: "memory_usage",
		levels: []level{
			{95, "Memory Critical", "Memory at %s%% - OOM risk on %s", types.SeverityCritical, 0.95, "Restart service or scale immediately. Check for memory leaks."},
			{90, "Memory High", "Memory at %s%% on %s", types.SeverityHigh, 0.85, "Analyze heap dumps. Consider increasing instance memory."},
		},
	},
	{
		name: "disk", keys: []string{"disk_usage"}, evidence: "disk_usage",
		levels: []level{
			{95, "Disk Critical", "Disk at %s%% - service may fail on %s", types.SeverityCritical, 0.95, "Clear logs, expand volume, or add storage immediately."},
			{85, "Disk Space Low", "Disk at %s%% on %s", types.SeverityHigh, 0.80, "Schedule log rotation and cleanup old artifacts."},
		},
	},
	{
		name: "latency", keys: []string{"latency_ms", "response_time_ms"}, evidence: "latency_ms",
		levels: []level{
			{1000, "Latency Critical", "Response time %sms exceeds SLA on %s", types.SeverityCritical, 0.90, "Check database connections, network issues, or service dependencies."},
			{500, "High Latency", "Response time %sms on %s", types.SeverityMedium, 0.75, "Investigate slow database queries or external API calls."},
		},
	},
	{
		name: "error_rate", keys: []string{"error_rate", "error_percentage"}, evidence: "error_rate",
		levels: []level{
			{5, "Error Rate Critical", "%s%% error rate on %s", types.SeverityCritical, 0.92, "Immediate investigation required. Check recent deployments."},
			{2, "Elevated Error Rate", "%s%% error rate on %s", types.SeverityHigh, 0.80, "Review error logs and recent changes."},
		},
	},
}

// Infrastructure grades host and service metrics against fixed thresholds
type Infrastructure struct {
	logger *telemetry.Logger
}

// NewInfrastructure creates the infrastructure checker
func NewInfrastructure() *Infrastructure {
	return &Infrastructure{logger: telemetry.NewLogger("infrastructure_monitor")}
}

// ID implements Checker
func (m *Infrastructure) ID() ID { return InfrastructureMonitor }

// Check implements Checker
func (m *Infrastructure) Check(ctx context.Context, in Input) (Result, error) {
	if in.Event == nil {
		return completedOnly(InfrastructureMonitor), nil
	}

	start := time.Now()
	p := in.Event.Payload
	r := newRules(ctx, InfrastructureMonitor, m.logger)

	service := p.FirstString("service_name", "service_id")
	if service == "" {
		service = "Unknown Service"
	}

	alert := func(title, description string, sev types.Severity, confidence float64, evidence map[string]any, remediation string) {
		r.add(types.Finding{
			Type:        "Infrastructure Alert",
			Title:       title,
			Description: description,
			Severity:    sev,
			Confidence:  confidence,
			Evidence:    evidence,
			Remediation: remediation,
		})
	}

	for _, rule := range infraMetrics {
		value := p.FirstNumber(rule.keys...)
		if value <= 0 {
			continue
		}
		var hit *level
		if r.evaluate(rule.name, func() (bool, error) {
			for i := range rule.levels {
				if value >= rule.levels[i].threshold {
					hit = &rule.levels[i]
					return true, nil
				}
			}
			return false, nil
		}) {
			alert(hit.title, fmt.Sprintf(hit.description, num(value), service), hit.severity, hit.confidence,
				map[string]any{rule.evidence: value, "threshold": hit.threshold}, hit.remediation)
		}
	}

	status := p.Lower("status")
	if r.evaluate("service_health", func() (bool, error) {
		switch status {
		case "unhealthy", "degraded", "critical", "down", "failing":
			return true, nil
		}
		return false, nil
	}) {
		sev := types.SeverityHigh
		if status == "critical" || status == "down" {
			sev = types.SeverityCritical
		}
		alert("Service Unhealthy", fmt.Sprintf("Service %s reported status: %s", service, strings.ToUpper(status)),
			sev, 0.95, map[string]any{"status": status, "service": service},
			"Check service logs. Run health diagnostics. Consider failover.")
	}

	instances := p.NumberOr("instance_count", 0)
	delta := p.NumberOr("delta_instances", 0)

	if r.evaluate("scale_event", func() (bool, error) { return delta > 5, nil }) {
		alert("Large Scale Event", fmt.Sprintf("Scaled by %s instances (now %s)", num(delta), num(instances)),
			types.SeverityMedium, 0.70, map[string]any{"delta": delta, "total": instances},
			"Verify scaling trigger was legitimate. Check cost impact.")
	}

	if r.evaluate("instance_count", func() (bool, error) { return instances > 100, nil }) {
		alert("High Instance Count", fmt.Sprintf("Running %s instances for %s", num(instances), service),
			types.SeverityLow, 0.60, map[string]any{"instance_count": instances},
			"Review if scale is appropriate. Consider reserved capacity.")
	}

	health := healthStatus(r.findings)
	return r.result("Infrastructure Monitoring", start,
		fmt.Sprintf("Infrastructure check: %s (%d issues)", health, len(r.findings)),
		map[string]any{"service": service, "health_status": health}), nil
}

// healthStatus summarizes findings into a single label
func healthStatus(findings []types.Finding) string {
	if len(findings) == 0 {
		return "Healthy"
	}
	switch types.HighestSeverity(findings) {
	case types.SeverityCritical:
		return "Critical"
	case types.SeverityHigh:
		return "Degraded"
	case types.SeverityMedium:
		return "Warning"
	}
	return "Healthy"
}
