package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// Resources checks reported service health and utilization
type Resources struct {
	logger *telemetry.Logger
}

// NewResources creates the resource checker
func NewResources() *Resources {
	return &Resources{logger: telemetry.NewLogger("resource_watcher")}
}

// ID implements Checker
func (w *Resources) ID() ID { return ResourceWatcher }

// Check implements Checker
func (w *Resources) Check(ctx context.Context, in Input) (Result, error) {
	if in.Event == nil {
		return completedOnly(ResourceWatcher), nil
	}

	start := time.Now()
	p := in.Event.Payload
	r := newRules(ctx, ResourceWatcher, w.logger)

	status := p.Lower("status")
	if r.evaluate("Service Health Issue", func() (bool, error) {
		switch status {
		case "unhealthy", "degraded", "critical", "down":
			return true, nil
		}
		return false, nil
	}) {
		sev := types.SeverityHigh
		if status == "critical" || status == "down" {
			sev = types.SeverityCritical
		}
		service := p.String("service_name")
		if service == "" {
			service = "Unknown"
		}
		r.add(types.Finding{
			Type:        "Health Alert",
			Title:       "Service Health Issue",
			Description: fmt.Sprintf("Service reported status: %s", status),
			Severity:    sev,
			Confidence:  0.95,
			Evidence:    map[string]any{"status": status, "service": service},
			Remediation: "Investigate service logs and consider restart.",
		})
	}

	metric := p.FirstString("metric_name", "metric")
	value := p.NumberOr("value", 0)
	if metric == "cpu_utilization" {
		if r.evaluate("Critical CPU Usage", func() (bool, error) { return value > 90, nil }) {
			r.add(types.Finding{
				Type:        "Resource Exhaustion",
				Title:       "Critical CPU Usage",
				Description: fmt.Sprintf("CPU utilization is at %s%% (Threshold: 90%%)", num(value)),
				Severity:    types.SeverityCritical,
				Confidence:  0.98,
				Evidence:    map[string]any{"cpu": value},
				Remediation: "Check for runaway processes or scale up instance type.",
			})
		} else if r.evaluate("High CPU Usage", func() (bool, error) { return value > 75, nil }) {
			r.add(types.Finding{
				Type:        "Performance Warning",
				Title:       "High CPU Usage",
				Description: fmt.Sprintf("CPU utilization is at %s%%", num(value)),
				Severity:    types.SeverityMedium,
				Confidence:  0.85,
				Evidence:    map[string]any{"cpu": value},
				Remediation: "Monitor for sustained load.",
			})
		}
	}

	memory := p.NumberOr("memory_pct", 0)
	if r.evaluate("High Memory Usage", func() (bool, error) { return memory > 85, nil }) {
		r.add(types.Finding{
			Type:        "Resource Exhaustion",
			Title:       "High Memory Usage",
			Description: fmt.Sprintf("Memory usage is at %s%%", num(memory)),
			Severity:    types.SeverityHigh,
			Confidence:  0.90,
			Evidence:    map[string]any{"memory": memory},
			Remediation: "Check for memory leaks or increase RAM.",
		})
	}

	instances := p.NumberOr("instance_count", 0)
	if r.evaluate("High Instance Count", func() (bool, error) { return instances > 50, nil }) {
		r.add(types.Finding{
			Type:        "Capacity Alert",
			Title:       "High Instance Count",
			Description: fmt.Sprintf("Service running %s instances", num(instances)),
			Severity:    types.SeverityMedium,
			Confidence:  0.70,
			Evidence:    map[string]any{"instance_count": instances},
			Remediation: "Review if scale is appropriate for current load.",
		})
	}

	return r.result("Resource Watch", start,
		fmt.Sprintf("Checked resources, found %d issues.", len(r.findings)), nil), nil
}
