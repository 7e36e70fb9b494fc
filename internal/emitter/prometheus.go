package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/vigil/orchestrator"
	"github.com/yairfalse/vigil/types"
)

const highSeverity = types.SeverityHigh

// PrometheusEmitter records results as OTEL instruments, scraped through
// the Prometheus exporter.
type PrometheusEmitter struct {
	meter metric.Meter

	resultsTotal       metric.Int64Counter
	processingSeconds  metric.Float64Histogram
	guardrailFailures  metric.Int64Counter
	workflowsTriggered metric.Int64Counter
	latestRisk         metric.Float64ObservableGauge

	// State for the observable gauge
	mu     sync.RWMutex
	latest map[types.Domain]float64
}

// NewPrometheusEmitter creates a Prometheus emitter. A nil meter uses the
// global provider.
func NewPrometheusEmitter(meter metric.Meter) (*PrometheusEmitter, error) {
	if meter == nil {
		meter = otel.Meter("vigil")
	}

	e := &PrometheusEmitter{
		meter:  meter,
		latest: make(map[types.Domain]float64),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.resultsTotal, err = e.meter.Int64Counter(
		"vigil_results_total",
		metric.WithDescription("Analysis results emitted"),
	)
	if err != nil {
		return fmt.Errorf("create results counter: %w", err)
	}

	e.processingSeconds, err = e.meter.Float64Histogram(
		"vigil_result_processing_seconds",
		metric.WithDescription("End to end processing time per event"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create processing histogram: %w", err)
	}

	e.guardrailFailures, err = e.meter.Int64Counter(
		"vigil_guardrail_failures_total",
		metric.WithDescription("LLM analyses that failed at least one guardrail"),
	)
	if err != nil {
		return fmt.Errorf("create guardrail counter: %w", err)
	}

	e.workflowsTriggered, err = e.meter.Int64Counter(
		"vigil_results_with_workflow_total",
		metric.WithDescription("Results linked to a compliance workflow"),
	)
	if err != nil {
		return fmt.Errorf("create workflow counter: %w", err)
	}

	e.latestRisk, err = e.meter.Float64ObservableGauge(
		"vigil_latest_risk_score",
		metric.WithDescription("Risk score of the most recent result per domain"),
		metric.WithFloat64Callback(e.observeRisk),
	)
	if err != nil {
		return fmt.Errorf("create latest_risk gauge: %w", err)
	}

	return nil
}

// Emit implements Emitter.
func (e *PrometheusEmitter) Emit(ctx context.Context, r *orchestrator.Result) error {
	attrs := metric.WithAttributes(
		attribute.String("severity", r.HighestSeverity.String()),
		attribute.String("domain", string(r.Event.Domain)),
		attribute.String("mode", r.Mode),
		attribute.String("db_status", dbStatusLabel(r.DBStatus)),
	)

	e.resultsTotal.Add(ctx, 1, attrs)
	e.processingSeconds.Record(ctx, r.ProcessingTime.Seconds(), metric.WithAttributes(
		attribute.String("mode", r.Mode),
	))
	if r.LLMUsed && !r.GuardrailsPassed {
		e.guardrailFailures.Add(ctx, 1)
	}
	if r.WorkflowID != "" {
		e.workflowsTriggered.Add(ctx, 1)
	}

	e.mu.Lock()
	e.latest[r.Event.Domain] = r.TotalRiskScore
	e.mu.Unlock()

	return nil
}

// Error strings carry free text; keep the label cardinality bounded.
func dbStatusLabel(status string) string {
	switch status {
	case "saved", "skipped", "":
		return status
	default:
		return "error"
	}
}

func (e *PrometheusEmitter) observeRisk(_ context.Context, o metric.Float64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for domain, risk := range e.latest {
		o.Observe(risk, metric.WithAttributes(attribute.String("domain", string(domain))))
	}
	return nil
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
