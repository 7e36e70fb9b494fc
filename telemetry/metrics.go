package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics holds the instruments shared by the analysis pipeline,
// the workflow engine and the daemon. All methods are safe on a nil receiver.
type PipelineMetrics struct {
	eventsProcessed     metric.Int64Counter
	findings            metric.Int64Counter
	pipelineDuration    metric.Float64Histogram
	riskScore           metric.Float64Histogram
	llmCalls            metric.Int64Counter
	rulesSuppressed     metric.Int64Counter
	workflowTransitions metric.Int64Counter
	queueDepth          metric.Int64Gauge
	queueDropped        metric.Int64Counter
}

var (
	defaultMetrics     *PipelineMetrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider.
// Instrument creation errors leave the result nil, which disables recording.
func DefaultMetrics() *PipelineMetrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewPipelineMetrics(otel.Meter(instrumentationName))
		if err == nil {
			defaultMetrics = m
		}
	})
	return defaultMetrics
}

// NewPipelineMetrics creates pipeline instruments on the given meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	var err error

	if m.eventsProcessed, err = meter.Int64Counter("vigil.events.processed",
		metric.WithDescription("Number of events run through the analysis pipeline"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create events_processed counter: %w", err)
	}

	if m.findings, err = meter.Int64Counter("vigil.findings",
		metric.WithDescription("Number of findings produced by checkers"),
		metric.WithUnit("{finding}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create findings counter: %w", err)
	}

	if m.pipelineDuration, err = meter.Float64Histogram("vigil.pipeline.duration",
		metric.WithDescription("Duration of one pipeline run"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pipeline_duration histogram: %w", err)
	}

	if m.riskScore, err = meter.Float64Histogram("vigil.risk.score",
		metric.WithDescription("Aggregate risk score per event"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create risk_score histogram: %w", err)
	}

	if m.llmCalls, err = meter.Int64Counter("vigil.llm.calls",
		metric.WithDescription("Language model calls by outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm_calls counter: %w", err)
	}

	if m.rulesSuppressed, err = meter.Int64Counter("vigil.rules.suppressed",
		metric.WithDescription("Rule evaluation errors swallowed by checkers"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rules_suppressed counter: %w", err)
	}

	if m.workflowTransitions, err = meter.Int64Counter("vigil.workflows.transitions",
		metric.WithDescription("Workflow state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create workflow_transitions counter: %w", err)
	}

	if m.queueDepth, err = meter.Int64Gauge("vigil.queue.depth",
		metric.WithDescription("Events waiting in the intake queue"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queue_depth gauge: %w", err)
	}

	if m.queueDropped, err = meter.Int64Counter("vigil.queue.dropped",
		metric.WithDescription("Events dropped because the intake queue was full"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queue_dropped counter: %w", err)
	}

	return m, nil
}

// RecordEvent records one completed pipeline run
func (m *PipelineMetrics) RecordEvent(ctx context.Context, severity, domain string, risk float64, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("severity", severity),
		attribute.String("domain", domain),
	)
	m.eventsProcessed.Add(ctx, 1, attrs)
	m.pipelineDuration.Record(ctx, d.Seconds(), attrs)
	m.riskScore.Record(ctx, risk, attrs)
}

// RecordFinding records a finding emitted by a checker
func (m *PipelineMetrics) RecordFinding(ctx context.Context, agent, severity string) {
	if m == nil {
		return
	}
	m.findings.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("severity", severity),
	))
}

// RecordLLMCall records a model call outcome (success, timeout, error, parse_error)
func (m *PipelineMetrics) RecordLLMCall(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.llmCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSuppressed records rule errors swallowed by a checker
func (m *PipelineMetrics) RecordSuppressed(ctx context.Context, agent string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.rulesSuppressed.Add(ctx, int64(count), metric.WithAttributes(attribute.String("agent", agent)))
}

// RecordWorkflowTransition records a workflow reaching a status
func (m *PipelineMetrics) RecordWorkflowTransition(ctx context.Context, workflowType, status string) {
	if m == nil {
		return
	}
	m.workflowTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow.type", workflowType),
		attribute.String("status", status),
	))
}

// RecordQueue records current queue depth and newly dropped events
func (m *PipelineMetrics) RecordQueue(ctx context.Context, depth int, dropped int64) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, int64(depth))
	if dropped > 0 {
		m.queueDropped.Add(ctx, dropped)
	}
}
