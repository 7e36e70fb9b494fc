package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordFindingEvent adds a finding to the span of the checker that raised it
func RecordFindingEvent(
	span trace.Span,
	agent string,
	title string,
	severity string,
	confidence float64,
) {
	if span == nil {
		return
	}

	span.AddEvent("vigil.finding.raised", trace.WithAttributes(
		attribute.String("event.type", "vigil.finding.raised"),
		attribute.String("agent", agent),
		attribute.String("finding.title", title),
		attribute.String("severity", severity),
		attribute.Float64("confidence", confidence),
	))
}

// RecordWorkflowTransitionEvent marks a workflow status change
func RecordWorkflowTransitionEvent(
	span trace.Span,
	workflowID string,
	workflowType string,
	from string,
	to string,
	step int,
) {
	if span == nil {
		return
	}

	span.AddEvent("vigil.workflow.transition", trace.WithAttributes(
		attribute.String("event.type", "vigil.workflow.transition"),
		attribute.String("workflow.id", workflowID),
		attribute.String("workflow.type", workflowType),
		attribute.String("status.from", from),
		attribute.String("status.to", to),
		attribute.Int("step", step),
	))
}

// RecordGuardrailEvent records the guardrail verdict on a model response.
// Warnings are joined into a single attribute.
func RecordGuardrailEvent(
	span trace.Span,
	passed bool,
	refused bool,
	warnings []string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "vigil.guardrails.checked"),
		attribute.Bool("guardrails.passed", passed),
		attribute.Bool("guardrails.refused", refused),
		attribute.Int("warnings.count", len(warnings)),
	}
	if len(warnings) > 0 {
		attrs = append(attrs, attribute.StringSlice("warnings", warnings))
	}

	span.AddEvent("vigil.guardrails.checked", trace.WithAttributes(attrs...))
}
