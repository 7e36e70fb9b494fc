package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Intake outcomes
const (
	IntakeQueued   = "queued"
	IntakeFiltered = "filtered"
	IntakeDropped  = "dropped"
	IntakeInvalid  = "invalid"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions.
// All methods are safe on a nil receiver.
type DaemonMetrics struct {
	intake        metric.Int64Counter
	sweeps        metric.Int64Counter
	sweepDuration metric.Float64Histogram
	sweepChanges  metric.Int64Counter
	emitErrors    metric.Int64Counter
	sourceErrors  metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on meter. A nil meter uses the
// global provider.
func NewDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	if meter == nil {
		meter = otel.Meter("vigil.daemon")
	}

	intake, err := meter.Int64Counter(
		"vigil.daemon.intake",
		metric.WithDescription("Number of events offered to the intake queue"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	sweeps, err := meter.Int64Counter(
		"vigil.daemon.sweeps",
		metric.WithDescription("Number of workflow sweep runs"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram(
		"vigil.daemon.sweep.duration",
		metric.WithDescription("Duration of workflow sweeps"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	sweepChanges, err := meter.Int64Counter(
		"vigil.daemon.sweep.changes",
		metric.WithDescription("Number of workflows expired or escalated by sweeps"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		return nil, err
	}

	emitErrors, err := meter.Int64Counter(
		"vigil.daemon.emit.errors",
		metric.WithDescription("Number of results that failed to reach an emitter"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, err
	}

	sourceErrors, err := meter.Int64Counter(
		"vigil.daemon.source.errors",
		metric.WithDescription("Number of intake sources that stopped with an error"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		intake:        intake,
		sweeps:        sweeps,
		sweepDuration: sweepDuration,
		sweepChanges:  sweepChanges,
		emitErrors:    emitErrors,
		sourceErrors:  sourceErrors,
	}, nil
}

// RecordIntake records one intake decision
func (m *DaemonMetrics) RecordIntake(ctx context.Context, outcome, source string) {
	if m == nil {
		return
	}
	m.intake.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		),
	)
}

// RecordSweep records a sweep run and what it changed
func (m *DaemonMetrics) RecordSweep(ctx context.Context, status string, durationSeconds float64, expired, escalated int) {
	if m == nil {
		return
	}
	m.sweeps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.sweepDuration.Record(ctx, durationSeconds, metric.WithAttributes(attribute.String("status", status)))
	if expired > 0 {
		m.sweepChanges.Add(ctx, int64(expired), metric.WithAttributes(attribute.String("change", "expired")))
	}
	if escalated > 0 {
		m.sweepChanges.Add(ctx, int64(escalated), metric.WithAttributes(attribute.String("change", "escalated")))
	}
}

// RecordEmitError records a failed emit
func (m *DaemonMetrics) RecordEmitError(ctx context.Context) {
	if m == nil {
		return
	}
	m.emitErrors.Add(ctx, 1)
}

// RecordSourceError records a source that stopped with an error
func (m *DaemonMetrics) RecordSourceError(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.sourceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
