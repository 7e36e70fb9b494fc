// Package emitter defines the sinks analysis results are written to.
package emitter

import (
	"context"
	"errors"

	"github.com/yairfalse/vigil/orchestrator"
	"github.com/yairfalse/vigil/telemetry"
)

// Emitter outputs pipeline results to a backend.
type Emitter interface {
	// Emit sends one result to the backend.
	Emit(ctx context.Context, result *orchestrator.Result) error

	// Close flushes and releases the backend.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to every emitter. A failing sink does not stop the others;
// all errors are joined.
func (m *MultiEmitter) Emit(ctx context.Context, result *orchestrator.Result) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every emitter and joins the errors.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEmitter writes one structured line per result.
type LogEmitter struct {
	logger *telemetry.Logger
}

// NewLogEmitter creates a log emitter.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{logger: telemetry.NewLogger("result-emitter")}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(ctx context.Context, r *orchestrator.Result) error {
	evt := l.logger.WithContext(ctx).Info()
	if r.HighestSeverity.AtLeast(highSeverity) {
		evt = l.logger.WithContext(ctx).Warn()
	}

	evt = evt.
		Str("event_id", r.Event.ID).
		Str("event_type", r.Event.Type).
		Str("severity", r.HighestSeverity.String()).
		Str("domain", string(r.Event.Domain)).
		Float64("risk_score", r.TotalRiskScore).
		Int("findings", len(r.Findings)).
		Str("mode", r.Mode).
		Str("db_status", r.DBStatus).
		Dur("processing_time", r.ProcessingTime)
	if r.WorkflowID != "" {
		evt = evt.Str("workflow_id", r.WorkflowID)
	}
	evt.Msg(r.Summary)
	return nil
}

// Close is a no-op for the log emitter.
func (l *LogEmitter) Close() error { return nil }
