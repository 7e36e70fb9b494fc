package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vigil/checker"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// KeySuppressedRules is the context key holding the number of rules that
// failed during a dispatch
const KeySuppressedRules = "suppressed_rule_errors"

// Dispatcher runs the routed checkers one after another
type Dispatcher struct {
	registry *checker.Registry
	metrics  *telemetry.PipelineMetrics
	logger   *telemetry.Logger
}

// NewDispatcher creates a dispatcher over a checker registry
func NewDispatcher(registry *checker.Registry, metrics *telemetry.PipelineMetrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		metrics:  metrics,
		logger:   telemetry.NewLogger("dispatcher"),
	}
}

// Run invokes every checker named in state.AgentsToRun. Unknown names are
// skipped. A checker that errors or panics becomes an "Agent Error" audit
// entry and the run continues.
func (d *Dispatcher) Run(ctx context.Context, state *State) Update {
	ctx, span := telemetry.Tracer.Start(ctx, "dispatcher.run",
		trace.WithAttributes(attribute.StringSlice("agents", state.AgentsToRun)))
	defer span.End()

	var update Update
	suppressed := 0

	for _, name := range state.AgentsToRun {
		c, ok := d.registry.Lookup(name)
		if !ok {
			continue
		}

		result, err := d.invoke(ctx, c, checker.Input{Event: state.Event, Context: state.contextCopy()})
		if err != nil {
			d.logger.WithContext(ctx).Error().Err(err).Str("agent", name).Msg("checker failed")
			update.AuditLog = append(update.AuditLog, types.AuditEntry{
				Step:      "Agent Error",
				Agent:     name,
				Timestamp: time.Now(),
				Error:     err.Error(),
			})
			continue
		}

		update.Findings = append(update.Findings, result.Findings...)
		update.AuditLog = append(update.AuditLog, result.AuditLog...)
		update.AgentsCompleted = append(update.AgentsCompleted, result.Completed...)

		n := result.Suppressed()
		suppressed += n
		d.metrics.RecordSuppressed(ctx, name, n)
	}

	update.Context = map[string]any{KeySuppressedRules: suppressed}
	span.SetAttributes(
		attribute.Int("findings", len(update.Findings)),
		attribute.Int("suppressed_rules", suppressed),
	)
	return update
}

// invoke runs one checker inside its own span, turning panics into errors
func (d *Dispatcher) invoke(ctx context.Context, c checker.Checker, in checker.Input) (result checker.Result, err error) {
	ctx, span := telemetry.Tracer.Start(ctx, "checker."+c.ID().String())
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("checker panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		for _, f := range result.Findings {
			telemetry.RecordFindingEvent(span, c.ID().String(), f.Title, f.Severity.String(), f.Confidence)
		}
	}()

	return c.Check(ctx, in)
}
