// Package orchestrator runs events through the analysis pipeline:
// normalize, route, dispatch checkers, synthesize and finalize.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vigil/router"
	"github.com/yairfalse/vigil/synthesizer"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
	"github.com/yairfalse/vigil/wal"
	"github.com/yairfalse/vigil/workflow"
)

// Journal receives one entry per processed or rejected event
type Journal interface {
	Append(entryType wal.EntryType, subjectID string, data any) error
}

// Invalidator drops cached history for an actor
type Invalidator interface {
	Invalidate(actorID string)
}

// Options wires optional collaborators into a Pipeline
type Options struct {
	Workflows   *workflow.Machine
	Journal     Journal
	History     Invalidator
	Metrics     *telemetry.PipelineMetrics
	Now         func() time.Time
	Synthesizer *synthesizer.Synthesizer
}

// Pipeline processes single events end to end
type Pipeline struct {
	dispatcher  *Dispatcher
	synthesizer *synthesizer.Synthesizer
	finalizer   *Finalizer
	workflows   *workflow.Machine
	journal     Journal
	history     Invalidator
	metrics     *telemetry.PipelineMetrics
	logger      *telemetry.Logger
	now         func() time.Time
}

// NewPipeline creates a pipeline
func NewPipeline(dispatcher *Dispatcher, finalizer *Finalizer, opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	synth := opts.Synthesizer
	if synth == nil {
		synth = synthesizer.New(synthesizer.Options{Metrics: opts.Metrics})
	}
	return &Pipeline{
		dispatcher:  dispatcher,
		synthesizer: synth,
		finalizer:   finalizer,
		workflows:   opts.Workflows,
		journal:     opts.Journal,
		history:     opts.History,
		metrics:     opts.Metrics,
		logger:      telemetry.NewLogger("orchestrator"),
		now:         now,
	}
}

// Process validates raw input and runs it through the pipeline. Invalid input
// is journaled and returned as an error.
func (p *Pipeline) Process(ctx context.Context, in types.EventInput) (*Result, error) {
	event, err := types.NewEvent(in)
	if err != nil {
		p.journalFailure(ctx, in, err)
		return nil, err
	}
	return p.ProcessEvent(ctx, event), nil
}

// ProcessEvent runs a validated event through every stage. Stage failures are
// recorded in the result; a run always completes.
func (p *Pipeline) ProcessEvent(ctx context.Context, event *types.Event) *Result {
	ctx, span := telemetry.Tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("event.id", event.ID),
			attribute.String("event.type", event.Type),
			attribute.String("event.severity", event.Severity.String()),
		))
	defer span.End()

	state := NewState()
	state.Merge(Normalize(event, p.now()))

	decision := router.Route(ctx, event)
	state.Merge(Update{
		AgentsToRun: decision.Names(),
		AuditLog:    []types.AuditEntry{decision.Audit},
		Context:     map[string]any{"routed_domain": string(decision.Domain)},
	})

	state.Merge(p.dispatcher.Run(ctx, state))

	insight := p.synthesizer.Synthesize(ctx, event, state.Findings)
	state.Merge(Update{
		Summary:            insight.Summary,
		RootCause:          insight.RootCause,
		RecommendedActions: insight.Actions,
		AuditLog:           []types.AuditEntry{insight.AuditEntry(event.Severity, p.now())},
		AgentsCompleted:    []string{synthesizer.AgentName},
		Context:            insight.ContextUpdate(),
	})

	state.Merge(p.finalizer.Finalize(ctx, state))

	result := &Result{
		State:            *state,
		ProcessingTime:   p.now().Sub(state.StartTime),
		Mode:             string(insight.Mode),
		LLMUsed:          insight.LLMUsed,
		GuardrailsPassed: insight.GuardrailsPassed,
	}
	result.DBStatus, _ = state.Context[KeyDBStatus].(string)

	p.trigger(ctx, result)

	if p.history != nil && event.ActorID != "" {
		p.history.Invalidate(event.ActorID)
	}

	p.record(ctx, result)
	p.journalResult(ctx, result)

	span.SetAttributes(
		attribute.Float64("risk_score", result.TotalRiskScore),
		attribute.Int("findings", len(result.Findings)),
	)
	p.logger.WithContext(ctx).Info().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Float64("risk_score", result.TotalRiskScore).
		Str("highest_severity", result.HighestSeverity.String()).
		Int("findings", len(result.Findings)).
		Str("mode", result.Mode).
		Dur("duration", result.ProcessingTime).
		Msg("event processed")

	return result
}

// trigger opens a compliance workflow when the event calls for one and none of
// the same type exists for the correlation id
func (p *Pipeline) trigger(ctx context.Context, result *Result) {
	if p.workflows == nil {
		return
	}
	event := result.Event
	wfType, ok := workflow.DetectTrigger(event)
	if !ok {
		return
	}

	fail := func(err error) {
		p.logger.WithContext(ctx).Warn().Err(err).Str("event_id", event.ID).Str("workflow_type", string(wfType)).Msg("workflow trigger failed")
		result.Errors = append(result.Errors, err.Error())
		result.AuditLog = append(result.AuditLog, types.AuditEntry{
			Step:      "Workflow Trigger",
			Agent:     "workflow_trigger",
			Timestamp: p.now(),
			Error:     err.Error(),
			Fields:    map[string]any{"workflow_type": string(wfType)},
		})
	}

	existing, err := p.workflows.ByCorrelation(ctx, event.CorrelationID)
	if err != nil {
		fail(fmt.Errorf("failed to look up workflows: %w", err))
		return
	}
	for _, w := range existing {
		if w.Type == wfType {
			result.WorkflowID = w.ID
			return
		}
	}

	w, err := p.workflows.Create(ctx, wfType, event.CorrelationID, event.ActorID, map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"severity":   event.Severity.String(),
		"risk_score": result.TotalRiskScore,
	})
	if err != nil {
		fail(fmt.Errorf("failed to create workflow: %w", err))
		return
	}

	result.WorkflowID = w.ID
	result.AuditLog = append(result.AuditLog, types.AuditEntry{
		Step:      "Workflow Trigger",
		Agent:     "workflow_trigger",
		Timestamp: p.now(),
		Message:   fmt.Sprintf("Created %s workflow %s", wfType, w.ID),
		Fields:    map[string]any{"workflow_id": w.ID, "workflow_type": string(wfType)},
	})
}

func (p *Pipeline) record(ctx context.Context, result *Result) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordEvent(ctx, result.Event.Severity.String(), string(result.Event.Domain), result.TotalRiskScore, result.ProcessingTime)
	for _, f := range result.Findings {
		p.metrics.RecordFinding(ctx, f.CheckerID, f.Severity.String())
	}
}

// processedEntry is the journal payload for a processed event
type processedEntry struct {
	CorrelationID   string   `json:"correlation_id"`
	EventType       string   `json:"event_type"`
	Severity        string   `json:"severity"`
	RiskScore       float64  `json:"risk_score"`
	HighestSeverity string   `json:"highest_severity"`
	Findings        []string `json:"findings,omitempty"`
	Mode            string   `json:"mode"`
	DBStatus        string   `json:"db_status"`
	WorkflowID      string   `json:"workflow_id,omitempty"`
}

func (p *Pipeline) journalResult(ctx context.Context, result *Result) {
	if p.journal == nil {
		return
	}
	titles := make([]string, 0, len(result.Findings))
	for _, f := range result.Findings {
		titles = append(titles, f.Title)
	}
	err := p.journal.Append(wal.EntryProcessed, result.Event.ID, processedEntry{
		CorrelationID:   result.Event.CorrelationID,
		EventType:       result.Event.Type,
		Severity:        result.Event.Severity.String(),
		RiskScore:       result.TotalRiskScore,
		HighestSeverity: result.HighestSeverity.String(),
		Findings:        titles,
		Mode:            result.Mode,
		DBStatus:        result.DBStatus,
		WorkflowID:      result.WorkflowID,
	})
	if err != nil {
		p.logger.WithContext(ctx).Error().Err(err).Str("event_id", result.Event.ID).Msg("failed to journal result")
	}
}

func (p *Pipeline) journalFailure(ctx context.Context, in types.EventInput, cause error) {
	p.logger.WithContext(ctx).Warn().Err(cause).Str("event_type", in.EventType).Msg("rejected event")
	if p.journal == nil {
		return
	}
	data := map[string]any{"event_type": in.EventType, "source_system": in.SourceSystem, "error": cause.Error()}
	if err := p.journal.Append(wal.EntryFailed, in.EventID, data); err != nil {
		p.logger.WithContext(ctx).Error().Err(err).Msg("failed to journal rejected event")
	}
}
