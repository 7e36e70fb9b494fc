package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/wal"
)

// Journal receives an entry for every workflow change
type Journal interface {
	Append(entryType wal.EntryType, subjectID string, data any) error
}

// Options configures a Machine
type Options struct {
	Journal Journal
	Metrics *telemetry.PipelineMetrics
	Now     func() time.Time
}

// Machine drives workflows through their template steps. Changes to one
// workflow are serialized; the repository's version check guards against
// writers outside this process.
type Machine struct {
	repo    Repository
	journal Journal
	metrics *telemetry.PipelineMetrics
	logger  *telemetry.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewMachine creates a state machine over repo
func NewMachine(repo Repository, opts Options) *Machine {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Machine{
		repo:    repo,
		journal: opts.Journal,
		metrics: opts.Metrics,
		logger:  telemetry.NewLogger("workflow"),
		now:     now,
		locks:   make(map[string]*keyLock),
	}
}

// Create starts a workflow from the named template
func (m *Machine) Create(ctx context.Context, t Type, correlationID, requesterID string, metadata map[string]any) (*Workflow, error) {
	tmpl, ok := LookupTemplate(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, t)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	now := m.now()
	w := &Workflow{
		ID:            uuid.NewString(),
		Type:          t,
		CorrelationID: correlationID,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		RequesterID:   requesterID,
		Steps:         tmpl.Steps,
		Metadata:      make(map[string]any, len(metadata)),
	}
	for k, v := range metadata {
		w.Metadata[k] = v
	}

	if err := m.repo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	m.record(ctx, wal.EntryWorkflowCreated, w, "", 0)
	m.logger.WithContext(ctx).Info().
		Str("workflow_id", w.ID).
		Str("workflow_type", string(t)).
		Str("correlation_id", correlationID).
		Msg("workflow created")

	return w.Clone(), nil
}

// Advance completes the current step when action matches it. A mismatched
// action or a terminal workflow leaves the record untouched and is reported
// through the Outcome, not an error.
func (m *Machine) Advance(ctx context.Context, id, action, actorID string) (*Workflow, Outcome, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "workflow.advance",
		trace.WithAttributes(
			attribute.String("workflow.id", id),
			attribute.String("workflow.action", action),
		))
	defer span.End()

	outcome := Advanced
	w, err := m.mutate(ctx, id, wal.EntryWorkflowAdvanced, func(w *Workflow) (bool, error) {
		step, ok := w.Current()
		if !ok || w.Status.Terminal() {
			outcome = Finished
			return false, nil
		}
		if step.RequiredAction != action {
			outcome = ActionMismatch
			return false, nil
		}
		w.completeStep(actorID, "", m.now())
		return true, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, err
	}

	span.SetAttributes(attribute.String("workflow.outcome", outcome.String()))
	return w, outcome, nil
}

// Get loads a workflow
func (m *Machine) Get(ctx context.Context, id string) (*Workflow, error) {
	return m.repo.Get(ctx, id)
}

// Pending returns workflows that are neither completed nor rejected
func (m *Machine) Pending(ctx context.Context) ([]*Workflow, error) {
	return m.repo.List(ctx, Filter{ExcludeStatus: []Status{StatusCompleted, StatusRejected}})
}

// ByCorrelation returns workflows sharing a correlation id
func (m *Machine) ByCorrelation(ctx context.Context, correlationID string) ([]*Workflow, error) {
	return m.repo.List(ctx, Filter{CorrelationID: correlationID})
}

// List returns workflows matching filter
func (m *Machine) List(ctx context.Context, filter Filter) ([]*Workflow, error) {
	return m.repo.List(ctx, filter)
}

// mutate loads a workflow under its lock, applies fn and persists the result
// when fn reports a change
func (m *Machine) mutate(ctx context.Context, id string, entry wal.EntryType, fn func(*Workflow) (bool, error)) (*Workflow, error) {
	unlock := m.lock(id)
	defer unlock()

	w, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := w.Status
	fromStep := w.CurrentStep
	changed, err := fn(w)
	if err != nil {
		return nil, err
	}
	if !changed {
		return w, nil
	}

	if err := m.repo.Update(ctx, w); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			m.logger.WithContext(ctx).Warn().Str("workflow_id", id).Msg("concurrent workflow update rejected")
		}
		return nil, fmt.Errorf("failed to update workflow %s: %w", id, err)
	}

	m.record(ctx, entry, w, from.String(), fromStep)
	m.logger.LogWorkflowTransition(ctx, id, from.String(), w.Status.String(), w.CurrentStep)
	return w, nil
}

// transition is the journal payload for a workflow change
type transition struct {
	WorkflowID string `json:"workflow_id"`
	Type       Type   `json:"workflow_type"`
	From       string `json:"from,omitempty"`
	FromStep   int    `json:"from_step"`
	To         string `json:"to"`
	Step       int    `json:"step"`
	Version    int64  `json:"version"`
}

func (m *Machine) record(ctx context.Context, entry wal.EntryType, w *Workflow, from string, fromStep int) {
	m.metrics.RecordWorkflowTransition(ctx, string(w.Type), w.Status.String())
	telemetry.RecordWorkflowTransitionEvent(trace.SpanFromContext(ctx), w.ID, string(w.Type), from, w.Status.String(), w.CurrentStep)
	if m.journal == nil {
		return
	}

	err := m.journal.Append(entry, w.ID, transition{
		WorkflowID: w.ID,
		Type:       w.Type,
		From:       from,
		FromStep:   fromStep,
		To:         w.Status.String(),
		Step:       w.CurrentStep,
		Version:    w.Version,
	})
	if err != nil {
		m.logger.WithContext(ctx).Warn().Err(err).Str("workflow_id", w.ID).Msg("failed to journal workflow change")
	}
}

// lock serializes changes per workflow id
func (m *Machine) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}
