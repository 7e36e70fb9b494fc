package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/vigil/storage"
	"github.com/yairfalse/vigil/synthesizer"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// KeyDBStatus is the context key holding the persistence outcome
const KeyDBStatus = "db_status"

// Finalizer scores the run and persists its audit record
type Finalizer struct {
	store  storage.AuditWriter
	logger *telemetry.Logger
	now    func() time.Time
}

// NewFinalizer creates a finalizer. A nil store skips persistence.
func NewFinalizer(store storage.AuditWriter) *Finalizer {
	return &Finalizer{
		store:  store,
		logger: telemetry.NewLogger("audit_coordinator"),
		now:    time.Now,
	}
}

// Finalize computes the risk score and highest severity and saves the audit
// record. Persistence failures are reported in the db_status field only.
func (f *Finalizer) Finalize(ctx context.Context, state *State) Update {
	ctx, span := telemetry.Tracer.Start(ctx, "finalizer.finalize")
	defer span.End()

	now := f.now()
	risk := types.RiskScore(state.Findings)
	highest := types.HighestSeverity(state.Findings)

	var elapsed time.Duration
	if !state.StartTime.IsZero() {
		elapsed = now.Sub(state.StartTime)
	}

	entry := types.AuditEntry{
		Step:      "Audit Coordination",
		Agent:     "audit_coordinator",
		Timestamp: now,
		Message:   fmt.Sprintf("Workflow complete. Risk: %.2f, Severity: %s, Findings: %d", risk, highest, len(state.Findings)),
		Fields: map[string]any{
			"risk_score":       risk,
			"highest_severity": highest.String(),
			"findings_count":   len(state.Findings),
			"processing_time":  elapsed.Seconds(),
		},
	}

	status := "skipped"
	if f.store != nil && state.Event != nil {
		// the record includes this step's own entry
		log := append(append([]types.AuditEntry(nil), state.AuditLog...), entry)
		rec := buildRecord(state, risk, highest, elapsed, now, log)
		if err := f.store.SaveAudit(ctx, rec); err != nil {
			status = "error: " + err.Error()
			span.RecordError(err)
			f.logger.LogStorageError(ctx, "save_audit", err)
		} else {
			status = "saved"
		}
	}
	entry.Fields[KeyDBStatus] = status

	span.SetAttributes(
		attribute.Float64("risk_score", risk),
		attribute.String("db_status", status),
	)

	return Update{
		TotalRiskScore:  risk,
		HighestSeverity: highest,
		AuditLog:        []types.AuditEntry{entry},
		AgentsCompleted: []string{"audit_coordinator"},
		Context:         map[string]any{KeyDBStatus: status},
	}
}

func buildRecord(state *State, risk float64, highest types.Severity, elapsed time.Duration, now time.Time, log []types.AuditEntry) storage.AuditRecord {
	e := state.Event
	llmUsed, _ := state.Context[synthesizer.KeyLLMUsed].(bool)
	passed, _ := state.Context[synthesizer.KeyGuardrailsPassed].(bool)
	mode, _ := state.Context[synthesizer.KeyMode].(string)
	contextScore, _ := state.Context[synthesizer.KeyContextScore].(int)

	return storage.AuditRecord{
		EventID:          e.ID,
		CorrelationID:    e.CorrelationID,
		EventType:        e.Type,
		Source:           e.Source,
		ActorID:          e.ActorID,
		ResourceID:       e.ResourceID,
		Severity:         e.Severity,
		Domain:           e.Domain,
		EventTime:        e.Timestamp,
		Timestamp:        now,
		RiskScore:        risk,
		HighestSeverity:  highest,
		Findings:         state.Findings,
		Summary:          state.Summary,
		RootCause:        state.RootCause,
		Actions:          state.RecommendedActions,
		LLMUsed:          llmUsed,
		Mode:             mode,
		GuardrailsPassed: passed,
		ContextScore:     contextScore,
		ProcessingTime:   elapsed,
		AgentsCompleted:  append(append([]string(nil), state.AgentsCompleted...), "audit_coordinator"),
		AuditLog:         log,
	}
}
