// Package policy evaluates compliance predicates written in Rego.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// Input is the document policies evaluate against
type Input struct {
	Event   EventInput     `json:"event"`
	Payload map[string]any `json:"payload"`
}

// EventInput exposes event attributes to Rego
type EventInput struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Source       string `json:"source"`
	Severity     string `json:"severity"`
	SeverityRank int    `json:"severity_rank"`
	Domain       string `json:"domain"`
	Hour         int    `json:"hour"`
	ActorID      string `json:"actor_id"`
	ResourceID   string `json:"resource_id"`
	MFAPresent   bool   `json:"mfa_present"`
	Privileged   bool   `json:"privileged"`
}

// BuildInput creates the policy document for an event. The hour is taken
// from the event timestamp in UTC. MFA and privilege flags are normalized
// the way the checkers read them; a missing mfa_present counts as present.
func BuildInput(event *types.Event) Input {
	payload := event.Payload.Clone()
	return Input{
		Event: EventInput{
			ID:           event.ID,
			Type:         event.Type,
			Source:       event.Source,
			Severity:     event.Severity.String(),
			SeverityRank: int(event.Severity),
			Domain:       string(event.Domain),
			Hour:         event.Timestamp.UTC().Hour(),
			ActorID:      event.ActorID,
			ResourceID:   event.ResourceID,
			MFAPresent:   event.Payload.BoolOr("mfa_present", true),
			Privileged:   event.Payload.Truthy("privileged"),
		},
		Payload: map[string]any(payload),
	}
}

// Engine holds compiled policies in load order
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
	queries  map[string]rego.PreparedEvalQuery
	logger   *telemetry.Logger
}

// NewEngine creates an empty policy engine
func NewEngine() *Engine {
	return &Engine{
		queries: make(map[string]rego.PreparedEvalQuery),
		logger:  telemetry.NewLogger("policy-engine"),
	}
}

// NewDefaultEngine creates an engine with the builtin policies loaded
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	e := NewEngine()
	for _, p := range Builtins() {
		if err := e.Load(ctx, p); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Load compiles and registers a policy. Loading an ID twice replaces the
// earlier definition and keeps its position.
func (e *Engine) Load(ctx context.Context, p Policy) error {
	ctx, span := telemetry.Tracer.Start(ctx, "policy.load",
		trace.WithAttributes(attribute.String("policy.id", p.ID)))
	defer span.End()

	if p.ID == "" {
		return fmt.Errorf("policy id cannot be empty")
	}

	query := rego.New(
		rego.Query("data."+packageName(p.ID)+".violation"),
		rego.Module(p.ID+".rego", p.module()),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		e.logger.LogStorageError(ctx, "compile_policy", err)
		return fmt.Errorf("failed to compile policy %s: %w", p.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.queries[p.ID]; exists {
		for i := range e.policies {
			if e.policies[i].ID == p.ID {
				e.policies[i] = p
			}
		}
	} else {
		e.policies = append(e.policies, p)
	}
	e.queries[p.ID] = prepared

	e.logger.WithContext(ctx).Debug().
		Str("policy_id", p.ID).
		Bool("custom", p.Custom).
		Msg("policy loaded")

	return nil
}

// Policies returns all loaded policies in load order
func (e *Engine) Policies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, len(e.policies))
	copy(out, e.policies)
	return out
}

// Applicable returns the loaded policies that apply to domain
func (e *Engine) Applicable(domain types.Domain) []Policy {
	var out []Policy
	for _, p := range e.Policies() {
		if p.AppliesTo(domain) {
			out = append(out, p)
		}
	}
	return out
}

// Violated evaluates a single policy. An undefined result is not a violation.
func (e *Engine) Violated(ctx context.Context, id string, input Input) (bool, error) {
	e.mu.RLock()
	query, ok := e.queries[id]
	e.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("policy %s not loaded", id)
	}

	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy %s: %w", id, err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	violated, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy %s returned %T, expected bool", id, results[0].Expressions[0].Value)
	}
	return violated, nil
}
