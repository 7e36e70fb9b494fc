package synthesizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

const systemPrompt = "You are an IT security analyst. Be concise."

// Options configures a Synthesizer
type Options struct {
	// Model is called for High and Critical events. Nil always falls back.
	Model Model

	// Assembler builds model context. Nil yields an empty context.
	Assembler *Assembler

	// Strict refuses to answer when the context holds no policies
	Strict bool

	Metrics *telemetry.PipelineMetrics
}

// Synthesizer produces insights for analyzed events
type Synthesizer struct {
	model     Model
	assembler *Assembler
	strict    bool
	metrics   *telemetry.PipelineMetrics
	logger    *telemetry.Logger
}

// New creates a synthesizer
func New(opts Options) *Synthesizer {
	if opts.Assembler == nil {
		opts.Assembler = NewAssembler(nil, nil)
	}
	return &Synthesizer{
		model:     opts.Model,
		assembler: opts.Assembler,
		strict:    opts.Strict,
		metrics:   opts.Metrics,
		logger:    telemetry.NewLogger(AgentName),
	}
}

// Synthesize explains the findings for an event. Low and Medium events never
// reach the model. Model failures of any kind fall back to rule templates.
func (s *Synthesizer) Synthesize(ctx context.Context, event *types.Event, findings []types.Finding) Insight {
	ctx, span := telemetry.Tracer.Start(ctx, "synthesizer.synthesize",
		trace.WithAttributes(
			attribute.String("event.id", event.ID),
			attribute.String("event.severity", event.Severity.String()),
			attribute.Int("findings.count", len(findings)),
		))
	defer span.End()

	start := time.Now()
	var insight Insight
	if event.Severity.AtLeast(types.SeverityHigh) {
		insight = s.withModel(ctx, event, findings)
	} else {
		insight = RuleBased(event, findings)
	}
	insight.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("synthesis.mode", string(insight.Mode)),
		attribute.Int("synthesis.context_score", insight.ContextScore),
	)
	s.logger.WithContext(ctx).Debug().
		Str("event_id", event.ID).
		Str("mode", string(insight.Mode)).
		Int("context_score", insight.ContextScore).
		Bool("guardrails_passed", insight.GuardrailsPassed).
		Msg("insight synthesized")

	return insight
}

func (s *Synthesizer) withModel(ctx context.Context, event *types.Event, findings []types.Finding) Insight {
	bundle := s.assembler.Build(ctx, event, findings)
	check := CheckContext(bundle)

	fallback := func(reason string, err error) Insight {
		s.metrics.RecordLLMCall(ctx, reason)
		log := s.logger.WithContext(ctx).Warn().Str("event_id", event.ID).Str("reason", reason)
		if err != nil {
			log = log.Err(err)
		}
		log.Msg("model unavailable, using rule-based analysis")

		insight := RuleBased(event, findings)
		insight.Mode = ModeFallback
		insight.ContextScore = check.Score
		return insight
	}

	if s.model == nil {
		return fallback("disabled", nil)
	}

	raw, err := s.model.Complete(ctx, buildSystemPrompt(bundle), buildPrompt(event, findings))
	if err != nil {
		return fallback("error", err)
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		return fallback("unparseable", err)
	}
	s.metrics.RecordLLMCall(ctx, "success")

	result := Validate(resp, bundle, s.strict)
	telemetry.RecordGuardrailEvent(trace.SpanFromContext(ctx), result.Valid, result.Refused, result.Warnings)
	return Insight{
		Summary:          result.Response.Summary,
		RootCause:        result.Response.RootCause,
		Actions:          result.Response.Actions,
		LLMUsed:          true,
		Mode:             ModeLLM,
		ContextScore:     check.Score,
		GuardrailsPassed: result.Valid,
		Warnings:         result.Warnings,
		Refused:          result.Refused,
	}
}

// buildSystemPrompt names up to three relevant policies
func buildSystemPrompt(c Context) string {
	if len(c.Policies) == 0 {
		return systemPrompt
	}
	n := len(c.Policies)
	if n > 3 {
		n = 3
	}
	names := make([]string, 0, n)
	for _, p := range c.Policies[:n] {
		names = append(names, p.Name)
	}
	return systemPrompt + " Relevant policies: " + strings.Join(names, ", ")
}

func buildPrompt(event *types.Event, findings []types.Finding) string {
	var b strings.Builder
	for i, f := range findings {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, f.Title)
	}
	findingsText := b.String()
	if findingsText == "" {
		findingsText = "None"
	}

	return fmt.Sprintf(`Analyze this %s IT event. Respond in JSON only.

Event: %s from %s
Findings:
%s
JSON format: {"summary": "one sentence", "root_cause": "cause or null", "actions": ["action1"]}`,
		event.Severity, event.Type, event.Source, findingsText)
}
