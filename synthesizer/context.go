package synthesizer

import (
	"context"
	"strings"
	"time"

	"github.com/yairfalse/vigil/config"
	"github.com/yairfalse/vigil/history"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

const (
	similarWindow     = 24 * time.Hour
	similarLimit      = 5
	actorRiskWindow   = 7 * 24 * time.Hour
	sufficientContext = 60
)

// Context is the knowledge bundle handed to the model and the guardrails
type Context struct {
	Domain       types.Domain           `json:"domain"`
	Policies     []config.PolicyRef     `json:"applicable_policies"`
	Remediations []string               `json:"approved_remediations"`
	Similar      []history.SimilarEvent `json:"historical_context,omitempty"`
	ActorProfile *history.ActorRisk     `json:"actor_profile,omitempty"`
	FindingsText string                 `json:"findings_text"`
}

// Frameworks lists the frameworks cited by the context's policies
func (c Context) Frameworks() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.Policies {
		for _, f := range p.Frameworks {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// ContextCheck scores how much grounding a context provides
type ContextCheck struct {
	Sufficient bool     `json:"sufficient"`
	Score      int      `json:"score"`
	Issues     []string `json:"issues,omitempty"`
}

// CheckContext scores a context before the model call
func CheckContext(c Context) ContextCheck {
	score := 100
	var issues []string

	if len(c.Policies) == 0 {
		issues = append(issues, "No policies loaded")
		score -= 40
	}
	if len(c.Remediations) == 0 {
		issues = append(issues, "No approved remediations")
		score -= 20
	}
	if len(c.Similar) == 0 {
		issues = append(issues, "No historical baseline")
		score -= 15
	}
	if c.ActorProfile == nil {
		issues = append(issues, "No actor risk profile")
		score -= 10
	}
	if score < 0 {
		score = 0
	}

	return ContextCheck{Sufficient: score >= sufficientContext, Score: score, Issues: issues}
}

// Assembler builds contexts from the catalog and event history
type Assembler struct {
	catalog *config.Catalog
	history history.Source
	logger  *telemetry.Logger
}

// NewAssembler creates an assembler. A nil catalog yields contexts without
// policies; a nil history source yields no history.
func NewAssembler(catalog *config.Catalog, src history.Source) *Assembler {
	if src == nil {
		src = history.Nop{}
	}
	return &Assembler{catalog: catalog, history: src, logger: telemetry.NewLogger("context_assembler")}
}

// Build assembles the context for an event. History failures only lower the
// context score.
func (a *Assembler) Build(ctx context.Context, event *types.Event, findings []types.Finding) Context {
	c := Context{
		Domain:       event.Domain,
		FindingsText: findingsText(findings),
	}

	if a.catalog != nil {
		c.Policies = a.catalog.PoliciesFor(event.Domain)
		c.Remediations = a.catalog.RemediationsFor(event.Domain)
	}
	for _, f := range findings {
		if f.Remediation != "" && !contains(c.Remediations, f.Remediation) {
			c.Remediations = append(c.Remediations, f.Remediation)
		}
	}

	similar, err := a.history.SimilarEvents(ctx, event.Type, similarWindow, similarLimit)
	if err != nil {
		a.logger.WithContext(ctx).Warn().Err(err).Str("event_type", event.Type).Msg("similar events unavailable")
	} else {
		c.Similar = similar
	}

	if event.ActorID != "" {
		risk, err := a.history.ActorRiskHistory(ctx, event.ActorID, actorRiskWindow)
		if err != nil {
			a.logger.WithContext(ctx).Warn().Err(err).Str("actor_id", event.ActorID).Msg("actor profile unavailable")
		} else {
			c.ActorProfile = &risk
		}
	}

	return c
}

func findingsText(findings []types.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		b.WriteString(f.Title)
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
