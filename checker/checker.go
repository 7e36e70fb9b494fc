// Package checker holds the rule-based analyzers that turn an event into
// findings.
package checker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
)

// ID identifies a checker. The set is closed.
type ID int

// Checker IDs
const (
	SecurityWatchdog ID = iota + 1
	ComplianceSentinel
	CostAnalyst
	ResourceWatcher
	InfrastructureMonitor
	AnomalyDetector
)

var idNames = map[ID]string{
	SecurityWatchdog:      "security_watchdog",
	ComplianceSentinel:    "compliance_sentinel",
	CostAnalyst:           "cost_analyst",
	ResourceWatcher:       "resource_watcher",
	InfrastructureMonitor: "infrastructure_monitor",
	AnomalyDetector:       "anomaly_detector",
}

// String returns the checker's wire name
func (id ID) String() string {
	if name, ok := idNames[id]; ok {
		return name
	}
	return "unknown_checker_" + strconv.Itoa(int(id))
}

// ParseID maps a wire name to an ID
func ParseID(name string) (ID, bool) {
	for id, n := range idNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// All returns every checker ID in declaration order
func All() []ID {
	return []ID{SecurityWatchdog, ComplianceSentinel, CostAnalyst, ResourceWatcher, InfrastructureMonitor, AnomalyDetector}
}

// Input is what a checker sees: the event and a read-only copy of the
// pipeline context
type Input struct {
	Event   *types.Event
	Context map[string]any
}

// RuleOutcome records one rule evaluation. A non-nil Err means the rule
// failed and was skipped.
type RuleOutcome struct {
	Rule    string
	Matched bool
	Err     error
}

// Suppressed reports whether the rule failed
func (o RuleOutcome) Suppressed() bool {
	return o.Err != nil
}

// Result is a checker's contribution to the pipeline state
type Result struct {
	Findings  []types.Finding
	AuditLog  []types.AuditEntry
	Completed []string
	Outcomes  []RuleOutcome
}

// Suppressed counts rules that failed during the check
func (r Result) Suppressed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Suppressed() {
			n++
		}
	}
	return n
}

// Checker analyzes a single event
type Checker interface {
	ID() ID
	Check(ctx context.Context, in Input) (Result, error)
}

// rules accumulates findings and rule outcomes for one check
type rules struct {
	ctx      context.Context
	id       ID
	logger   *telemetry.Logger
	findings []types.Finding
	outcomes []RuleOutcome
}

func newRules(ctx context.Context, id ID, logger *telemetry.Logger) *rules {
	return &rules{ctx: ctx, id: id, logger: logger}
}

// evaluate runs a rule predicate. Errors and panics are recorded as
// suppressed outcomes and count as no match.
func (r *rules) evaluate(name string, fn func() (bool, error)) bool {
	matched, err := safeEval(fn)
	if err != nil {
		r.logger.LogRuleSuppressed(r.ctx, r.id.String(), name, err)
		r.outcomes = append(r.outcomes, RuleOutcome{Rule: name, Err: err})
		return false
	}
	r.outcomes = append(r.outcomes, RuleOutcome{Rule: name, Matched: matched})
	return matched
}

func (r *rules) add(f types.Finding) {
	f.CheckerID = r.id.String()
	r.findings = append(r.findings, f)
}

// result packs the accumulated findings with the checker's audit entry
func (r *rules) result(step string, start time.Time, message string, fields map[string]any) Result {
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["findings_count"] = len(r.findings)
	if n := r.suppressed(); n > 0 {
		fields["suppressed_rules"] = n
	}

	return Result{
		Findings: r.findings,
		AuditLog: []types.AuditEntry{{
			Step:      step,
			Agent:     r.id.String(),
			Timestamp: time.Now(),
			Duration:  time.Since(start),
			Message:   message,
			Fields:    fields,
		}},
		Completed: []string{r.id.String()},
		Outcomes:  r.outcomes,
	}
}

func (r *rules) suppressed() int {
	n := 0
	for _, o := range r.outcomes {
		if o.Suppressed() {
			n++
		}
	}
	return n
}

func safeEval(fn func() (bool, error)) (matched bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			matched = false
			err = fmt.Errorf("rule panicked: %v", rec)
		}
	}()
	return fn()
}

// completedOnly is the result for a missing event
func completedOnly(id ID) Result {
	return Result{Completed: []string{id.String()}}
}

// num renders a payload number without trailing zeros
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// sortedKeys returns payload keys in lexical order
func sortedKeys(p types.Payload) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
