package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/yairfalse/vigil/types"
)

// Policy is one compliance predicate. A violated policy becomes a
// "Policy Violation" finding.
type Policy struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Severity    types.Severity `json:"severity" yaml:"severity"`
	Confidence  float64        `json:"confidence" yaml:"confidence"`
	Frameworks  []string       `json:"frameworks" yaml:"frameworks"`
	Remediation string         `json:"remediation" yaml:"remediation"`

	// Domains restricts evaluation to events of these domains. Empty applies everywhere.
	Domains []types.Domain `json:"applies_to_domains,omitempty" yaml:"applies_to_domains,omitempty"`

	// Rego holds the module body. It must define a boolean `violation` rule;
	// the package clause is generated from the ID.
	Rego string `json:"-" yaml:"-"`

	// Custom marks policies loaded from the rule catalog
	Custom bool `json:"custom" yaml:"-"`
}

// AppliesTo reports whether the policy should be evaluated for domain
func (p Policy) AppliesTo(domain types.Domain) bool {
	if len(p.Domains) == 0 {
		return true
	}
	for _, d := range p.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// Title renders the finding title for a violation
func (p Policy) Title() string {
	return fmt.Sprintf("[%s] %s", p.ID, p.Name)
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]`)

// packageName derives the Rego package path for a policy ID
func packageName(id string) string {
	return "vigil.policies." + nonIdent.ReplaceAllString(strings.ToLower(id), "_")
}

func (p Policy) module() string {
	return fmt.Sprintf("package %s\n\nimport rego.v1\n\n%s\n", packageName(p.ID), strings.TrimSpace(p.Rego))
}

// Operator is a comparison used by catalog rules
type Operator string

// Supported catalog rule operators
const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpContains  Operator = "contains"
	OpGreater   Operator = "gt"
	OpLess      Operator = "lt"
	OpExists    Operator = "exists"
	OpMissing   Operator = "missing"
)

// Condition is a single field predicate from the rule catalog.
// Field names address the payload; an "event." prefix addresses event
// attributes (type, source, severity, severity_rank, domain, hour, actor_id).
type Condition struct {
	Field    string   `yaml:"field" json:"field"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    any      `yaml:"value,omitempty" json:"value,omitempty"`
}

// Compile renders the condition as the body of a Rego policy
func (c Condition) Compile() (string, error) {
	if strings.TrimSpace(c.Field) == "" {
		return "", fmt.Errorf("condition field cannot be empty")
	}

	ref := fieldRef(c.Field)

	switch c.Operator {
	case OpExists:
		return fmt.Sprintf("violation if {\n\t_ = %s\n}", ref), nil
	case OpMissing:
		return fmt.Sprintf("violation if {\n\tnot present\n}\n\npresent if {\n\t_ = %s\n}", ref), nil
	}

	literal, err := json.Marshal(c.Value)
	if err != nil {
		return "", fmt.Errorf("failed to encode condition value: %w", err)
	}

	switch c.Operator {
	case OpEquals:
		return fmt.Sprintf("violation if {\n\t%s == %s\n}", ref, literal), nil
	case OpNotEquals:
		return fmt.Sprintf("violation if {\n\tv := %s\n\tv != %s\n}", ref, literal), nil
	case OpContains:
		s, ok := c.Value.(string)
		if !ok {
			return "", fmt.Errorf("contains requires a string value, got %T", c.Value)
		}
		needle, _ := json.Marshal(strings.ToLower(s))
		return fmt.Sprintf("violation if {\n\tcontains(lower(sprintf(\"%%v\", [%s])), %s)\n}", ref, needle), nil
	case OpGreater, OpLess:
		if _, ok := toFloat(c.Value); !ok {
			return "", fmt.Errorf("%s requires a numeric value, got %T", c.Operator, c.Value)
		}
		cmp := ">"
		if c.Operator == OpLess {
			cmp = "<"
		}
		return fmt.Sprintf("violation if {\n\tto_number(%s) %s %s\n}", ref, cmp, literal), nil
	default:
		return "", fmt.Errorf("unsupported operator %q", c.Operator)
	}
}

func fieldRef(field string) string {
	root := "input.payload"
	if rest, ok := strings.CutPrefix(field, "event."); ok {
		root = "input.event"
		field = rest
	}
	quoted, _ := json.Marshal(field)
	return fmt.Sprintf("%s[%s]", root, quoted)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Builtins returns the shipped compliance policies in evaluation order
func Builtins() []Policy {
	return []Policy{
		{
			ID:          "POL-001",
			Name:        "Working Hours Enforcement",
			Description: "Actions outside 6AM-10PM require approval",
			Severity:    types.SeverityMedium,
			Confidence:  0.75,
			Frameworks:  []string{"SOC2-CC6.1", "ISO27001-A.12.1"},
			Remediation: "Schedule during approved windows or obtain CAB approval.",
			Rego: `
violation if input.event.hour < 6

violation if input.event.hour > 22`,
		},
		{
			ID:          "POL-002",
			Name:        "Change Ticket Required",
			Description: "High/Critical events must reference a change ticket",
			Severity:    types.SeverityHigh,
			Confidence:  0.88,
			Frameworks:  []string{"SOC2-CC8.1", "ITIL"},
			Remediation: "Create or link to an approved RFC before proceeding.",
			Rego: `
violation if {
	input.event.severity_rank >= 3
	not has_ticket
}

has_ticket if {
	some key in ["change_id", "ticket_id", "jira_id"]
	_ = input.payload[key]
}`,
		},
		{
			ID:          "POL-003",
			Name:        "MFA Required for Privileged Access",
			Description: "Sudo/privileged actions require MFA",
			Severity:    types.SeverityCritical,
			Confidence:  0.95,
			Frameworks:  []string{"ISO27001-A.9.4", "NIST-IA-2", "SOC2-CC6.1"},
			Remediation: "Enforce MFA for all privileged operations.",
			Rego: `
violation if {
	privileged
	not input.event.mfa_present
}

privileged if input.event.privileged

privileged if contains(lower(input.payload.action), "sudo")`,
		},
		{
			ID:          "POL-004",
			Name:        "Production Access Logging",
			Description: "Production access must be logged with justification",
			Severity:    types.SeverityMedium,
			Confidence:  0.80,
			Frameworks:  []string{"ISO27001-A.12.4", "SOC2-CC7.2"},
			Remediation: "Document business justification for production access.",
			Rego: `
violation if {
	contains(lower(target), "prod")
	not justified
}

target := input.payload.target

target := input.payload.host if not input.payload.target

justified if {
	j := input.payload.justification
	j != ""
	j != false
	j != null
}`,
		},
		{
			ID:          "POL-005",
			Name:        "Financial Threshold Exceeded",
			Description: "Transactions over $1000 require dual approval",
			Severity:    types.SeverityHigh,
			Confidence:  0.92,
			Frameworks:  []string{"SOX-404", "PCI-DSS-10.2"},
			Remediation: "Escalate to Finance Controller for manual reconciliation.",
			Rego: `
violation if to_number(input.payload.mismatch_amount) > 1000`,
		},
		{
			ID:          "POL-006",
			Name:        "Segregation of Duties",
			Description: "Same person cannot request and approve",
			Severity:    types.SeverityHigh,
			Confidence:  0.95,
			Frameworks:  []string{"SOX-302", "ISO27001-A.6.1"},
			Remediation: "Implement proper approval chain.",
			Rego: `
violation if {
	requester := input.payload.requester_id
	requester != ""
	requester == input.payload.approver_id
}`,
		},
		{
			ID:          "POL-007",
			Name:        "Sensitive Data Exposure",
			Description: "PII/sensitive data access requires pre-approval",
			Severity:    types.SeverityCritical,
			Confidence:  0.90,
			Frameworks:  []string{"GDPR-32", "PCI-DSS-3.4"},
			Remediation: "Obtain data access approval.",
			Rego: `
markers := ["pii", "ssn", "credit_card"]

violation if {
	some marker in markers
	contains(lower(input.payload.data_classification), marker)
}

violation if {
	some key, _ in input.payload
	some marker in markers
	contains(lower(key), marker)
}`,
		},
	}
}
