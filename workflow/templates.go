package workflow

import (
	"sort"
	"time"
)

// Type names a workflow template
type Type string

const (
	ChangeApproval   Type = "change_approval"
	AccessReview     Type = "access_review"
	IncidentResponse Type = "incident_response"
)

// Template is the blueprint a workflow is created from
type Template struct {
	Type       Type
	Steps      []Step
	Timeout    time.Duration
	Escalation time.Duration
}

var templates = map[Type]Template{
	ChangeApproval: {
		Type: ChangeApproval,
		Steps: []Step{
			{Name: "request_submitted", RequiredAction: "submit", Auto: true},
			{Name: "risk_assessment", RequiredAction: "assess", Auto: true},
			{Name: "manager_approval", RequiredAction: "approve"},
			{Name: "cab_review", RequiredAction: "review", Condition: "high_risk"},
			{Name: "implementation", RequiredAction: "implement", Auto: true},
			{Name: "verification", RequiredAction: "verify", Auto: true},
		},
		Timeout:    72 * time.Hour,
		Escalation: 24 * time.Hour,
	},
	AccessReview: {
		Type: AccessReview,
		Steps: []Step{
			{Name: "access_requested", RequiredAction: "request", Auto: true},
			{Name: "identity_verification", RequiredAction: "verify", Auto: true},
			{Name: "manager_approval", RequiredAction: "approve"},
			{Name: "security_review", RequiredAction: "review", Condition: "privileged"},
			{Name: "access_granted", RequiredAction: "grant", Auto: true},
		},
		Timeout:    48 * time.Hour,
		Escalation: 12 * time.Hour,
	},
	IncidentResponse: {
		Type: IncidentResponse,
		Steps: []Step{
			{Name: "incident_detected", RequiredAction: "detect", Auto: true},
			{Name: "triage", RequiredAction: "triage", Auto: true},
			{Name: "investigation", RequiredAction: "investigate"},
			{Name: "containment", RequiredAction: "contain"},
			{Name: "remediation", RequiredAction: "remediate"},
			{Name: "post_mortem", RequiredAction: "review"},
		},
		Timeout:    168 * time.Hour,
		Escalation: 4 * time.Hour,
	},
}

// LookupTemplate returns the template for t with its own copy of the steps
func LookupTemplate(t Type) (Template, bool) {
	tmpl, ok := templates[t]
	if !ok {
		return Template{}, false
	}
	tmpl.Steps = append([]Step(nil), tmpl.Steps...)
	return tmpl, true
}

// Types returns the known template types sorted by name
func Types() []Type {
	out := make([]Type, 0, len(templates))
	for t := range templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
