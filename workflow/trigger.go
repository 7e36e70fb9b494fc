package workflow

import (
	"github.com/yairfalse/vigil/types"
)

// DetectTrigger decides whether an event should start a workflow. The first
// matching rule wins.
func DetectTrigger(event *types.Event) (Type, bool) {
	if event == nil {
		return "", false
	}
	eventType := event.LowerType()

	if types.ContainsAny(eventType, "deployment", "change", "release") {
		return ChangeApproval, true
	}

	if types.ContainsAny(eventType, "access", "permission", "role") &&
		(event.Payload.Truthy("privileged") || event.Severity.AtLeast(types.SeverityHigh)) {
		return AccessReview, true
	}

	if event.Severity == types.SeverityCritical || types.ContainsAny(eventType, "breach", "incident", "attack") {
		return IncidentResponse, true
	}

	return "", false
}
