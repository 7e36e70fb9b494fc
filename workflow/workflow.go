// Package workflow tracks multi-step compliance processes: change approval,
// access review and incident response.
package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors
var (
	ErrUnknownTemplate = errors.New("unknown workflow template")
	ErrNotFound        = errors.New("workflow not found")
	ErrVersionConflict = errors.New("workflow version conflict")
	ErrTerminal        = errors.New("workflow is terminal")
)

// Status is a workflow's lifecycle state
type Status int

const (
	StatusPending Status = iota + 1
	StatusInProgress
	StatusAwaitingApproval
	StatusApproved
	StatusRejected
	StatusCompleted
	StatusEscalated
	StatusExpired
)

var statusNames = map[Status]string{
	StatusPending:          "pending",
	StatusInProgress:       "in_progress",
	StatusAwaitingApproval: "awaiting_approval",
	StatusApproved:         "approved",
	StatusRejected:         "rejected",
	StatusCompleted:        "completed",
	StatusEscalated:        "escalated",
	StatusExpired:          "expired",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus matches a status name case-insensitively
func ParseStatus(raw string) (Status, bool) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	for s, name := range statusNames {
		if name == needle {
			return s, true
		}
	}
	return 0, false
}

// Terminal reports whether no further steps can run
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusExpired
}

// Open reports whether the workflow still counts as pending work
func (s Status) Open() bool {
	return s != StatusCompleted && s != StatusRejected
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid workflow status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(text []byte) error {
	parsed, ok := ParseStatus(string(text))
	if !ok {
		return fmt.Errorf("unknown workflow status %q", string(text))
	}
	*s = parsed
	return nil
}

// Valid reports whether s is a defined status
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Step is one stage of a workflow
type Step struct {
	Name           string    `json:"name"`
	RequiredAction string    `json:"required_action"`
	Auto           bool      `json:"auto"`
	Condition      string    `json:"condition,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	CompletedBy    string    `json:"completed_by,omitempty"`
	Comment        string    `json:"comment,omitempty"`
}

// Done reports whether the step has been completed
func (s Step) Done() bool {
	return !s.CompletedAt.IsZero()
}

// Workflow is a persisted compliance workflow
type Workflow struct {
	ID            string         `json:"workflow_id"`
	Type          Type           `json:"workflow_type"`
	CorrelationID string         `json:"correlation_id"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	RequesterID   string         `json:"requester_id,omitempty"`
	ApproverID    string         `json:"approver_id,omitempty"`
	CurrentStep   int            `json:"current_step"`
	Steps         []Step         `json:"steps"`
	Metadata      map[string]any `json:"metadata"`
	Version       int64          `json:"version"`
}

// Current returns the active step, false once all steps are done
func (w *Workflow) Current() (Step, bool) {
	if w.CurrentStep < 0 || w.CurrentStep >= len(w.Steps) {
		return Step{}, false
	}
	return w.Steps[w.CurrentStep], true
}

// Clone returns a deep copy. Metadata values are copied one level deep.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.Steps = append([]Step(nil), w.Steps...)
	out.Metadata = make(map[string]any, len(w.Metadata))
	for k, v := range w.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// completeStep stamps the current step and moves to the next one
func (w *Workflow) completeStep(actorID, comment string, at time.Time) {
	step := &w.Steps[w.CurrentStep]
	step.CompletedAt = at
	step.CompletedBy = actorID
	if comment != "" {
		step.Comment = comment
	}
	if step.RequiredAction == "approve" && w.ApproverID == "" {
		w.ApproverID = actorID
	}

	w.CurrentStep++
	w.UpdatedAt = at
	w.Status = w.nextStatus()
}

// nextStatus derives the status from the step pointer
func (w *Workflow) nextStatus() Status {
	next, ok := w.Current()
	switch {
	case !ok:
		return StatusCompleted
	case next.Auto:
		return StatusInProgress
	default:
		return StatusAwaitingApproval
	}
}

// Outcome reports what Advance did
type Outcome int

const (
	// Advanced means the step completed and the workflow moved on
	Advanced Outcome = iota + 1
	// ActionMismatch means the action did not match the current step
	ActionMismatch
	// Finished means the workflow was already terminal
	Finished
)

func (o Outcome) String() string {
	switch o {
	case Advanced:
		return "advanced"
	case ActionMismatch:
		return "action_mismatch"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}
