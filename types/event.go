package types

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// EventInput is the loosely-typed shape events arrive in from sources and
// the HTTP surface. NewEvent turns it into an Event.
type EventInput struct {
	EventID       string            `json:"event_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp,omitempty"`
	EventType     string            `json:"event_type"`
	SourceSystem  string            `json:"source_system"`
	Severity      string            `json:"severity,omitempty"`
	Domain        string            `json:"domain,omitempty"`
	ActorID       string            `json:"actor_id,omitempty"`
	ResourceID    string            `json:"resource_id,omitempty"`
	Payload       map[string]any    `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
}

// Event is an ingested IT/SDLC event. It is never mutated after NewEvent.
type Event struct {
	ID            string            `json:"event_id" validate:"required,max=128"`
	CorrelationID string            `json:"correlation_id" validate:"required,max=128"`
	Timestamp     time.Time         `json:"timestamp" validate:"required"`
	Type          string            `json:"event_type" validate:"required,max=256"`
	Source        string            `json:"source_system" validate:"required,max=256"`
	Severity      Severity          `json:"severity" validate:"min=1,max=4"`
	Domain        Domain            `json:"domain" validate:"oneof=Security Compliance Financial Infrastructure Unknown"`
	ActorID       string            `json:"actor_id,omitempty" validate:"max=256"`
	ResourceID    string            `json:"resource_id,omitempty" validate:"max=512"`
	Payload       Payload           `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Tags          []string          `json:"tags,omitempty" validate:"max=64"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func eventValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// NewEvent normalizes and validates an EventInput. Severity and domain
// strings are mapped onto their enums here and nowhere else: unknown
// severities become Medium, unknown domains become Unknown and are then
// inferred from the event type.
func NewEvent(in EventInput) (*Event, error) {
	event := &Event{
		ID:            strings.TrimSpace(in.EventID),
		CorrelationID: strings.TrimSpace(in.CorrelationID),
		Timestamp:     in.Timestamp,
		Type:          strings.TrimSpace(in.EventType),
		Source:        strings.TrimSpace(in.SourceSystem),
		Severity:      NormalizeSeverity(in.Severity),
		Domain:        NormalizeDomain(in.Domain),
		ActorID:       strings.TrimSpace(in.ActorID),
		ResourceID:    strings.TrimSpace(in.ResourceID),
		Payload:       Payload(in.Payload).Clone(),
		Metadata:      copyStrings(in.Metadata),
		Tags:          append([]string(nil), in.Tags...),
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Domain == DomainUnknown {
		event.Domain = InferDomain(event.Type)
	}
	if event.ActorID == "" {
		event.ActorID = event.Payload.FirstString("user_id", "username")
	}

	if err := eventValidator().Struct(event); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	return event, nil
}

// Input converts the event back to its wire shape
func (e *Event) Input() EventInput {
	return EventInput{
		EventID:       e.ID,
		CorrelationID: e.CorrelationID,
		Timestamp:     e.Timestamp,
		EventType:     e.Type,
		SourceSystem:  e.Source,
		Severity:      e.Severity.String(),
		Domain:        string(e.Domain),
		ActorID:       e.ActorID,
		ResourceID:    e.ResourceID,
		Payload:       e.Payload.Clone(),
		Metadata:      copyStrings(e.Metadata),
		Tags:          append([]string(nil), e.Tags...),
	}
}

// LowerType returns the event type lowercased, for keyword matching
func (e *Event) LowerType() string {
	return strings.ToLower(e.Type)
}

func copyStrings(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
