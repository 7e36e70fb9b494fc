package orchestrator

import (
	"fmt"
	"time"

	"github.com/yairfalse/vigil/types"
)

// Normalize is the first pipeline step: it seeds the event and start time
func Normalize(event *types.Event, now time.Time) Update {
	return Update{
		Event:     event,
		StartTime: now,
		AuditLog: []types.AuditEntry{{
			Step:      "Normalization",
			Agent:     "normalizer",
			Timestamp: now,
			Message:   fmt.Sprintf("Event normalized: %s from %s", event.Type, event.Source),
			Fields: map[string]any{
				"event_id":       event.ID,
				"correlation_id": event.CorrelationID,
				"severity":       event.Severity.String(),
				"domain":         string(event.Domain),
			},
		}},
	}
}
