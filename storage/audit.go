package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vigil/telemetry"
)

// SaveAudit stores an audit record and its findings in one transaction
func (s *Store) SaveAudit(ctx context.Context, rec AuditRecord) error {
	ctx, span := telemetry.Tracer.Start(ctx, "storage.save_audit",
		trace.WithAttributes(
			attribute.String("event.id", rec.EventID),
			attribute.Int("findings", len(rec.Findings))))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save cancelled: %w", err)
	}

	if err := validateAuditRecord(rec); err != nil {
		return err
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	timestamp := rec.Timestamp.UnixNano()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		rev := s.currentRev + 1
		if err := tx.Bucket(bucketAudit).Put(makeTimeKey(timestamp, rev), value); err != nil {
			return fmt.Errorf("failed to put audit record: %w", err)
		}

		findings := tx.Bucket(bucketFindings)
		for i, f := range rec.Findings {
			fr := FindingRecord{
				EventID:   rec.EventID,
				EventType: rec.EventType,
				ActorID:   rec.ActorID,
				Timestamp: rec.Timestamp,
				Finding:   f,
			}
			data, err := json.Marshal(fr)
			if err != nil {
				return fmt.Errorf("failed to marshal finding at index %d: %w", i, err)
			}
			rev++
			if err := findings.Put(makeTimeKey(timestamp, rev), data); err != nil {
				return fmt.Errorf("failed to put finding at index %d: %w", i, err)
			}
		}

		if err := putRevision(tx, rev); err != nil {
			return err
		}
		// Only advance revision on successful transaction
		s.currentRev = rev
		return nil
	})

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store audit record %s: %w", rec.EventID, err)
	}

	return nil
}
