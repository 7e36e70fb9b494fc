package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// AuditSince returns audit records stored at or after since, oldest first
func (s *Store) AuditSince(ctx context.Context, since time.Time) ([]AuditRecord, error) {
	return queryRange[AuditRecord](ctx, s, bucketAudit, since, nil)
}

// AuditByActor returns the actor's audit records since a time, oldest first
func (s *Store) AuditByActor(ctx context.Context, actorID string, since time.Time) ([]AuditRecord, error) {
	return queryRange(ctx, s, bucketAudit, since, func(r AuditRecord) bool {
		return r.ActorID == actorID
	})
}

// CountByType counts audit records of an event type since a time
func (s *Store) CountByType(ctx context.Context, eventType string, since time.Time) (int, error) {
	records, err := queryRange(ctx, s, bucketAudit, since, func(r AuditRecord) bool {
		return r.EventType == eventType
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// RecentByType returns up to limit records of an event type since a time,
// newest first
func (s *Store) RecentByType(ctx context.Context, eventType string, since time.Time, limit int) ([]AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []AuditRecord
	startKey := sinceKey(since)

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Last(); k != nil && bytes.Compare(k, startKey) >= 0; k, v = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(results) >= limit {
				return nil
			}

			var rec AuditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode audit record: %w", err)
			}
			if rec.EventType == eventType {
				results = append(results, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return results, nil
}

// FindingsByAgent returns findings produced by a checker since a time
func (s *Store) FindingsByAgent(ctx context.Context, agent string, since time.Time) ([]FindingRecord, error) {
	return queryRange(ctx, s, bucketFindings, since, func(r FindingRecord) bool {
		return agent == "" || r.Finding.CheckerID == agent
	})
}

// queryRange is a generic query helper over time-keyed buckets. A nil keep
// accepts every record.
func queryRange[T any](ctx context.Context, s *Store, bucketName []byte, since time.Time, keep func(T) bool) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []T
	startKey := sinceKey(since)

	err := s.db.View(func(tx *bbolt.Tx) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.Seek(startKey); k != nil; k, v = c.Next() {
			// Check context periodically during iteration
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			// json.Unmarshal copies, so v need not outlive the transaction
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to decode %s record: %w", bucketName, err)
			}
			if keep == nil || keep(item) {
				results = append(results, item)
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	return results, nil
}
