package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// CreateWorkflow stores a new workflow. The ID must be unused.
func (s *Store) CreateWorkflow(ctx context.Context, rec WorkflowRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateWorkflowRecord(rec); err != nil {
		return err
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)
		if bucket.Get([]byte(rec.ID)) != nil {
			return fmt.Errorf("%w: workflow %s", ErrExists, rec.ID)
		}
		if err := bucket.Put([]byte(rec.ID), value); err != nil {
			return err
		}
		if err := putRevision(tx, s.currentRev+1); err != nil {
			return err
		}
		s.currentRev++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	s.indexWorkflow(rec)
	return nil
}

// UpdateWorkflow replaces a workflow if its stored version equals expected.
// The record must carry version expected+1.
func (s *Store) UpdateWorkflow(ctx context.Context, rec WorkflowRecord, expected int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateWorkflowRecord(rec); err != nil {
		return err
	}
	if rec.Version != expected+1 {
		return fmt.Errorf("%w: record version %d must follow %d", ErrInvalidRecord, rec.Version, expected)
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)
		current := bucket.Get([]byte(rec.ID))
		if current == nil {
			return fmt.Errorf("%w: workflow %s", ErrNotFound, rec.ID)
		}

		var stored WorkflowRecord
		if err := json.Unmarshal(current, &stored); err != nil {
			return fmt.Errorf("failed to decode workflow %s: %w", rec.ID, err)
		}
		if stored.Version != expected {
			return fmt.Errorf("%w: workflow %s is at version %d, expected %d",
				ErrVersionConflict, rec.ID, stored.Version, expected)
		}

		if err := bucket.Put([]byte(rec.ID), value); err != nil {
			return err
		}
		if err := putRevision(tx, s.currentRev+1); err != nil {
			return err
		}
		s.currentRev++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	s.indexWorkflow(rec)
	return nil
}

// GetWorkflow loads a workflow by ID
func (s *Store) GetWorkflow(ctx context.Context, id string) (WorkflowRecord, error) {
	if err := ctx.Err(); err != nil {
		return WorkflowRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec WorkflowRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketWorkflows).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: workflow %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return WorkflowRecord{}, err
	}
	return rec, nil
}

// ListWorkflows returns workflows matching the filter, oldest first
func (s *Store) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	s.workflows.Ascend(func(w *WorkflowState) bool {
		if filter.matches(w) {
			ids = append(ids, w.ID)
		}
		return true
	})

	results := make([]WorkflowRecord, 0, len(ids))
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			data := bucket.Get([]byte(id))
			if data == nil {
				continue
			}
			var rec WorkflowRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("failed to decode workflow %s: %w", id, err)
			}
			results = append(results, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return results, nil
}

// WorkflowCount returns the number of indexed workflows
func (s *Store) WorkflowCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflows.Len()
}

// indexWorkflow updates the in-memory index. Callers hold s.mu or run
// before the store is shared.
func (s *Store) indexWorkflow(rec WorkflowRecord) {
	if existing, ok := s.byID[rec.ID]; ok {
		s.workflows.Delete(existing)
	}

	state := &WorkflowState{
		ID:            rec.ID,
		Type:          rec.Type,
		CorrelationID: rec.CorrelationID,
		Status:        rec.Status,
		Version:       rec.Version,
		CreatedAt:     rec.CreatedAt,
	}
	s.workflows.ReplaceOrInsert(state)
	s.byID[rec.ID] = state
}
