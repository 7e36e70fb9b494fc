package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/vigil/storage"
)

// Filter selects workflows. Zero fields match everything.
type Filter struct {
	Statuses      []Status
	ExcludeStatus []Status
	Type          Type
	CorrelationID string
	CreatedBefore time.Time
}

// Matches reports whether w passes the filter
func (f Filter) Matches(w *Workflow) bool {
	if f.Type != "" && w.Type != f.Type {
		return false
	}
	if f.CorrelationID != "" && w.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.CreatedBefore.IsZero() && !w.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if len(f.Statuses) > 0 && !hasStatus(f.Statuses, w.Status) {
		return false
	}
	return !hasStatus(f.ExcludeStatus, w.Status)
}

func hasStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Repository persists workflows. Update is a compare-and-swap on Version:
// it succeeds only when the stored version equals w.Version, and on success
// w.Version is incremented.
type Repository interface {
	Create(ctx context.Context, w *Workflow) error
	Update(ctx context.Context, w *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	List(ctx context.Context, filter Filter) ([]*Workflow, error)
}

// BoltRepository stores workflows in the bbolt-backed storage.Store
type BoltRepository struct {
	store *storage.Store
}

// NewBoltRepository wraps an open store
func NewBoltRepository(store *storage.Store) *BoltRepository {
	return &BoltRepository{store: store}
}

// Create implements Repository
func (r *BoltRepository) Create(ctx context.Context, w *Workflow) error {
	rec, err := toRecord(w, w.Version)
	if err != nil {
		return err
	}
	return mapStorageError(r.store.CreateWorkflow(ctx, rec))
}

// Update implements Repository
func (r *BoltRepository) Update(ctx context.Context, w *Workflow) error {
	expected := w.Version
	rec, err := toRecord(w, expected+1)
	if err != nil {
		return err
	}
	if err := mapStorageError(r.store.UpdateWorkflow(ctx, rec, expected)); err != nil {
		return err
	}
	w.Version = expected + 1
	return nil
}

// Get implements Repository
func (r *BoltRepository) Get(ctx context.Context, id string) (*Workflow, error) {
	rec, err := r.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, mapStorageError(err)
	}
	return fromRecord(rec)
}

// List implements Repository
func (r *BoltRepository) List(ctx context.Context, filter Filter) ([]*Workflow, error) {
	recs, err := r.store.ListWorkflows(ctx, storage.WorkflowFilter{
		Statuses:      statusNamesOf(filter.Statuses),
		ExcludeStatus: statusNamesOf(filter.ExcludeStatus),
		Type:          string(filter.Type),
		CorrelationID: filter.CorrelationID,
		CreatedBefore: filter.CreatedBefore,
	})
	if err != nil {
		return nil, err
	}

	out := make([]*Workflow, 0, len(recs))
	for _, rec := range recs {
		w, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func toRecord(w *Workflow, version int64) (storage.WorkflowRecord, error) {
	stored := *w
	stored.Version = version
	data, err := json.Marshal(&stored)
	if err != nil {
		return storage.WorkflowRecord{}, fmt.Errorf("failed to marshal workflow %s: %w", w.ID, err)
	}
	return storage.WorkflowRecord{
		ID:            w.ID,
		Type:          string(w.Type),
		CorrelationID: w.CorrelationID,
		Status:        w.Status.String(),
		Version:       version,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
		Data:          data,
	}, nil
}

func fromRecord(rec storage.WorkflowRecord) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(rec.Data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", rec.ID, err)
	}
	w.Version = rec.Version
	if w.Metadata == nil {
		w.Metadata = make(map[string]any)
	}
	return &w, nil
}

func statusNamesOf(statuses []Status) []string {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}

// mapStorageError translates storage sentinels into workflow sentinels
func mapStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, storage.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	return err
}
