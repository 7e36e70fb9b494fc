// Package workflowtest provides an in-memory workflow.Repository for tests.
package workflowtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/vigil/workflow"
)

// Memory is a map-backed Repository with the same version semantics as the
// bbolt repository
type Memory struct {
	mu        sync.Mutex
	workflows map[string]*workflow.Workflow

	// FailUpdate, when set, is returned by the next Update call
	FailUpdate error
}

// NewMemory creates an empty repository
func NewMemory() *Memory {
	return &Memory{workflows: make(map[string]*workflow.Workflow)}
}

// Create implements workflow.Repository
func (m *Memory) Create(ctx context.Context, w *workflow.Workflow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[w.ID]; ok {
		return fmt.Errorf("workflow %s already exists", w.ID)
	}
	m.workflows[w.ID] = w.Clone()
	return nil
}

// Update implements workflow.Repository
func (m *Memory) Update(ctx context.Context, w *workflow.Workflow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailUpdate; err != nil {
		m.FailUpdate = nil
		return err
	}

	stored, ok := m.workflows[w.ID]
	if !ok {
		return fmt.Errorf("%w: %s", workflow.ErrNotFound, w.ID)
	}
	if stored.Version != w.Version {
		return fmt.Errorf("%w: %s is at version %d, expected %d",
			workflow.ErrVersionConflict, w.ID, stored.Version, w.Version)
	}

	w.Version++
	m.workflows[w.ID] = w.Clone()
	return nil
}

// Get implements workflow.Repository
func (m *Memory) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	return w.Clone(), nil
}

// List implements workflow.Repository. Results are ordered by creation time.
func (m *Memory) List(ctx context.Context, filter workflow.Filter) ([]*workflow.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*workflow.Workflow
	for _, w := range m.workflows {
		if filter.Matches(w) {
			out = append(out, w.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Put stores w as-is, bypassing version checks. Used to seed fixtures.
func (m *Memory) Put(w *workflow.Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w.Clone()
}

// Len returns the number of stored workflows
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workflows)
}
