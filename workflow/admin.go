package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/yairfalse/vigil/wal"
)

const adminActor = "admin"

// ForceAdvance completes the current step regardless of its required action
func (m *Machine) ForceAdvance(ctx context.Context, id, actorID, comment string) (*Workflow, error) {
	if actorID == "" {
		actorID = adminActor
	}
	return m.mutate(ctx, id, wal.EntryWorkflowOverride, func(w *Workflow) (bool, error) {
		if _, ok := w.Current(); !ok || w.Status.Terminal() {
			return false, fmt.Errorf("%w: %s is %s", ErrTerminal, id, w.Status)
		}
		w.completeStep(actorID, comment, m.now())
		return true, nil
	})
}

// Approve force advances with an approval comment and records the approver
func (m *Machine) Approve(ctx context.Context, id, actorID string) (*Workflow, error) {
	if actorID == "" {
		actorID = adminActor
	}
	return m.mutate(ctx, id, wal.EntryWorkflowOverride, func(w *Workflow) (bool, error) {
		if _, ok := w.Current(); !ok || w.Status.Terminal() {
			return false, fmt.Errorf("%w: %s is %s", ErrTerminal, id, w.Status)
		}
		if w.ApproverID == "" {
			w.ApproverID = actorID
		}
		w.completeStep(actorID, "Approved", m.now())
		return true, nil
	})
}

// Reject ends the workflow
func (m *Machine) Reject(ctx context.Context, id, actorID, reason string) (*Workflow, error) {
	if actorID == "" {
		actorID = adminActor
	}
	if reason == "" {
		reason = "Rejected by admin"
	}
	return m.mutate(ctx, id, wal.EntryWorkflowOverride, func(w *Workflow) (bool, error) {
		if w.Status.Terminal() {
			return false, fmt.Errorf("%w: %s is %s", ErrTerminal, id, w.Status)
		}
		w.Status = StatusRejected
		w.UpdatedAt = m.now()
		w.Metadata["rejected_reason"] = reason
		w.Metadata["rejected_by"] = actorID
		return true, nil
	})
}

// Unblock force advances a stuck step on behalf of the admin
func (m *Machine) Unblock(ctx context.Context, id, reason string) (*Workflow, error) {
	if reason == "" {
		reason = "Admin override"
	}
	return m.ForceAdvance(ctx, id, adminActor, "Unblocked: "+reason)
}

// Reset rewinds the workflow to its first step
func (m *Machine) Reset(ctx context.Context, id string) (*Workflow, error) {
	return m.mutate(ctx, id, wal.EntryWorkflowOverride, func(w *Workflow) (bool, error) {
		now := m.now()
		for i := range w.Steps {
			w.Steps[i].CompletedAt = time.Time{}
			w.Steps[i].CompletedBy = ""
			w.Steps[i].Comment = ""
		}
		w.CurrentStep = 0
		w.ApproverID = ""
		w.Status = StatusPending
		w.UpdatedAt = now
		w.Metadata["reset_at"] = now.Format(time.RFC3339)
		return true, nil
	})
}

// Escalate marks an open workflow as escalated. Escalated workflows still
// advance normally.
func (m *Machine) Escalate(ctx context.Context, id, reason string) (*Workflow, error) {
	return m.mutate(ctx, id, wal.EntryWorkflowOverride, func(w *Workflow) (bool, error) {
		if w.Status.Terminal() {
			return false, fmt.Errorf("%w: %s is %s", ErrTerminal, id, w.Status)
		}
		if w.Status == StatusEscalated {
			return false, nil
		}
		now := m.now()
		w.Status = StatusEscalated
		w.UpdatedAt = now
		w.Metadata["escalated_reason"] = reason
		w.Metadata["escalated_at"] = now.Format(time.RFC3339)
		return true, nil
	})
}

// expire marks a workflow past its template timeout
func (m *Machine) expire(ctx context.Context, id string) (*Workflow, error) {
	return m.mutate(ctx, id, wal.EntryWorkflowSwept, func(w *Workflow) (bool, error) {
		if w.Status.Terminal() {
			return false, nil
		}
		now := m.now()
		w.Status = StatusExpired
		w.UpdatedAt = now
		w.Metadata["expired_at"] = now.Format(time.RFC3339)
		return true, nil
	})
}
