package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/wal"
	"github.com/yairfalse/vigil/workflow"
)

func TestForceAdvance_IgnoresRequiredAction(t *testing.T) {
	m, _, journal, _ := newMachine(t)
	ctx := context.Background()

	w, err := m.Create(ctx, workflow.ChangeApproval, "corr", "alice", nil)
	require.NoError(t, err)

	got, err := m.ForceAdvance(ctx, w.ID, "", "skipping intake")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, "admin", got.Steps[0].CompletedBy)
	assert.Equal(t, "skipping intake", got.Steps[0].Comment)
	assert.Equal(t, workflow.StatusInProgress, got.Status)
	assert.Equal(t, 1, journal.count(wal.EntryWorkflowOverride))
}

func TestApprove_SetsApprover(t *testing.T) {
	m, _, _, _ := newMachine(t)
	ctx := context.Background()

	w, err := m.Create(ctx, workflow.AccessReview, "corr", "alice", nil)
	require.NoError(t, err)

	got, err := m.Approve(ctx, w.ID, "mgr")
	require.NoError(t, err)
	assert.Equal(t, "mgr", got.ApproverID)
	assert.Equal(t, "Approved", got.Steps[0].Comment)
}

func TestReject(t *testing.T) {
	m, _, _, _ := newMachine(t)
	ctx := context.Background()

	w, err := m.Create(ctx, workflow.ChangeApproval, "corr", "alice", nil)
	require.NoError(t, err)

	got, err := m.Reject(ctx, w.ID, "", "")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, got.Status)
	assert.Equal(t, "Rejected by admin", got.Metadata["rejected_reason"])
	assert.Equal(t, "admin", got.Metadata["rejected_by"])

	_, err = m.Reject(ctx, w.ID, "", "")
	assert.True(t, errors.Is(err, workflow.ErrTerminal))
	_, err = m.ForceAdvance(ctx, w.ID, "", "")
	assert.True(t, errors.Is(err, workflow.ErrTerminal))
}

func TestUnblock(t *testing.T) {
	m, _, _, _ := newMachine(t)
	ctx := context.Background()

	w, err := m.Create(ctx, workflow.IncidentResponse, "corr", "pager", nil)
	require.NoError(t, err)

	got, err := m.Unblock(ctx, w.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Unblocked: Admin override", got.Steps[0].Comment)
	assert.Equal(t, "admin", got.Steps[0].CompletedBy)
}

func TestReset(t *testing.T) {
	m, _, _, c := newMachine(t)
	ctx := context.Background()

	w, err := m.Create(ctx, workflow.ChangeApproval, "corr", "alice", nil)
	require.NoError(t, err)
	for _, a := range []string{"submit", "assess", "approve"} {
		_, _, err = m.Advance(ctx, w.ID, a, "bob")
		require.NoError(t, err)
	}

	c.now = c.now.Add(time.Hour)
	got, err := m.Reset(ctx, w.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, got.CurrentStep)
	assert.Equal(t, workflow.StatusPending, got.Status)
	assert.Empty(t, got.ApproverID)
	assert.Equal(t, c.now.Format(time.RFC3339), got.Metadata["reset_at"])
	for _, s := range got.Steps {
		assert.False(t, s.Done())
		assert.Empty(t, s.CompletedBy)
	}
}

func TestEscalate(t *testing.T) {
	m, _, _, _ := newMachine(t)
	ctx := context.Background()

	w, err := m.Create(ctx, workflow.ChangeApproval, "corr", "alice", nil)
	require.NoError(t, err)

	got, err := m.Escalate(ctx, w.ID, "stuck")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusEscalated, got.Status)
	assert.Equal(t, "stuck", got.Metadata["escalated_reason"])

	// escalated workflows still advance
	got, outcome, err := m.Advance(ctx, w.ID, "submit", "alice")
	require.NoError(t, err)
	assert.Equal(t, workflow.Advanced, outcome)
	assert.Equal(t, workflow.StatusInProgress, got.Status)
}
