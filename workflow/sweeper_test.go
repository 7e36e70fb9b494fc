package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/workflow"
)

func TestSweep(t *testing.T) {
	m, _, _, c := newMachine(t)
	ctx := context.Background()
	start := c.now

	expiring, err := m.Create(ctx, workflow.AccessReview, "a", "u", nil)
	require.NoError(t, err)

	waiting, err := m.Create(ctx, workflow.IncidentResponse, "b", "u", nil)
	require.NoError(t, err)
	for _, a := range []string{"detect", "triage"} {
		_, _, err = m.Advance(ctx, waiting.ID, a, "bot")
		require.NoError(t, err)
	}

	done, err := m.Create(ctx, workflow.AccessReview, "c", "u", nil)
	require.NoError(t, err)
	_, err = m.Reject(ctx, done.ID, "", "")
	require.NoError(t, err)

	// access review times out after 48h, incident response escalates after 4h
	c.now = start.Add(49 * time.Hour)
	result, err := workflow.NewSweeper(m).Sweep(ctx, c.now)
	require.NoError(t, err)

	assert.Equal(t, []string{expiring.ID}, result.Expired)
	assert.Equal(t, []string{waiting.ID}, result.Escalated)
	assert.Empty(t, result.Errors)

	got, err := m.Get(ctx, expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusExpired, got.Status)

	got, err = m.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, got.Status)

	// a second sweep leaves escalated workflows alone until they time out
	result, err = workflow.NewSweeper(m).Sweep(ctx, c.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, result.Expired)
	assert.Empty(t, result.Escalated)
}

func TestSweep_FreshWorkflowsUntouched(t *testing.T) {
	m, _, _, c := newMachine(t)
	ctx := context.Background()

	_, err := m.Create(ctx, workflow.ChangeApproval, "a", "u", nil)
	require.NoError(t, err)

	result, err := workflow.NewSweeper(m).Sweep(ctx, c.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, result.Expired)
	assert.Empty(t, result.Escalated)
}
