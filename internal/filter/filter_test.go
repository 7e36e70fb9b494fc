package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/types"
)

func event(t *testing.T, eventType, source, severity string) *types.Event {
	t.Helper()
	e, err := types.NewEvent(types.EventInput{EventType: eventType, SourceSystem: source, Severity: severity})
	require.NoError(t, err)
	return e
}

func TestAllow_NoFilters(t *testing.T) {
	f := New(nil, nil, "")
	assert.True(t, f.IsEmpty())
	assert.True(t, f.Allow(event(t, "heartbeat", "agent", "Low")))
}

func TestAllow_ExcludeTypes(t *testing.T) {
	f := New([]string{"Heartbeat", " ping "}, nil, "")
	assert.False(t, f.Allow(event(t, "heartbeat", "agent", "Low")))
	assert.False(t, f.Allow(event(t, "PING", "agent", "Low")))
	assert.True(t, f.Allow(event(t, "login_failed", "agent", "Low")))
}

func TestAllow_ExcludeSources(t *testing.T) {
	f := New(nil, []string{"synthetic-monitor"}, "")
	assert.False(t, f.Allow(event(t, "login", "Synthetic-Monitor", "High")))
	assert.True(t, f.Allow(event(t, "login", "okta", "High")))
}

func TestAllow_MinSeverity(t *testing.T) {
	f := New(nil, nil, "high")
	assert.False(t, f.IsEmpty())
	assert.False(t, f.Allow(event(t, "x", "y", "Medium")))
	assert.True(t, f.Allow(event(t, "x", "y", "High")))
	assert.True(t, f.Allow(event(t, "x", "y", "Critical")))
}

func TestAllow_UnknownMinSeverityIgnored(t *testing.T) {
	f := New(nil, nil, "urgent")
	assert.True(t, f.IsEmpty())
	assert.True(t, f.Allow(event(t, "x", "y", "Low")))
}

func TestEvents(t *testing.T) {
	f := New([]string{"heartbeat"}, nil, "medium")
	events := []*types.Event{
		event(t, "heartbeat", "a", "Critical"),
		event(t, "deploy", "a", "Low"),
		event(t, "deploy", "a", "Medium"),
		event(t, "breach", "a", "Critical"),
	}

	got := f.Events(events)
	require.Len(t, got, 2)
	assert.Equal(t, events[2], got[0])
	assert.Equal(t, events[3], got[1])

	assert.Len(t, New(nil, nil, "").Events(events), 4)
}
