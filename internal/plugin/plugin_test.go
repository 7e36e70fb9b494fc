package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/types"
)

// mockSource implements Source for testing.
type mockSource struct {
	name   string
	events []types.EventInput
	err    error
}

func (m *mockSource) Name() string {
	return m.name
}

func (m *mockSource) Run(ctx context.Context, handle Handler) error {
	for _, e := range m.events {
		if err := handle(ctx, e); err != nil {
			return err
		}
	}
	return m.err
}

func TestRegister(t *testing.T) {
	Clear()
	defer Clear()

	Register(&mockSource{name: "test"})

	got, ok := Get("test")
	require.True(t, ok)
	assert.Equal(t, "test", got.Name())
}

func TestGet_NotFound(t *testing.T) {
	Clear()
	defer Clear()

	_, ok := Get("nonexistent")
	assert.False(t, ok)
}

func TestAllAndNames_Sorted(t *testing.T) {
	Clear()
	defer Clear()

	Register(&mockSource{name: "sqs"})
	Register(&mockSource{name: "kafka"})

	all := All()
	require.Len(t, all, 2)
	assert.Equal(t, "kafka", all[0].Name())
	assert.Equal(t, []string{"kafka", "sqs"}, Names())
}

func TestRegister_Overwrites(t *testing.T) {
	Clear()
	defer Clear()

	Register(&mockSource{name: "file", err: errors.New("first")})
	Register(&mockSource{name: "file"})

	got, ok := Get("file")
	require.True(t, ok)
	assert.NoError(t, got.Run(context.Background(), func(context.Context, types.EventInput) error { return nil }))
	assert.Len(t, All(), 1)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"minimal", `{"event_type":"deploy","source_system":"argo"}`, false},
		{"full", `{"event_type":"login","source_system":"okta","severity":"High","timestamp":"2026-01-02T03:04:05Z","payload":{"mfa_present":false},"tags":["a"]}`, false},
		{"missing source", `{"event_type":"deploy"}`, true},
		{"empty type", `{"event_type":"","source_system":"x"}`, true},
		{"bad timestamp", `{"event_type":"a","source_system":"b","timestamp":"yesterday"}`, true},
		{"payload not object", `{"event_type":"a","source_system":"b","payload":[1]}`, true},
		{"metadata not strings", `{"event_type":"a","source_system":"b","metadata":{"k":1}}`, true},
		{"not json", `event_type=a`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidEvent)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, in.EventType)
		})
	}
}

func TestFileSource_Run(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := strings.Join([]string{
		`{"event_type":"deploy","source_system":"argo"}`,
		``,
		`{"event_type":"broken"}`,
		`{"event_type":"login_failed","source_system":"okta","severity":"High"}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	var got []string
	err := NewFileSource(path).Run(context.Background(), func(_ context.Context, in types.EventInput) error {
		got = append(got, in.EventType)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy", "login_failed"}, got)
}

func TestFileSource_Stdin(t *testing.T) {
	s := NewFileSource("-")
	s.stdin = strings.NewReader(`{"event_type":"a","source_system":"b"}` + "\n")

	count := 0
	require.NoError(t, s.Run(context.Background(), func(context.Context, types.EventInput) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestFileSource_HandlerErrorStops(t *testing.T) {
	s := NewFileSource("-")
	s.stdin = strings.NewReader("{\"event_type\":\"a\",\"source_system\":\"b\"}\n{\"event_type\":\"c\",\"source_system\":\"d\"}\n")

	err := s.Run(context.Background(), func(context.Context, types.EventInput) error {
		return errors.New("queue closed")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestFileSource_MissingFile(t *testing.T) {
	err := NewFileSource("/nonexistent/events.jsonl").Run(context.Background(), func(context.Context, types.EventInput) error { return nil })
	require.Error(t, err)
}

func TestReadEvents(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"empty", "  ", 0, false},
		{"array", `[{"event_type":"a","source_system":"b"},{"event_type":"c","source_system":"d"}]`, 2, false},
		{"single", `{"event_type":"a","source_system":"b"}`, 1, false},
		{"lines", "{\"event_type\":\"a\",\"source_system\":\"b\"}\n{\"event_type\":\"c\",\"source_system\":\"d\"}", 2, false},
		{"invalid member", `[{"event_type":"a"}]`, 0, true},
		{"garbage", `{"event_type":`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadEvents(strings.NewReader(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}
