package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/orchestrator"
	"github.com/yairfalse/vigil/types"
	"github.com/yairfalse/vigil/workflow"
)

// writeConfig creates a TOML config pointing storage and the journal at a
// temp directory.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf("[storage]\npath = %q\n\n[wal]\ndir = %q\n\n%s",
		filepath.Join(dir, "data"), filepath.Join(dir, "wal"), extra)
	path := filepath.Join(dir, "vigil.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func resetFlags() {
	configPath, debug = "", false
	processJSON, statsJSON, historyJSON, walJSON, rulesJSON, wfJSON = false, false, false, false, false, false
	wfCorrelation, wfRequester, wfActor, wfReason, wfType = "", "", "", "", ""
	wfMetadata, wfStatus, walTypes = nil, nil, nil
	statsSince = 24 * time.Hour
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: map[string]any{}},
		{name: "pairs", pairs: []string{"ticket=OPS-7", " env =prod"}, want: map[string]any{"ticket": "OPS-7", "env": "prod"}},
		{name: "value with equals", pairs: []string{"q=a=b"}, want: map[string]any{"q": "a=b"}},
		{name: "missing equals", pairs: []string{"ticket"}, wantErr: true},
		{name: "empty key", pairs: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMetadata(tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderResult(t *testing.T) {
	event, err := types.NewEvent(types.EventInput{
		EventType:    "SecretDetected",
		SourceSystem: "github",
		Severity:     "High",
	})
	require.NoError(t, err)

	r := &orchestrator.Result{
		State: orchestrator.State{
			Event:              event,
			TotalRiskScore:     0.82,
			Summary:            "AWS key pushed to a public repo",
			RecommendedActions: []string{"Rotate the key"},
			Findings: []types.Finding{{
				Title:      "Exposed credential",
				Severity:   types.SeverityCritical,
				Confidence: 0.9,
			}},
		},
		Mode:       "rule_based",
		DBStatus:   "saved",
		WorkflowID: "wf-1",
		Errors:     []string{"llm: timeout"},
	}

	out := renderResult(r)
	for _, want := range []string{
		"SecretDetected from github", event.ID, "0.82", "rule_based", "saved", "wf-1",
		"AWS key pushed", "Exposed credential", "1. Rotate the key", "llm: timeout",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Severity(0)")
}

func TestRenderWorkflow(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	w := &workflow.Workflow{
		ID:            "wf-9",
		Type:          workflow.ChangeApproval,
		CorrelationID: "chg-42",
		Status:        workflow.StatusAwaitingApproval,
		RequesterID:   "alice",
		UpdatedAt:     now,
		CurrentStep:   1,
		Steps: []workflow.Step{
			{Name: "submit", RequiredAction: "submit", CompletedAt: now, CompletedBy: "alice"},
			{Name: "approve", RequiredAction: "approve"},
			{Name: "review", RequiredAction: "review", Condition: "high_risk"},
		},
	}

	out := renderWorkflow(w)
	assert.Contains(t, out, "wf-9")
	assert.Contains(t, out, "awaiting_approval")
	assert.Contains(t, out, "chg-42")
	assert.Contains(t, out, "●")
	assert.Contains(t, out, "▶")
	assert.Contains(t, out, "if high_risk")
	assert.Contains(t, renderWorkflowRow(w), "wf-9")
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, "[otel.traces]\nsample_rate = 2.0\n")

	_, err := execute(t, "", "stats", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestProcessCommand(t *testing.T) {
	path := writeConfig(t, "")
	input := `{"event_type":"SecretDetected","source_system":"github","severity":"High","actor_id":"dev-7","payload":{"secret_type":"aws_access_key"}}`

	out, err := execute(t, input, "process", "--json", "--config", path)
	require.NoError(t, err)

	var result orchestrator.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "saved", result.DBStatus)
	assert.NotEmpty(t, result.Findings)

	out, err = execute(t, "", "history", "actor", "dev-7", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "SecretDetected")

	out, err = execute(t, "", "stats", "--json", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"total_events": 1`)
}

func TestProcessCommand_InvalidInput(t *testing.T) {
	path := writeConfig(t, "")
	input := `{"event_type":"","source_system":"github"}`

	_, err := execute(t, input, "process", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event")
}

func TestWorkflowCommands(t *testing.T) {
	path := writeConfig(t, "")

	out, err := execute(t, "", "workflow", "create", "change_approval",
		"--correlation", "chg-42", "--requester", "alice", "--meta", "ticket=OPS-7",
		"--json", "--config", path)
	require.NoError(t, err)

	var created workflow.Workflow
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, workflow.StatusPending, created.Status)
	assert.Equal(t, "OPS-7", created.Metadata["ticket"])

	out, err = execute(t, "", "workflow", "advance", created.ID, "submit", "--actor", "alice", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "in_progress")

	out, err = execute(t, "", "workflow", "list", "--status", "in_progress", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, created.ID)

	out, err = execute(t, "", "workflow", "reject", created.ID, "--actor", "bob", "--reason", "no ticket", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "rejected")

	_, err = execute(t, "", "workflow", "list", "--status", "bogus", "--config", path)
	require.Error(t, err)
}

func TestRulesCheck(t *testing.T) {
	path := writeConfig(t, "")
	input := `{"event_type":"BucketPolicyChanged","source_system":"aws","domain":"Security","payload":{"acl":"public-read"}}`

	out, err := execute(t, input, "rules", "check", "--json", "--config", path)
	require.NoError(t, err)

	var hits []ruleHit
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.RuleID)
	}
	assert.Contains(t, ids, "CR-001")
}

func TestWALCommands(t *testing.T) {
	path := writeConfig(t, "")
	input := `{"event_type":"LoginFailed","source_system":"okta","severity":"Low"}`

	_, err := execute(t, input, "process", "--config", path)
	require.NoError(t, err)

	out, err := execute(t, "", "wal", "replay", "--type", "processed", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1 entries")

	out, err = execute(t, "", "wal", "stats", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "processed")
}
