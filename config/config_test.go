package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/policy"
	"github.com/yairfalse/vigil/types"
)

func TestLoadCatalog(t *testing.T) {
	content := `
version: v1
policies:
  security:
    - id: SEC-9
      name: Badge Policy
      description: Badges must be worn
      frameworks: [SOC2-CC6.4]
      remediation: Wear your badge
  Compliance:
    - id: COMP-9
      name: Ticket
      remediation: Open a ticket
rules:
  - id: CR-9
    name: Root Login
    severity: critical
    confidence: 0.9
    field: user
    operator: equals
    value: root
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)

	refs := cat.PoliciesFor(types.DomainSecurity)
	require.Len(t, refs, 2)
	assert.Equal(t, "SEC-9", refs[0].ID)
	assert.Equal(t, "COMP-9", refs[1].ID)
	assert.Equal(t, []string{"Wear your badge", "Open a ticket"}, cat.RemediationsFor(types.DomainSecurity))

	// compliance is not listed twice
	assert.Len(t, cat.PoliciesFor(types.DomainCompliance), 1)

	rules, err := cat.CompiledRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, types.SeverityCritical, rules[0].Severity)
	assert.True(t, rules[0].Custom)
}

func TestLoadCatalog_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing version", "policies: {}", "version is required"},
		{"bad domain", "version: v1\npolicies:\n  Marketing: []", "unknown policy domain"},
		{"bad operator", "version: v1\nrules:\n  - id: R1\n    field: x\n    operator: matches", "unsupported operator"},
		{"duplicate rule", "version: v1\nrules:\n  - {id: R1, field: x, operator: exists}\n  - {id: R1, field: y, operator: exists}", "duplicate rule id"},
		{"bad confidence", "version: v1\nrules:\n  - {id: R1, field: x, operator: exists, confidence: 2}", "confidence"},
		{"bad yaml", "version: [", "failed to parse catalog"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultCatalog(t *testing.T) {
	cat := DefaultCatalog()

	assert.Len(t, cat.PoliciesFor(types.DomainSecurity), 5)
	assert.Len(t, cat.PoliciesFor(types.DomainFinancial), 4)
	// unknown domains still get the compliance policies
	assert.Len(t, cat.PoliciesFor(types.DomainUnknown), 2)
	assert.Contains(t, cat.RemediationsFor(types.DomainSecurity), "Rotate exposed key immediately and scan for usage")
}

func TestCompiledRules_EvaluateInEngine(t *testing.T) {
	ctx := context.Background()
	rules, err := DefaultCatalog().CompiledRules()
	require.NoError(t, err)

	engine := policy.NewEngine()
	for _, r := range rules {
		require.NoError(t, engine.Load(ctx, r))
	}

	event, err := types.NewEvent(types.EventInput{
		EventType:    "bucket_acl_changed",
		SourceSystem: "s3",
		Domain:       "Security",
		Payload:      map[string]any{"acl": "Public-Read", "encrypted": false},
	})
	require.NoError(t, err)

	input := policy.BuildInput(event)

	violated, err := engine.Violated(ctx, "CR-001", input)
	require.NoError(t, err)
	assert.True(t, violated)

	violated, err = engine.Violated(ctx, "CR-002", input)
	require.NoError(t, err)
	assert.True(t, violated)

	applicable := engine.Applicable(types.DomainFinancial)
	for _, p := range applicable {
		assert.NotEqual(t, "CR-001", p.ID)
	}
}
