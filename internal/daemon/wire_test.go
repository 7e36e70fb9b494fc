package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/internal/config"
	"github.com/yairfalse/vigil/internal/plugin"
	"github.com/yairfalse/vigil/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "data")
	cfg.WAL.Dir = filepath.Join(dir, "wal")
	cfg.Daemon.Listen = ""
	return cfg
}

func TestWire_ProcessesEvent(t *testing.T) {
	ctx := context.Background()
	c, err := Wire(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	result, err := c.Pipeline.Process(ctx, types.EventInput{
		EventType:    "SecretDetected",
		SourceSystem: "github",
		Severity:     "High",
		ActorID:      "dev-7",
		Payload:      map[string]any{"secret_type": "aws_access_key"},
	})
	require.NoError(t, err)

	assert.Equal(t, "saved", result.DBStatus)
	assert.NotEmpty(t, result.Findings)

	stats, err := c.Store.SummaryStats(ctx, result.Event.Timestamp.Add(-1))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEvents)
}

func TestWire_BadCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Wire(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load catalog")
}

func TestLoadPolicies_Default(t *testing.T) {
	cat, engine, err := LoadPolicies(context.Background(), config.CatalogConfig{})
	require.NoError(t, err)

	assert.NotEmpty(t, cat.Version)
	assert.GreaterOrEqual(t, len(engine.Policies()), len(cat.Rules))
}

func TestSources_RegistersFileSource(t *testing.T) {
	plugin.Clear()
	t.Cleanup(plugin.Clear)

	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"event_type":"deploy","source_system":"argo"}`+"\n"), 0o600))

	sources, err := Sources(context.Background(), config.SourcesConfig{
		File: &config.FileSourceConfig{Path: path},
	})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "file", sources[0].Name())
	assert.Equal(t, []string{"file"}, plugin.Names())
}

func TestSources_InvalidNATS(t *testing.T) {
	plugin.Clear()
	t.Cleanup(plugin.Clear)

	_, err := Sources(context.Background(), config.SourcesConfig{NATS: &config.NATSSourceConfig{}})
	require.Error(t, err)
}

func TestEmitters_Default(t *testing.T) {
	e, err := Emitters(context.Background(), config.EmittersConfig{})
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestNew_FromConfig(t *testing.T) {
	plugin.Clear()
	t.Cleanup(plugin.Clear)

	ctx := context.Background()
	cfg := testConfig(t)
	c, err := Wire(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	d, err := New(ctx, cfg, c)
	require.NoError(t, err)
	assert.Equal(t, cfg.Daemon.Workers, d.cfg.Workers)
	assert.NotNil(t, d.sweeper)
}
