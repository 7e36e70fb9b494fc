package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vigil/internal/filter"
	"github.com/yairfalse/vigil/internal/plugin"
	"github.com/yairfalse/vigil/orchestrator"
	"github.com/yairfalse/vigil/types"
	"github.com/yairfalse/vigil/wal"
	"github.com/yairfalse/vigil/workflow"
	"github.com/yairfalse/vigil/workflow/workflowtest"
)

type fakePipeline struct {
	mu     sync.Mutex
	events []*types.Event
}

func (p *fakePipeline) ProcessEvent(_ context.Context, event *types.Event) *orchestrator.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	r := &orchestrator.Result{Mode: "rule_based"}
	r.Event = event
	return r
}

func (p *fakePipeline) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type recordingEmitter struct {
	mu      sync.Mutex
	emitted int
	closed  int
	err     error
}

func (e *recordingEmitter) Emit(context.Context, *orchestrator.Result) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitted++
	return e.err
}

func (e *recordingEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func (e *recordingEmitter) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitted, e.closed
}

// staticSource delivers its events once and returns err
type staticSource struct {
	name   string
	events []types.EventInput
	err    error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Run(ctx context.Context, handle plugin.Handler) error {
	for _, in := range s.events {
		if err := handle(ctx, in); err != nil {
			return err
		}
	}
	return s.err
}

func input(eventType, severity string) types.EventInput {
	return types.EventInput{EventType: eventType, SourceSystem: "test", Severity: severity}
}

func newTestDaemon(t *testing.T, cfg Config, opts Options) (*Daemon, *fakePipeline, *recordingEmitter) {
	t.Helper()
	pipeline := &fakePipeline{}
	sink := &recordingEmitter{}
	opts.Pipeline = pipeline
	if opts.Emitter == nil {
		opts.Emitter = sink
	}
	d, err := NewDaemon(cfg, opts)
	require.NoError(t, err)
	return d, pipeline, sink
}

func TestNewDaemon_RequiresPipeline(t *testing.T) {
	_, err := NewDaemon(Config{}, Options{})
	require.Error(t, err)
}

func TestNewDaemon_Defaults(t *testing.T) {
	d, _, _ := newTestDaemon(t, Config{}, Options{})

	assert.Equal(t, 1, d.cfg.Workers)
	assert.Equal(t, 10000, d.QueueStats().Capacity)
	assert.Nil(t, d.sweeper)
}

func TestDaemon_Submit(t *testing.T) {
	tests := []struct {
		name      string
		in        types.EventInput
		wantErr   error
		wantEvent bool
		wantDepth int
	}{
		{"queued", input("deploy", "Medium"), nil, true, 1},
		{"filtered by type", input("heartbeat", "Low"), filter.ErrFiltered, true, 0},
		{"filtered by severity", input("deploy", "Low"), filter.ErrFiltered, true, 0},
		{"invalid", types.EventInput{SourceSystem: "test"}, nil, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, _ := newTestDaemon(t, Config{}, Options{
				Filter: filter.New([]string{"heartbeat"}, nil, "Medium"),
			})

			event, err := d.Submit(context.Background(), tt.in)
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case !tt.wantEvent:
				require.Error(t, err)
			default:
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantEvent, event != nil)
			assert.Equal(t, tt.wantDepth, d.QueueStats().Depth)
		})
	}
}

func TestDaemon_ProcessesSourceEvents(t *testing.T) {
	src := &staticSource{name: "static", events: []types.EventInput{
		input("deploy", "Low"),
		input("SecretDetected", "Critical"),
		input("scale", "Medium"),
	}}
	d, pipeline, sink := newTestDaemon(t, Config{Workers: 2}, Options{Sources: []plugin.Source{src}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return pipeline.count() == 3 }, 2*time.Second, 10*time.Millisecond)

	// A finished source leaves the daemon running
	select {
	case err := <-errCh:
		t.Fatalf("daemon exited early: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down within timeout")
	}

	emitted, closed := sink.counts()
	assert.Equal(t, 3, emitted)
	assert.Equal(t, 1, closed)
	assert.Equal(t, int64(3), d.ProcessedCount())
}

func TestDaemon_DrainsQueueOnShutdown(t *testing.T) {
	d, pipeline, _ := newTestDaemon(t, Config{Workers: 1}, Options{})

	for i := 0; i < 5; i++ {
		_, err := d.Submit(context.Background(), input(fmt.Sprintf("deploy-%d", i), "Low"))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, d.Start(ctx))
	assert.Equal(t, 5, pipeline.count())

	_, err := d.Submit(context.Background(), input("late", "Low"))
	assert.Error(t, err)
}

func TestDaemon_SourceErrorDoesNotStop(t *testing.T) {
	src := &staticSource{name: "broken", err: errors.New("connection refused")}
	d, _, _ := newTestDaemon(t, Config{}, Options{Sources: []plugin.Source{src}})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, d.Start(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestDaemon_EmitErrorIsNotFatal(t *testing.T) {
	sink := &recordingEmitter{err: errors.New("bucket gone")}
	d, pipeline, _ := newTestDaemon(t, Config{}, Options{Emitter: sink})

	_, err := d.Submit(context.Background(), input("deploy", "High"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Start(ctx))

	assert.Equal(t, 1, pipeline.count())
	emitted, _ := sink.counts()
	assert.Equal(t, 1, emitted)
}

func TestDaemon_HTTPServer(t *testing.T) {
	d, pipeline, _ := newTestDaemon(t, Config{Listen: "127.0.0.1:0"}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	base := "http://" + d.Addr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := bytes.NewBufferString(`{"event_type":"deploy","source_system":"argo","severity":"Low"}`)
	resp, err = http.Post(base+"/v1/events", "application/json", body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return pipeline.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("daemon did not shut down within timeout")
	}
}

func TestDaemon_ListenError(t *testing.T) {
	d, _, _ := newTestDaemon(t, Config{Listen: "256.0.0.1:bad"}, Options{})
	err := d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestDaemon_Sweep(t *testing.T) {
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := workflowtest.NewMemory()
	machine := workflow.NewMachine(repo, workflow.Options{Now: func() time.Time { return created }})

	ctx := context.Background()
	wf, err := machine.Create(ctx, workflow.ChangeApproval, "corr-1", "alice", nil)
	require.NoError(t, err)

	later := created.Add(100 * time.Hour)
	d, _, _ := newTestDaemon(t, Config{}, Options{
		Workflows: machine,
		Now:       func() time.Time { return later },
	})

	d.sweep(ctx)

	got, err := machine.Get(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusExpired, got.Status)
	assert.Equal(t, int64(1), d.SweepCount())
}

func TestDaemon_SweepTicker(t *testing.T) {
	machine := workflow.NewMachine(workflowtest.NewMemory(), workflow.Options{})
	d, _, _ := newTestDaemon(t, Config{SweepInterval: 20 * time.Millisecond}, Options{Workflows: machine})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Start(ctx))

	assert.GreaterOrEqual(t, d.SweepCount(), int64(2))
}

func TestDaemon_Health(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	now := start
	d, _, _ := newTestDaemon(t, Config{}, Options{Now: func() time.Time { return now }})

	_, err := d.Submit(context.Background(), input("deploy", "Low"))
	require.NoError(t, err)

	now = start.Add(90 * time.Second)
	health := d.Health()

	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int64(90), health.Uptime)
	assert.Equal(t, 1, health.QueueDepth)
	assert.Zero(t, health.Processed)
	assert.Empty(t, health.Issues)
}

func TestDaemon_HealthDegradedByJournal(t *testing.T) {
	journal, err := wal.OpenWithConfig(t.TempDir(), wal.Config{FilePrefix: "vigil", MaxFileSize: 16, RetentionDays: 30})
	require.NoError(t, err)
	defer func() { _ = journal.Close() }()
	require.NoError(t, journal.Append(wal.EntryProcessed, "evt-1", map[string]string{"event_type": "deploy"}))

	d, _, _ := newTestDaemon(t, Config{}, Options{Journal: journal})
	health := d.Health()

	assert.Equal(t, "degraded", health.Status)
	assert.NotEmpty(t, health.Issues)
}

func TestDaemon_Housekeep(t *testing.T) {
	d, _, _ := newTestDaemon(t, Config{QueueSize: 1, WALDir: t.TempDir(), WALRetentionDays: 7}, Options{})

	_, err := d.Submit(context.Background(), input("deploy", "Low"))
	require.NoError(t, err)
	_, err = d.Submit(context.Background(), input("deploy", "Low"))
	require.Error(t, err)

	tick := d.housekeep()
	assert.NotPanics(t, func() { tick(context.Background()) })
	assert.Equal(t, uint64(1), d.lastDropped)
}
