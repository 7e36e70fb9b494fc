// Package daemon runs vigil continuously: intake sources feed a priority
// queue, workers run the analysis pipeline and emit results, and a sweeper
// expires and escalates workflows.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/run"

	"github.com/yairfalse/vigil/internal/api"
	"github.com/yairfalse/vigil/internal/emitter"
	"github.com/yairfalse/vigil/internal/filter"
	"github.com/yairfalse/vigil/internal/plugin"
	"github.com/yairfalse/vigil/internal/queue"
	"github.com/yairfalse/vigil/orchestrator"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/types"
	"github.com/yairfalse/vigil/wal"
	"github.com/yairfalse/vigil/workflow"
)

const (
	apiSource         = "api"
	housekeepInterval = time.Minute
	walCleanupEvery   = time.Hour
	shutdownTimeout   = 5 * time.Second
)

// Processor runs one event through the analysis pipeline
type Processor interface {
	ProcessEvent(ctx context.Context, event *types.Event) *orchestrator.Result
}

// Config holds daemon runtime settings
type Config struct {
	Workers          int
	QueueSize        int
	SweepInterval    time.Duration
	Listen           string
	WALDir           string
	WALRetentionDays int
}

// Options wires the daemon's collaborators. Pipeline is required.
type Options struct {
	Pipeline  Processor
	Emitter   emitter.Emitter
	Workflows *workflow.Machine
	Stats     api.StatsSource
	Sources   []plugin.Source
	Filter    *filter.Filter
	Journal   *wal.WAL
	Metrics   *telemetry.PipelineMetrics
	Daemon    *DaemonMetrics
	Now       func() time.Time
}

// Daemon manages continuous event analysis
type Daemon struct {
	cfg       Config
	pipeline  Processor
	emitter   emitter.Emitter
	workflows *workflow.Machine
	sweeper   *workflow.Sweeper
	sources   []plugin.Source
	filter    *filter.Filter
	queue     *queue.Queue
	journal   *wal.WAL
	server    *api.Server
	metrics   *telemetry.PipelineMetrics
	dmetrics  *DaemonMetrics
	logger    *telemetry.Logger
	now       func() time.Time
	startTime time.Time

	processed   atomic.Int64
	sweepCount  atomic.Int64
	lastDropped uint64

	addrMu sync.RWMutex
	addr   net.Addr
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg Config, opts Options) (*Daemon, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("daemon requires a pipeline")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = queue.DefaultSize
	}
	if opts.Emitter == nil {
		opts.Emitter = emitter.NewLogEmitter()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	d := &Daemon{
		cfg:       cfg,
		pipeline:  opts.Pipeline,
		emitter:   opts.Emitter,
		workflows: opts.Workflows,
		sources:   opts.Sources,
		filter:    opts.Filter,
		queue:     queue.New(cfg.QueueSize),
		journal:   opts.Journal,
		metrics:   opts.Metrics,
		dmetrics:  opts.Daemon,
		logger:    telemetry.NewLogger("daemon"),
		now:       now,
		startTime: now(),
	}
	if opts.Workflows != nil {
		d.sweeper = workflow.NewSweeper(opts.Workflows)
	}
	d.server = api.NewServer(api.Options{
		Intake:    d,
		Workflows: opts.Workflows,
		Stats:     opts.Stats,
		Queue:     d.queue,
		Health:    d,
		Now:       now,
	})
	return d, nil
}

// Submit validates, filters and queues an event received over the API.
// Filtered events are returned together with filter.ErrFiltered.
func (d *Daemon) Submit(ctx context.Context, in types.EventInput) (*types.Event, error) {
	return d.submit(ctx, apiSource, in)
}

func (d *Daemon) submit(ctx context.Context, source string, in types.EventInput) (*types.Event, error) {
	event, err := types.NewEvent(in)
	if err != nil {
		d.dmetrics.RecordIntake(ctx, IntakeInvalid, source)
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	if d.filter != nil && !d.filter.Allow(event) {
		d.dmetrics.RecordIntake(ctx, IntakeFiltered, source)
		return event, filter.ErrFiltered
	}

	if err := d.queue.Push(event); err != nil {
		d.dmetrics.RecordIntake(ctx, IntakeDropped, source)
		return event, err
	}
	d.dmetrics.RecordIntake(ctx, IntakeQueued, source)
	return event, nil
}

// handlerFor adapts a source to the queue. Only a closed queue is reported
// back, so transports with redelivery keep the message.
func (d *Daemon) handlerFor(source string) plugin.Handler {
	return func(ctx context.Context, in types.EventInput) error {
		_, err := d.submit(ctx, source, in)
		switch {
		case err == nil, errors.Is(err, filter.ErrFiltered), errors.Is(err, queue.ErrQueueFull):
			return nil
		case errors.Is(err, queue.ErrQueueClosed):
			return err
		default:
			d.logger.WithContext(ctx).Warn().Err(err).Str("source", source).Msg("dropping invalid event")
			return nil
		}
	}
}

// Start runs every actor until ctx is done or one of them fails. Workers
// drain the queue before Start returns.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group

	g.Add(func() error {
		<-ctx.Done()
		return nil
	}, func(error) {
		cancel()
	})

	if err := d.addServer(&g); err != nil {
		return err
	}
	d.addSources(ctx, &g)
	d.addWorkers(ctx, &g)
	d.addTicker(ctx, &g, d.cfg.SweepInterval, d.sweep)
	d.addTicker(ctx, &g, housekeepInterval, d.housekeep())

	d.logger.WithContext(ctx).Info().
		Int("workers", d.cfg.Workers).
		Int("queue_size", d.cfg.QueueSize).
		Strs("sources", sourceNames(d.sources)).
		Str("listen", d.cfg.Listen).
		Msg("daemon started")

	err := g.Run()

	if cerr := d.emitter.Close(); cerr != nil {
		d.logger.WithContext(ctx).Warn().Err(cerr).Msg("failed to close emitters")
	}
	d.logger.WithContext(ctx).Info().Int64("processed", d.processed.Load()).Msg("daemon stopped")
	return err
}

func (d *Daemon) addServer(g *run.Group) error {
	if d.cfg.Listen == "" {
		return nil
	}

	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Listen, err)
	}
	d.addrMu.Lock()
	d.addr = ln.Addr()
	d.addrMu.Unlock()

	srv := &http.Server{
		Handler:           d.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Add(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return nil
}

// addSources runs each source until the daemon stops. A source that ends,
// with or without an error, does not stop the daemon.
func (d *Daemon) addSources(ctx context.Context, g *run.Group) {
	for _, src := range d.sources {
		g.Add(func() error {
			if err := src.Run(ctx, d.handlerFor(src.Name())); err != nil && ctx.Err() == nil {
				d.dmetrics.RecordSourceError(ctx, src.Name())
				d.logger.WithContext(ctx).Error().Err(err).Str("source", src.Name()).Msg("source stopped")
			}
			<-ctx.Done()
			return nil
		}, func(error) {})
	}
}

// addWorkers pops until the queue is closed and empty. Workers keep a
// context that outlives the stop signal so queued events finish.
func (d *Daemon) addWorkers(ctx context.Context, g *run.Group) {
	workCtx := context.WithoutCancel(ctx)
	var once sync.Once
	for i := 0; i < d.cfg.Workers; i++ {
		g.Add(func() error {
			for {
				event, err := d.queue.Pop(workCtx)
				if err != nil {
					return nil
				}
				d.process(workCtx, event)
			}
		}, func(error) {
			once.Do(d.queue.Close)
		})
	}
}

func (d *Daemon) process(ctx context.Context, event *types.Event) {
	result := d.pipeline.ProcessEvent(ctx, event)
	d.processed.Add(1)
	if result == nil {
		return
	}
	if err := d.emitter.Emit(ctx, result); err != nil {
		d.dmetrics.RecordEmitError(ctx)
		d.logger.WithContext(ctx).Warn().Err(err).Str("event_id", event.ID).Msg("failed to emit result")
	}
}

func (d *Daemon) addTicker(ctx context.Context, g *run.Group, every time.Duration, fn func(context.Context)) {
	if every <= 0 {
		return
	}
	g.Add(func() error {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fn(ctx)
			}
		}
	}, func(error) {})
}

func (d *Daemon) sweep(ctx context.Context) {
	if d.sweeper == nil {
		return
	}
	start := time.Now()
	res, err := d.sweeper.Sweep(ctx, d.now())
	d.sweepCount.Add(1)

	status := "success"
	if err != nil || len(res.Errors) > 0 {
		status = "error"
	}
	d.dmetrics.RecordSweep(ctx, status, time.Since(start).Seconds(), len(res.Expired), len(res.Escalated))

	log := d.logger.WithContext(ctx)
	if err != nil {
		log.Error().Err(err).Msg("workflow sweep failed")
		return
	}
	if len(res.Expired)+len(res.Escalated)+len(res.Errors) > 0 {
		log.Info().
			Strs("expired", res.Expired).
			Strs("escalated", res.Escalated).
			Strs("errors", res.Errors).
			Msg("workflow sweep")
	}
}

// housekeep reports queue gauges every tick and prunes old WAL files hourly
func (d *Daemon) housekeep() func(context.Context) {
	var lastCleanup time.Time
	return func(ctx context.Context) {
		stats := d.queue.Stats()
		d.metrics.RecordQueue(ctx, stats.Depth, int64(stats.Dropped-d.lastDropped))
		d.lastDropped = stats.Dropped

		if d.cfg.WALDir == "" || d.cfg.WALRetentionDays <= 0 {
			return
		}
		now := d.now()
		if !lastCleanup.IsZero() && now.Sub(lastCleanup) < walCleanupEvery {
			return
		}
		lastCleanup = now

		walCfg := wal.DefaultConfig()
		walCfg.RetentionDays = d.cfg.WALRetentionDays
		res, err := wal.CleanupWithStats(d.cfg.WALDir, walCfg)
		if err != nil {
			d.logger.LogStorageError(ctx, "wal_cleanup", err)
			return
		}
		if res.FilesRemoved > 0 {
			d.logger.WithContext(ctx).Info().Int("files_removed", res.FilesRemoved).Msg("wal files pruned")
		}
	}
}

func sourceNames(sources []plugin.Source) []string {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	return names
}

// Addr returns the bound HTTP address once Start is listening
func (d *Daemon) Addr() net.Addr {
	d.addrMu.RLock()
	defer d.addrMu.RUnlock()
	return d.addr
}

// QueueStats returns intake queue counters
func (d *Daemon) QueueStats() queue.Stats {
	return d.queue.Stats()
}

// Health reports uptime, queue depth and journal problems. Journal issues
// degrade the status but never fail the check.
func (d *Daemon) Health() api.Health {
	h := api.Health{
		Status:     "healthy",
		Uptime:     int64(d.now().Sub(d.startTime).Seconds()),
		QueueDepth: d.queue.Len(),
		Processed:  d.processed.Load(),
	}
	if d.journal != nil {
		if jh := d.journal.GetHealth(); !jh.Healthy {
			h.Status = "degraded"
			h.Issues = jh.Issues
		}
	}
	return h
}

// ProcessedCount returns total events run through the pipeline
func (d *Daemon) ProcessedCount() int64 {
	return d.processed.Load()
}

// SweepCount returns total sweeps run
func (d *Daemon) SweepCount() int64 {
	return d.sweepCount.Load()
}
