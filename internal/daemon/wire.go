package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/yairfalse/vigil/checker"
	catalog "github.com/yairfalse/vigil/config"
	"github.com/yairfalse/vigil/history"
	"github.com/yairfalse/vigil/internal/config"
	"github.com/yairfalse/vigil/internal/emitter"
	"github.com/yairfalse/vigil/internal/filter"
	"github.com/yairfalse/vigil/internal/plugin"
	awsplugin "github.com/yairfalse/vigil/internal/plugin/aws"
	"github.com/yairfalse/vigil/internal/plugin/stream"
	"github.com/yairfalse/vigil/orchestrator"
	"github.com/yairfalse/vigil/policy"
	"github.com/yairfalse/vigil/storage"
	"github.com/yairfalse/vigil/synthesizer"
	"github.com/yairfalse/vigil/telemetry"
	"github.com/yairfalse/vigil/wal"
	"github.com/yairfalse/vigil/workflow"
)

// Components is the analysis stack shared by the daemon and one-shot CLI
// commands
type Components struct {
	Config    *config.Config
	Store     *storage.Store
	WAL       *wal.WAL
	Catalog   *catalog.Catalog
	Policies  *policy.Engine
	History   *history.Service
	Workflows *workflow.Machine
	Pipeline  *orchestrator.Pipeline
	Metrics   *telemetry.PipelineMetrics

	cache *history.RedisCache
}

// Wire opens storage and the WAL and assembles the pipeline from cfg.
// Callers must Close the result.
func Wire(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{Config: cfg, Metrics: telemetry.DefaultMetrics()}

	var err error
	if c.Store, err = storage.Open(cfg.Storage.Path); err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	walCfg := wal.DefaultConfig()
	walCfg.RetentionDays = cfg.WAL.RetentionDays
	if c.WAL, err = wal.OpenWithConfig(cfg.WAL.Dir, walCfg); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}

	if err := c.wireAnalysis(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) wireAnalysis(ctx context.Context) error {
	cfg := c.Config

	var err error
	if c.Catalog, c.Policies, err = LoadPolicies(ctx, cfg.Catalog); err != nil {
		return err
	}

	opts := history.Options{}
	if cfg.Redis.Addr != "" {
		cache, err := history.NewRedisCache(ctx, history.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
			TLSEnabled:   cfg.Redis.TLS,
		})
		if err != nil {
			return err
		}
		c.cache = cache
		opts.Cache = cache
	}
	c.History = history.NewService(c.Store, opts)

	synthOpts := synthesizer.Options{
		Assembler: synthesizer.NewAssembler(c.Catalog, c.History),
		Strict:    cfg.LLM.Strict,
		Metrics:   c.Metrics,
	}
	if cfg.LLM.Enabled() {
		synthOpts.Model = synthesizer.NewClient(synthesizer.ClientConfig{
			Endpoint:  cfg.LLM.Endpoint,
			Model:     cfg.LLM.Model,
			APIKey:    cfg.LLM.APIKey(),
			Timeout:   cfg.LLM.Timeout,
			MaxTokens: cfg.LLM.MaxTokens,
		})
	}

	c.Workflows = workflow.NewMachine(workflow.NewBoltRepository(c.Store), workflow.Options{
		Journal: c.WAL,
		Metrics: c.Metrics,
	})

	registry := checker.NewRegistry(checker.Deps{History: c.History, Policies: c.Policies})
	c.Pipeline = orchestrator.NewPipeline(
		orchestrator.NewDispatcher(registry, c.Metrics),
		orchestrator.NewFinalizer(c.Store),
		orchestrator.Options{
			Workflows:   c.Workflows,
			Journal:     c.WAL,
			History:     c.History,
			Metrics:     c.Metrics,
			Synthesizer: synthesizer.New(synthOpts),
		},
	)
	return nil
}

// LoadPolicies reads the knowledge catalog and loads its custom rules on top
// of the builtin policies. Rules that fail to compile are skipped.
func LoadPolicies(ctx context.Context, cfg config.CatalogConfig) (*catalog.Catalog, *policy.Engine, error) {
	cat := catalog.DefaultCatalog()
	if cfg.Path != "" {
		loaded, err := catalog.LoadCatalog(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		cat = loaded
	}

	engine, err := policy.NewDefaultEngine(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load builtin policies: %w", err)
	}
	rules, err := cat.CompiledRules()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile catalog rules: %w", err)
	}

	logger := telemetry.NewLogger("wire")
	for _, p := range rules {
		if err := engine.Load(ctx, p); err != nil {
			logger.LogRuleSuppressed(ctx, checker.ComplianceSentinel.String(), p.ID, err)
		}
	}
	return cat, engine, nil
}

// Close releases storage, the WAL and the history cache
func (c *Components) Close() error {
	var errs []error
	if c.cache != nil {
		errs = append(errs, c.cache.Close())
	}
	if c.WAL != nil {
		errs = append(errs, c.WAL.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}

// Sources builds and registers the intake sources enabled in cfg
func Sources(ctx context.Context, cfg config.SourcesConfig) ([]plugin.Source, error) {
	if f := cfg.File; f != nil {
		plugin.Register(plugin.NewFileSource(f.Path))
	}
	if k := cfg.Kafka; k != nil {
		src, err := stream.NewKafkaSource(stream.KafkaOptions{Brokers: k.Brokers, Topic: k.Topic, GroupID: k.GroupID})
		if err != nil {
			return nil, err
		}
		plugin.Register(src)
	}
	if n := cfg.NATS; n != nil {
		src, err := stream.NewNATSSource(stream.NATSOptions{URL: n.URL, Subject: n.Subject, Queue: n.Queue})
		if err != nil {
			return nil, err
		}
		plugin.Register(src)
	}
	if s := cfg.SQS; s != nil {
		src, err := awsplugin.NewSQSSourceFromConfig(ctx, s.QueueURL, s.Region)
		if err != nil {
			return nil, err
		}
		plugin.Register(src)
	}
	if ct := cfg.CloudTrail; ct != nil {
		src, err := awsplugin.NewCloudTrailSourceFromConfig(ctx, awsplugin.CloudTrailOptions{Region: ct.Region, Interval: ct.Interval})
		if err != nil {
			return nil, err
		}
		plugin.Register(src)
	}
	return plugin.All(), nil
}

// Emitters builds the result sinks. Log and Prometheus are always present.
func Emitters(ctx context.Context, cfg config.EmittersConfig) (emitter.Emitter, error) {
	prom, err := emitter.NewPrometheusEmitter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus emitter: %w", err)
	}
	sinks := []emitter.Emitter{emitter.NewLogEmitter(), prom}

	if s := cfg.S3; s != nil {
		s3e, err := emitter.NewS3Emitter(ctx, emitter.S3Config{Bucket: s.Bucket, Prefix: s.Prefix, Region: s.Region})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3e)
	}
	return emitter.NewMultiEmitter(sinks...), nil
}

// New assembles a daemon from cfg and wired components
func New(ctx context.Context, cfg *config.Config, c *Components) (*Daemon, error) {
	sources, err := Sources(ctx, cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to build sources: %w", err)
	}
	sinks, err := Emitters(ctx, cfg.Emitters)
	if err != nil {
		return nil, err
	}
	dm, err := NewDaemonMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon metrics: %w", err)
	}

	return NewDaemon(Config{
		Workers:          cfg.Daemon.Workers,
		QueueSize:        cfg.Daemon.QueueSize,
		SweepInterval:    cfg.Daemon.SweepInterval,
		Listen:           cfg.Daemon.Listen,
		WALDir:           filepath.Clean(cfg.WAL.Dir),
		WALRetentionDays: cfg.WAL.RetentionDays,
	}, Options{
		Pipeline:  c.Pipeline,
		Emitter:   sinks,
		Workflows: c.Workflows,
		Stats:     c.Store,
		Sources:   sources,
		Filter:    filter.New(cfg.Filter.ExcludeTypes, cfg.Filter.ExcludeSources, cfg.Filter.MinSeverity),
		Journal:   c.WAL,
		Metrics:   c.Metrics,
		Daemon:    dm,
	})
}
