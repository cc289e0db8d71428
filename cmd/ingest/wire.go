package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/research-feed-service/internal/config"
	"github.com/helixir/research-feed-service/internal/database"
	"github.com/helixir/research-feed-service/internal/domain"
	"github.com/helixir/research-feed-service/internal/enrichment"
	"github.com/helixir/research-feed-service/internal/feeds"
	"github.com/helixir/research-feed-service/internal/httpclient"
	"github.com/helixir/research-feed-service/internal/observability"
	"github.com/helixir/research-feed-service/internal/outbox"
	"github.com/helixir/research-feed-service/internal/pipeline"
	"github.com/helixir/research-feed-service/internal/processors"
	"github.com/helixir/research-feed-service/internal/repository"
	"github.com/helixir/research-feed-service/internal/repository/memory"
	"github.com/helixir/research-feed-service/internal/upsert"
)

// app holds the wired components of one process.
type app struct {
	cfg          *config.Config
	logger       zerolog.Logger
	db           *database.DB
	sources      repository.SourceRepository
	registries   processors.Registries
	orchestrator *pipeline.Orchestrator
	dryRunStore  *memory.Store

	closers []func() error
}

type wireOptions struct {
	dryRun bool
	// pipeline is false for commands that only read sources.
	pipeline bool
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func wire(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts wireOptions) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, registries: processors.DefaultRegistries()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// Dry runs never write to Postgres, but may still read sources from it.
	needDB := cfg.Sources.Store == config.SourceStorePostgres || (opts.pipeline && !opts.dryRun)
	if needDB {
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun && !opts.dryRun {
			if err := migrateUp(db, cfg, logger); err != nil {
				return nil, err
			}
		}
	}

	switch cfg.Sources.Store {
	case config.SourceStoreYAML:
		a.sources = repository.NewYAMLSourceRepository(cfg.Sources.File)
	default:
		a.sources = repository.NewPgSourceRepository(a.db)
	}

	if !opts.pipeline {
		return a, nil
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	var txRunner repository.TxRunner
	if opts.dryRun {
		a.dryRunStore = memory.NewStore()
		txRunner = a.dryRunStore
		logger.Warn().Msg("dry run: writes go to an in-memory store and are discarded on exit")
	} else {
		txRunner = repository.NewPgTxRunner(a.db, logger)
	}

	upsertOpts := []upsert.Option{upsert.WithMaxAttempts(cfg.Pipeline.UpsertAttempts)}
	if metrics != nil {
		upsertOpts = append(upsertOpts, upsert.WithRecorder(metrics))
	}
	if cfg.Kafka.Enabled && !opts.dryRun {
		pub, err := outbox.NewKafkaPublisher(outbox.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		upsertOpts = append(upsertOpts, upsert.WithPublisher(outbox.NewEmitter(outbox.EmitterConfig{}), pub))
	}
	engine := upsert.New(txRunner, logger, upsertOpts...)

	enricher, err := a.enricher(metrics)
	if err != nil {
		return nil, err
	}

	fetcher := feeds.NewFetcher(feeds.Config{
		Timeout:      cfg.Feeds.Timeout,
		UserAgent:    cfg.Feeds.UserAgent,
		MaxBodyBytes: cfg.Feeds.MaxBodyBytes,
		RateLimit:    cfg.Feeds.RateLimit,
	}, logger)

	kinds := make([]domain.EntityKind, 0, len(cfg.Pipeline.Kinds))
	for _, k := range cfg.Pipeline.Kinds {
		kinds = append(kinds, domain.EntityKind(k))
	}

	deps := pipeline.Dependencies{
		Sources:    a.sources,
		Fetcher:    fetcher,
		Registries: a.registries,
		Enricher:   enricher,
		Upserter:   engine,
	}
	if metrics != nil {
		deps.Recorder = metrics
	}
	if a.db != nil {
		deps.Ping = a.db.Ping
	}

	a.orchestrator = pipeline.New(pipeline.Config{
		Workers:    cfg.Pipeline.Workers,
		RunTimeout: cfg.Pipeline.RunTimeout,
		Kinds:      kinds,
	}, deps, logger)
	return a, nil
}

// enricher builds the Crossref/Unpaywall client, or returns nil when
// enrichment is disabled.
func (a *app) enricher(metrics *observability.Metrics) (enrichment.Enricher, error) {
	cfg := a.cfg
	if !cfg.Enrichment.Enabled {
		a.logger.Info().Msg("enrichment disabled, articles keep feed values")
		return nil, nil
	}

	var opts []enrichment.Option
	if metrics != nil {
		opts = append(opts, enrichment.WithRecorder(metrics))
	}
	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		opts = append(opts, enrichment.WithCache(enrichment.NewRedisCache(rdb, cfg.Cache.TTL, cfg.Cache.KeyPrefix)))
	}

	return enrichment.New(enrichment.Config{
		ContactEmail:      cfg.Enrichment.ContactEmail,
		AppName:           cfg.Enrichment.AppName,
		CrossrefBaseURL:   cfg.Enrichment.CrossrefBaseURL,
		CrossrefPlusToken: cfg.Enrichment.CrossrefPlusToken,
		UnpaywallBaseURL:  cfg.Enrichment.UnpaywallBaseURL,
		CallTimeout:       cfg.Enrichment.CallTimeout,
		RateLimit:         cfg.Enrichment.RateLimit,
		Retry: httpclient.RetryPolicy{
			MaxAttempts:       cfg.Enrichment.Retry.MaxAttempts,
			BaseDelay:         cfg.Enrichment.Retry.BaseDelay,
			BackoffMultiplier: cfg.Enrichment.Retry.BackoffMultiplier,
			MaxDelay:          cfg.Enrichment.Retry.MaxDelay,
		},
	}, a.logger, opts...), nil
}

// migrateUp applies pending migrations from the configured path, or the
// embedded files when none is set.
func migrateUp(db *database.DB, cfg *config.Config, logger zerolog.Logger) error {
	m, err := newMigrator(db, cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
