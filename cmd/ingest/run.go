package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/research-feed-service/internal/pipeline"
	httpserver "github.com/helixir/research-feed-service/internal/server/http"
)

type runFlags struct {
	interval time.Duration
	dryRun   bool
	workers  int
	timeout  time.Duration
	kinds    []string
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an ingestion pass over every active source",
		Long: `Run fetches every active RSS source, normalizes and filters its entries,
enriches articles with Crossref and Unpaywall, and upserts the results.

With --interval the pass repeats on a ticker until the process is signalled,
and the health, status and metrics endpoints are served meanwhile.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, flags)
		},
	}
	cmd.Flags().DurationVar(&flags.interval, "interval", 0, "repeat the run on this interval (default: pipeline.interval, 0 runs once)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "write to an in-memory store instead of PostgreSQL")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "override pipeline.workers")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "override pipeline.run_timeout")
	cmd.Flags().StringSliceVar(&flags.kinds, "kinds", nil, "override pipeline.kinds (article, trial)")
	return cmd
}

func runIngest(cmd *cobra.Command, flags runFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("interval") {
		cfg.Pipeline.Interval = flags.interval
	}
	if flags.workers > 0 {
		cfg.Pipeline.Workers = flags.workers
	}
	if flags.timeout > 0 {
		cfg.Pipeline.RunTimeout = flags.timeout
	}
	if len(flags.kinds) > 0 {
		cfg.Pipeline.Kinds = flags.kinds
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg).With().Str("component", "ingest").Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := wire(ctx, cfg, logger, wireOptions{dryRun: flags.dryRun, pipeline: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to release resources")
		}
	}()

	if cfg.Pipeline.Interval <= 0 {
		stats, err := a.orchestrator.Run(ctx)
		if err != nil {
			return err
		}
		a.reportDryRun(stats)
		return nil
	}
	return a.daemon(ctx)
}

// daemon repeats the run on the configured interval and serves the health
// endpoints until ctx is cancelled. A run that cannot start is logged and
// retried on the next tick.
func (a *app) daemon(ctx context.Context) error {
	cfg := a.cfg
	runs := httpserver.NewRunTracker()

	srvCfg := httpserver.Config{
		Address:         cfg.Server.Address(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		StaleAfter:      3 * cfg.Pipeline.Interval,
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Metrics.Path
	}
	var health httpserver.HealthChecker
	if a.db != nil {
		health = a.db
	}
	srv := httpserver.NewServer(srvCfg, health, runs, a.logger)

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()
	defer func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			a.logger.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}()

	a.logger.Info().Dur("interval", cfg.Pipeline.Interval).Msg("ingestion daemon started")

	ticker := time.NewTicker(cfg.Pipeline.Interval)
	defer ticker.Stop()
	for {
		a.runOnce(ctx, runs)

		select {
		case <-ctx.Done():
			a.logger.Info().Msg("shutdown signal received, stopping daemon")
			return nil
		case err := <-srvErr:
			return fmt.Errorf("http server: %w", err)
		case <-ticker.C:
		}
	}
}

func (a *app) runOnce(ctx context.Context, runs *httpserver.RunTracker) {
	stats, err := a.orchestrator.Run(ctx)
	runs.Record(stats, err)
	if err != nil {
		a.logger.Error().Err(err).Msg("ingestion run could not start")
		return
	}
	a.reportDryRun(stats)
}

// reportDryRun logs what a dry run would have stored.
func (a *app) reportDryRun(stats *pipeline.RunStats) {
	if a.dryRunStore == nil || stats == nil {
		return
	}
	articles := a.dryRunStore.Articles()
	trials := a.dryRunStore.Trials()
	a.logger.Info().
		Str("run_id", stats.RunID).
		Int("articles", len(articles)).
		Int("trials", len(trials)).
		Int("change_records", len(a.dryRunStore.ChangeRecords())).
		Msg("dry run store contents")
	for _, art := range articles {
		a.logger.Debug().Str("id", art.ID.String()).Str("doi", art.DOI).Str("title", art.Title).Msg("dry run article")
	}
	for _, tr := range trials {
		a.logger.Debug().Str("id", tr.ID.String()).Str("title", tr.Title).Msg("dry run trial")
	}
}
