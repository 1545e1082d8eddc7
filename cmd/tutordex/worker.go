package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/collector"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/enrich"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/fanout"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/geocode"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/llm"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/ops"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/persist"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/store"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/worker"
)

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "claim queued extractions and run them through the pipeline",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "oneshot",
				Usage: "drain the queue once, then exit",
			},
			&cli.IntFlag{
				Name:  "max-jobs",
				Usage: "stop after `N` jobs, 0 means unlimited",
			},
		},
		Action: runWorker,
	}
}

func runWorker(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if c.Bool("oneshot") {
		cfg.Worker.Oneshot = true
	}
	if c.IsSet("max-jobs") {
		cfg.Worker.MaxJobs = c.Int("max-jobs")
	}

	tax, err := loadTaxonomy(cfg, logger)
	if err != nil {
		return err
	}
	st := store.New(cfg.Store, logger)
	if !st.Enabled() {
		return cli.Exit("worker requires the store: set SUPABASE_URL and SUPABASE_SERVICE_KEY", 2)
	}

	pool, extractor, err := buildPool(cfg, tax, st, logger)
	if err != nil {
		return err
	}

	srv := ops.New(cfg.Ops, st, "worker", cfg.PipelineVersion, logger)
	srv.OnStatus(func(context.Context) map[string]any {
		return map[string]any{
			"breaker":   extractor.BreakerStats().State,
			"jobs_done": pool.JobsDone(),
		}
	})

	ctx, stop := signalContext(c.Context)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		// In oneshot mode the pool returns once drained; take the ops
		// server down with it.
		defer stop()
		return pool.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildPool assembles the extraction stages around a shared store. The LLM
// client is returned separately so status endpoints can report breaker state.
func buildPool(cfg *config.Config, tax *config.Taxonomy, st *store.Store, logger *slog.Logger) (*worker.Pool, *llm.Client, error) {
	extractor := llm.NewClient(cfg.LLM, llm.NewBreaker(cfg.Breaker))
	var geo enrich.Geocoder
	if cfg.Enrich.GeocodeAPIURL != "" {
		geo = geocode.NewClient(cfg.Enrich.GeocodeAPIURL, logger)
	}
	stages := worker.Stages{
		Extractor: extractor,
		Enricher:  enrich.NewEnricher(cfg.Enrich, tax, geo, logger),
		Sink:      persist.New(st, tax, logger),
		Notifier:  fanout.New(cfg.Fanout, st, logger),
		Taxonomy:  tax,
	}
	pool, err := worker.NewPool(cfg, st, stages, logger)
	if err != nil {
		return nil, nil, err
	}
	return pool, extractor, nil
}

func reprocessCommand() *cli.Command {
	return &cli.Command{
		Name:  "reprocess-recent",
		Usage: "re-extract recently ingested messages without renotifying",
		Flags: []cli.Flag{
			channelsFlag,
			&cli.IntFlag{
				Name:  "days",
				Usage: "window size in days",
			},
			&cli.IntFlag{
				Name:  "hours",
				Usage: "window size in hours, added to --days",
			},
		},
		Action: runReprocess,
	}
}

// runReprocess force-enqueues every raw message in the window, then drains
// the queue with an in-process oneshot pool that has delivery disabled. Jobs
// a concurrently running live worker claims first keep that worker's
// delivery settings.
func runReprocess(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if err := cfg.ValidateWorker(); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	channels, err := channelArgs(c)
	if err != nil {
		return err
	}

	window := time.Duration(c.Int("days"))*24*time.Hour + time.Duration(c.Int("hours"))*time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}

	tax, err := loadTaxonomy(cfg, logger)
	if err != nil {
		return err
	}
	st := store.New(cfg.Store, logger)
	if !st.Enabled() {
		return cli.Exit("reprocess requires the store: set SUPABASE_URL and SUPABASE_SERVICE_KEY", 2)
	}

	// A reprocess rewrites stored rows and never renotifies. The inline
	// drain also skips service heartbeats and the MaxJobs cap.
	cfg.Fanout.EnableBroadcast = false
	cfg.Fanout.EnableDMs = false
	cfg.Worker.Oneshot = true
	cfg.Worker.MaxJobs = 0
	cfg.Worker.HeartbeatDir = ""
	pool, _, err := buildPool(cfg, tax, st, logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context)
	defer stop()
	now := time.Now().UTC()
	col := collector.New(cfg, tax, nil, st, nil, logger)
	n, err := col.EnqueueFromRaw(ctx, collector.EnqueueOptions{
		Channels: channels,
		Since:    now.Add(-window),
		Until:    now,
		Force:    true,
	})
	if err != nil {
		return err
	}
	logger.Info("Reprocess window enqueued", "window", window.String(), "jobs", n)

	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Reprocess complete", "jobs_done", pool.JobsDone())
	return nil
}
