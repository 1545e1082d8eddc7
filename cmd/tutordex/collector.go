package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/collector"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/heartbeat"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/ops"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/recovery"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source/telegram"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/store"
)

var (
	channelsFlag = &cli.StringSliceFlag{
		Name:    "channels",
		Usage:   "channel `REFS` (@name or numeric id), comma separated",
		EnvVars: []string{"TELEGRAM_CHANNELS"},
	}
	sinceFlag = &cli.StringFlag{
		Name:  "since",
		Usage: "window start, RFC3339 or YYYY-MM-DD",
	}
	untilFlag = &cli.StringFlag{
		Name:  "until",
		Usage: "window end, RFC3339 or YYYY-MM-DD",
	}
)

func collectorCommand() *cli.Command {
	return &cli.Command{
		Name:  "collector",
		Usage: "ingest Telegram channels into the raw store",
		Subcommands: []*cli.Command{
			{
				Name:  "backfill",
				Usage: "walk channel history inside a window and store every message",
				Flags: []cli.Flag{
					channelsFlag,
					sinceFlag,
					untilFlag,
					&cli.IntFlag{
						Name:  "max-messages",
						Usage: "per-channel message cap, 0 means no cap",
					},
					&cli.BoolFlag{
						Name:  "force-enqueue",
						Usage: "enqueue extraction jobs even for unchanged rows",
					},
				},
				Action: runBackfill,
			},
			{
				Name:   "tail",
				Usage:  "follow live channel updates",
				Flags:  []cli.Flag{channelsFlag},
				Action: runTail,
			},
			{
				Name:   "live",
				Usage:  "tail with the catchup recovery loop and the ops endpoints",
				Flags:  []cli.Flag{channelsFlag},
				Action: runLive,
			},
			{
				Name:  "enqueue",
				Usage: "enqueue extraction jobs from already stored raw messages",
				Flags: []cli.Flag{
					channelsFlag,
					sinceFlag,
					untilFlag,
					&cli.BoolFlag{
						Name:  "force",
						Usage: "enqueue even when an up-to-date job already exists",
					},
				},
				Action: runEnqueue,
			},
			{
				Name:  "status",
				Usage: "show recent ingest runs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run-id",
						Usage: "show a single run",
					},
					&cli.StringFlag{
						Name:  "run-type",
						Usage: "filter by type (backfill, tail, recovery_catchup, enqueue)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum runs to list",
						Value: 10,
					},
				},
				Action: runStatus,
			},
		},
	}
}

// buildCollector wires the collector and its store. withSource controls
// whether a Telegram client is attached; the store-only enqueue command
// skips the source and its credential requirements.
func buildCollector(cfg *config.Config, logger *slog.Logger, withSource bool) (*collector.Collector, *store.Store, error) {
	tax, err := loadTaxonomy(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(cfg.Store, logger)

	var src source.Client
	if withSource {
		if err := cfg.ValidateSource(); err != nil {
			return nil, nil, cli.Exit(err.Error(), 2)
		}
		src = telegram.New(cfg.Collector, logger)
	}

	var hb *heartbeat.Writer
	if cfg.Collector.HeartbeatDir != "" {
		hb, err = heartbeat.NewWriter(cfg.Collector.HeartbeatDir, "collector", cfg.PipelineVersion)
		if err != nil {
			logger.Warn("heartbeat writer unavailable",
				"dir", cfg.Collector.HeartbeatDir, "error", err)
		}
	}

	return collector.New(cfg, tax, src, st, hb, logger), st, nil
}

func channelArgs(c *cli.Context) ([]string, error) {
	channels := c.StringSlice("channels")
	if len(channels) == 0 {
		return nil, cli.Exit("no channels: pass --channels or set TELEGRAM_CHANNELS", 2)
	}
	return channels, nil
}

func runBackfill(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	channels, err := channelArgs(c)
	if err != nil {
		return err
	}
	since, err := parseTimeFlag(c, "since")
	if err != nil {
		return err
	}
	until, err := parseTimeFlag(c, "until")
	if err != nil {
		return err
	}

	col, _, err := buildCollector(cfg, logger, true)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context)
	defer stop()
	return col.Backfill(ctx, collector.BackfillOptions{
		Channels:     channels,
		Since:        since,
		Until:        until,
		MaxMessages:  c.Int("max-messages"),
		ForceEnqueue: c.Bool("force-enqueue"),
	})
}

func runTail(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	channels, err := channelArgs(c)
	if err != nil {
		return err
	}
	col, _, err := buildCollector(cfg, logger, true)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context)
	defer stop()
	if err := col.Tail(ctx, channels); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runLive(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	channels, err := channelArgs(c)
	if err != nil {
		return err
	}
	col, st, err := buildCollector(cfg, logger, true)
	if err != nil {
		return err
	}
	rec := recovery.New(cfg, channels, col, st, logger)

	srv := ops.New(cfg.Ops, st, "collector", cfg.PipelineVersion, logger)
	srv.OnStatus(func(context.Context) map[string]any {
		return map[string]any{"mode": "live", "channels": len(channels)}
	})

	ctx, stop := signalContext(c.Context)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		// Stop the ops server when the source loop ends, whatever the cause.
		defer stop()
		return col.Live(gctx, channels, rec.Run)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runEnqueue(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	channels, err := channelArgs(c)
	if err != nil {
		return err
	}
	since, err := parseTimeFlag(c, "since")
	if err != nil {
		return err
	}
	until, err := parseTimeFlag(c, "until")
	if err != nil {
		return err
	}

	col, st, err := buildCollector(cfg, logger, false)
	if err != nil {
		return err
	}
	if !st.Enabled() {
		return cli.Exit("enqueue requires the store: set SUPABASE_URL and SUPABASE_SERVICE_KEY", 2)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()
	n, err := col.EnqueueFromRaw(ctx, collector.EnqueueOptions{
		Channels: channels,
		Since:    since,
		Until:    until,
		Force:    c.Bool("force"),
	})
	if err != nil {
		return err
	}
	logger.Info("Enqueue complete", "channels", len(channels), "jobs", n)
	return nil
}

func runStatus(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	st := store.New(cfg.Store, logger)
	if !st.Enabled() {
		return cli.Exit("status requires the store: set SUPABASE_URL and SUPABASE_SERVICE_KEY", 2)
	}

	ctx, stop := signalContext(c.Context)
	defer stop()
	runs, err := st.Raw.GetRuns(ctx, c.String("run-id"), models.RunType(c.String("run-type")), c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no ingest runs recorded")
		return nil
	}

	for _, run := range runs {
		finished := "-"
		if run.FinishedAt != nil {
			finished = run.FinishedAt.UTC().Format(time.RFC3339)
		}
		fmt.Printf("%s  %-16s %-9s started=%s finished=%s\n",
			run.RunID, run.Type, run.Status,
			run.StartedAt.UTC().Format(time.RFC3339), finished)
		p := run.Progress
		fmt.Printf("    channels=%d/%d seen=%d new=%d edited=%d enqueued=%d errors=%d\n",
			p.ChannelsDone, p.ChannelsTotal, p.MessagesSeen, p.MessagesNew,
			p.MessagesEdit, p.JobsEnqueued, p.Errors)
		if run.Error != "" {
			fmt.Printf("    error=%s\n", run.Error)
		}
	}
	return nil
}
