// Package collector drives ingestion from the message source into the raw
// store and the extraction queue. Backfill walks history newest-first inside
// a window, tail follows live events, live runs tail alongside the recovery
// catchup loop, and enqueue-from-raw schedules extractions for rows already
// stored.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/heartbeat"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/store"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/version"
)

// idleTick paces heartbeats and progress flushes while tail waits for events.
const idleTick = 30 * time.Second

// Collector owns one source session and the ingest bookkeeping around it.
type Collector struct {
	cfg     config.CollectorConfig
	version string
	src     source.Client
	store   *store.Store
	hb      *heartbeat.Writer
	tax     *config.Taxonomy
	logger  *slog.Logger
	policy  source.RetryPolicy

	// titles remembers the last title written per channel so renames are the
	// only thing that re-upserts the channel row.
	titles *xsync.MapOf[string, string]
	// refByID maps numeric channel ids back to refs for delete events.
	refByID *xsync.MapOf[int64, string]
}

// New wires a collector. The taxonomy is required; a nil heartbeat writer
// discards beats, and the store may be running disabled (writes then land in
// its fallback file).
func New(cfg *config.Config, tax *config.Taxonomy, src source.Client, st *store.Store, hb *heartbeat.Writer, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:     cfg.Collector,
		version: cfg.PipelineVersion,
		src:     src,
		store:   st,
		hb:      hb,
		tax:     tax,
		logger:  logger.With("component", "collector"),
		policy: source.RetryPolicy{
			Attempts: cfg.Collector.RetryAttempts,
			Base:     cfg.Collector.RetryBase,
			WaitCap:  cfg.Collector.FloodWaitCap,
		},
		titles:  xsync.NewMapOf[string, string](),
		refByID: xsync.NewMapOf[int64, string](),
	}
}

// runState guards the run row's counters: tail handlers and the progress
// flusher touch them from different goroutines.
type runState struct {
	mu  sync.Mutex
	run *models.IngestRun
}

func (r *runState) update(f func(p *models.RunProgress)) {
	r.mu.Lock()
	f(&r.run.Progress)
	r.mu.Unlock()
}

func (r *runState) snapshot() models.IngestRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.run
}

func (c *Collector) startRun(ctx context.Context, t models.RunType, channels int) *runState {
	host, _ := os.Hostname()
	run := &models.IngestRun{
		Type:      t,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
		Progress:  models.RunProgress{ChannelsTotal: channels},
		Host:      host,
		Version:   version.Full(),
	}
	if err := c.store.Raw.CreateRun(ctx, run); err != nil {
		c.logger.Warn("run bookkeeping unavailable", "run_type", t, "error", err)
	}
	c.logger.Info("run started", "run_type", t, "run_id", run.RunID, "channels", channels)
	return &runState{run: run}
}

func (c *Collector) finishRun(ctx context.Context, rs *runState, runErr error) {
	status := models.RunOK
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = models.RunCancelled
	default:
		status = models.RunError
	}

	rs.mu.Lock()
	rs.run.Finish(status, time.Now().UTC())
	if status == models.RunError {
		rs.run.Error = pipeline.Truncate(runErr.Error())
	}
	run := *rs.run
	rs.mu.Unlock()

	// Shutdown cancels ctx before we get here; the final patch still matters.
	if err := c.store.Raw.FinishRun(context.WithoutCancel(ctx), &run); err != nil {
		c.logger.Warn("run finish not recorded", "run_id", run.RunID, "error", err)
	}
	c.logger.Info("run finished",
		"run_id", run.RunID,
		"run_type", run.Type,
		"status", status,
		"messages_seen", run.Progress.MessagesSeen,
		"jobs_enqueued", run.Progress.JobsEnqueued,
		"errors", run.Progress.Errors)
}

func (c *Collector) flushProgress(ctx context.Context, rs *runState) {
	run := rs.snapshot()
	if run.RunID == "" {
		return
	}
	if err := c.store.Raw.UpsertProgress(ctx, &run); err != nil {
		c.logger.Debug("progress flush failed", "run_id", run.RunID, "error", err)
	}
}

// resolveChannel resolves a ref with retries and indexes it for delete
// events.
func (c *Collector) resolveChannel(ctx context.Context, ref string) (*models.ChannelMeta, error) {
	var meta *models.ChannelMeta
	err := source.Retry(ctx, c.logger, c.policy, "resolve", func() error {
		var rerr error
		meta, rerr = c.src.Resolve(ctx, ref)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	c.refByID.Store(meta.ChannelID, meta.ChannelRef)
	return meta, nil
}

// syncChannel upserts the channel row, skipping the write when the title has
// not changed since the last one.
func (c *Collector) syncChannel(ctx context.Context, meta *models.ChannelMeta) {
	if last, ok := c.titles.Load(meta.ChannelRef); ok && last == meta.Title {
		return
	}
	row := *meta
	row.Agency = c.tax.AgencyFor(meta.ChannelRef)
	if err := c.store.Raw.UpsertChannel(ctx, &row); err != nil {
		c.logger.Warn("channel upsert failed", "channel", meta.ChannelRef, "error", err)
		return
	}
	c.titles.Store(meta.ChannelRef, meta.Title)
}

func (c *Collector) beat(status, event string) {
	if err := c.hb.Beat(status, event); err != nil {
		c.logger.Debug("heartbeat write failed", "error", err)
	}
}
