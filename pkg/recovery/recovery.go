// Package recovery replays ingestion gaps. A live collector session runs
// this loop next to its tail: starting from the last known cursor per
// channel it backfills bounded windows until every cursor reaches a target
// instant just behind now, pausing whenever the extraction queue is already
// deep.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/store"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/version"
)

// backlogPause is how long the loop waits before rechecking a deep queue.
// Variable so tests can shorten it.
var backlogPause = 30 * time.Second

// Backfiller walks one channel's history inside [since, until] and reports
// how many rows it wrote. The collector satisfies this.
type Backfiller interface {
	BackfillWindow(ctx context.Context, channel string, since, until time.Time) (int, error)
}

// Loop drives one catchup across a fixed channel set.
type Loop struct {
	cfg      config.CatchupConfig
	version  string
	channels []string
	bf       Backfiller
	store    *store.Store
	logger   *slog.Logger
}

func New(cfg *config.Config, channels []string, bf Backfiller, st *store.Store, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:      cfg.Catchup,
		version:  cfg.PipelineVersion,
		channels: channels,
		bf:       bf,
		store:    st,
		logger:   logger.With("component", "catchup"),
	}
}

// Run drains the gap and returns once every channel's cursor has reached the
// target. A channel whose windows keep failing is left behind for the next
// session rather than blocking the rest; only context cancellation is fatal.
func (l *Loop) Run(ctx context.Context) error {
	cp := l.restore(ctx)

	host, _ := os.Hostname()
	run := &models.IngestRun{
		Type:      models.RunCatchup,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
		Progress:  models.RunProgress{ChannelsTotal: len(l.channels)},
		Host:      host,
		Version:   version.Full(),
	}
	if err := l.store.Raw.CreateRun(ctx, run); err != nil {
		l.logger.Warn("run bookkeeping unavailable", "error", err)
	}
	l.logger.Info("catchup started",
		"run_id", run.RunID, "channels", len(l.channels), "target", cp.Target)

	err := l.drain(ctx, cp, run)

	status := models.RunOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = models.RunCancelled
	default:
		status = models.RunError
	}
	run.Finish(status, time.Now().UTC())
	if status == models.RunError {
		run.Error = pipeline.Truncate(err.Error())
	}
	// Shutdown cancels ctx before we get here; the final patch still matters.
	if ferr := l.store.Raw.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		l.logger.Warn("run finish not recorded", "run_id", run.RunID, "error", ferr)
	}
	l.logger.Info("catchup finished",
		"run_id", run.RunID,
		"status", status,
		"messages", run.Progress.MessagesNew,
		"errors", run.Progress.Errors)
	return err
}

// restore loads a fresh in-flight checkpoint or starts a new one, then makes
// sure every tracked channel has a cursor.
func (l *Loop) restore(ctx context.Context) *Checkpoint {
	now := time.Now().UTC()
	cp, err := loadCheckpoint(l.cfg.CheckpointPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cp = nil
	case err != nil:
		l.logger.Warn("checkpoint unreadable, starting over", "error", err)
		cp = nil
	case cp.Status != statusRunning:
		cp = nil
	case !cp.fresh(now):
		l.logger.Warn("checkpoint stale, starting over", "saved_at", cp.SavedAt)
		cp = nil
	}
	if cp == nil {
		cp = &Checkpoint{
			Cursors: make(map[string]time.Time),
			Target:  now.Add(-l.cfg.TargetLag),
			Status:  statusRunning,
		}
	}

	cursors := make(map[string]time.Time, len(l.channels))
	for _, ch := range l.channels {
		if at, ok := cp.Cursors[ch]; ok {
			cursors[ch] = at
			continue
		}
		cursors[ch] = l.seedCursor(ctx, ch, now)
	}
	cp.Cursors = cursors
	return cp
}

// seedCursor picks where a channel's replay begins: the newest stored row,
// or a fixed lookback when the channel has none.
func (l *Loop) seedCursor(ctx context.Context, channel string, now time.Time) time.Time {
	at, _, err := l.store.Raw.GetLatestCursor(ctx, channel)
	if err != nil {
		l.logger.Warn("cursor lookup failed, using lookback", "channel", channel, "error", err)
	}
	if at.IsZero() {
		return now.Add(-l.cfg.DefaultLookback)
	}
	return at
}

func (l *Loop) drain(ctx context.Context, cp *Checkpoint, run *models.IngestRun) error {
	chunk := time.Duration(l.cfg.ChunkHours) * time.Hour
	if chunk <= 0 {
		chunk = time.Hour
	}

	for _, ch := range l.channels {
		l.lag(ch, cp)
		if !cp.Cursors[ch].Before(cp.Target) {
			run.Progress.ChannelsDone++
		}
	}

	skipped := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var pending []string
		for _, ch := range l.channels {
			if !skipped[ch] && cp.Cursors[ch].Before(cp.Target) {
				pending = append(pending, ch)
			}
		}
		if len(pending) == 0 {
			break
		}

		if backlog, high := l.backlogHigh(ctx); high {
			l.logger.Info("queue backlog above watermark, catchup paused",
				"backlog", backlog, "watermark", l.cfg.QueueLowWatermark)
			if err := sleep(ctx, backlogPause); err != nil {
				return err
			}
			continue
		}

		for _, ch := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			cursor := cp.Cursors[ch]
			end := cursor.Add(chunk)
			if end.After(cp.Target) {
				end = cp.Target
			}
			since := cursor.Add(-l.cfg.Overlap)

			n, err := l.window(ctx, ch, since, end)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				metrics.CatchupWindows.WithLabelValues("error").Inc()
				l.logger.Error("window failed, channel left for the next session",
					"channel", ch, "since", since, "until", end, "error", err)
				run.Progress.Errors++
				skipped[ch] = true
				continue
			}

			metrics.CatchupWindows.WithLabelValues("ok").Inc()
			cp.Cursors[ch] = end
			run.Progress.MessagesNew += n
			if !end.Before(cp.Target) {
				run.Progress.ChannelsDone++
				l.logger.Info("channel caught up", "channel", ch, "cursor", end)
			}
			l.lag(ch, cp)
			if err := cp.save(l.cfg.CheckpointPath); err != nil {
				l.logger.Warn("checkpoint write failed", "path", l.cfg.CheckpointPath, "error", err)
			}
			l.flushProgress(ctx, run)
		}
	}

	if len(skipped) == 0 {
		cp.Status = statusOK
	} else {
		l.logger.Warn("catchup ending with channels behind", "skipped", len(skipped))
	}
	if err := cp.save(l.cfg.CheckpointPath); err != nil {
		l.logger.Warn("checkpoint write failed", "path", l.cfg.CheckpointPath, "error", err)
	}
	return nil
}

// window replays one bounded slice of history, retrying the whole window on
// failure. Windows are idempotent: rows upsert and enqueues dedupe, so a
// half-finished attempt costs nothing.
func (l *Loop) window(ctx context.Context, channel string, since, until time.Time) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.BackoffBase
	bo.MaxElapsedTime = 0

	var retries uint64
	if l.cfg.MaxAttempts > 1 {
		retries = uint64(l.cfg.MaxAttempts - 1)
	}

	var written int
	err := backoff.Retry(func() error {
		n, err := l.bf.BackfillWindow(ctx, channel, since, until)
		if err == nil {
			written = n
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		l.logger.Warn("window attempt failed", "channel", channel, "error", err)
		return err
	}, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), retries))
	return written, err
}

func (l *Loop) backlogHigh(ctx context.Context) (int, bool) {
	n, err := l.store.Queue.Backlog(ctx, l.version)
	if err != nil {
		// A queue we cannot count cannot throttle us either.
		l.logger.Debug("backlog check failed", "error", err)
		return 0, false
	}
	return n, n > l.cfg.QueueLowWatermark
}

func (l *Loop) lag(channel string, cp *Checkpoint) {
	lag := cp.Target.Sub(cp.Cursors[channel])
	if lag < 0 {
		lag = 0
	}
	metrics.CatchupLag.WithLabelValues(channel).Set(lag.Seconds())
}

func (l *Loop) flushProgress(ctx context.Context, run *models.IngestRun) {
	if run.RunID == "" {
		return
	}
	if err := l.store.Raw.UpsertProgress(ctx, run); err != nil {
		l.logger.Debug("progress flush failed", "run_id", run.RunID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
