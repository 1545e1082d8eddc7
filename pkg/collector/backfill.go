package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source"
)

// BackfillOptions bounds one historical walk.
type BackfillOptions struct {
	Channels []string
	Since    time.Time
	Until    time.Time
	// MaxMessages caps how many messages each channel contributes. Zero
	// means no cap.
	MaxMessages  int
	ForceEnqueue bool

	// via is stamped into ingested_via; empty means "backfill".
	via string
}

// Backfill connects to the source and walks every requested channel
// newest-first inside [Since, Until]. A failing channel is logged and
// counted, never fatal to the rest.
func (c *Collector) Backfill(ctx context.Context, opts BackfillOptions) error {
	if len(opts.Channels) == 0 {
		return errors.New("backfill needs at least one channel")
	}
	if opts.via == "" {
		opts.via = string(models.RunBackfill)
	}
	rs := c.startRun(ctx, models.RunBackfill, len(opts.Channels))
	err := c.src.Run(ctx, func(ctx context.Context) error {
		return c.backfillAll(ctx, rs, opts)
	})
	c.finishRun(ctx, rs, err)
	return err
}

func (c *Collector) backfillAll(ctx context.Context, rs *runState, opts BackfillOptions) error {
	for _, ref := range opts.Channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		meta, err := c.resolveChannel(ctx, ref)
		if err != nil {
			c.logger.Error("channel unavailable", "channel", ref, "error", err)
			rs.update(func(p *models.RunProgress) { p.Errors++ })
			continue
		}
		c.syncChannel(ctx, meta)

		written, err := c.backfillChannel(ctx, rs, meta, opts)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			c.logger.Error("channel backfill failed",
				"channel", ref, "written", written, "error", err)
			rs.update(func(p *models.RunProgress) { p.Errors++ })
			continue
		}
		c.logger.Info("channel backfilled", "channel", ref, "written", written)
		rs.update(func(p *models.RunProgress) { p.ChannelsDone++ })
		c.flushProgress(ctx, rs)
	}
	return nil
}

// BackfillWindow replays one channel window inside an already-connected
// session. The recovery loop calls it concurrently with tail, which shares
// the session, so it must not open one itself. Returns the rows written.
func (c *Collector) BackfillWindow(ctx context.Context, channel string, since, until time.Time) (int, error) {
	meta, err := c.resolveChannel(ctx, channel)
	if err != nil {
		return 0, err
	}
	c.syncChannel(ctx, meta)

	// Window bookkeeping lives in the recovery loop's own run row; an
	// unpersisted state still feeds the batch counters.
	rs := &runState{run: &models.IngestRun{Type: models.RunCatchup}}
	return c.backfillChannel(ctx, rs, meta, BackfillOptions{
		Since: since,
		Until: until,
		via:   string(models.RunCatchup),
	})
}

// backfillChannel walks one channel newest to oldest, buffering rows into
// batches and enqueueing each batch after its upsert lands.
func (c *Collector) backfillChannel(ctx context.Context, rs *runState, meta *models.ChannelMeta, opts BackfillOptions) (int, error) {
	var (
		batch   = make([]models.RawMessage, 0, c.cfg.BatchSize)
		offset  int64
		seen    int
		written int
		done    bool
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		attempted, ok, err := c.store.Raw.UpsertMessagesBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("upsert batch of %d: %w", attempted, err)
		}
		written += ok
		metrics.MessagesWritten.Add(float64(ok))
		c.hb.Count("messages", int64(ok))
		rs.update(func(p *models.RunProgress) { p.MessagesNew += ok })

		ids := make([]int64, len(batch))
		for i := range batch {
			ids[i] = batch[i].MessageID
		}
		n, err := c.store.Queue.Enqueue(ctx, c.version, meta.ChannelRef, ids, opts.ForceEnqueue)
		if err != nil {
			// Rows are durable; an enqueue-from-raw walk can cover the gap.
			c.logger.Warn("enqueue failed after batch",
				"channel", meta.ChannelRef, "ids", len(ids), "error", err)
			rs.update(func(p *models.RunProgress) { p.Errors++ })
		} else {
			metrics.JobsEnqueued.Add(float64(n))
			rs.update(func(p *models.RunProgress) { p.JobsEnqueued += n })
		}
		batch = batch[:0]
		c.beat("ok", "backfill_batch")
		return nil
	}

	for !done {
		var rows []models.RawMessage
		err := source.Retry(ctx, c.logger, c.policy, "history", func() error {
			var herr error
			rows, herr = c.src.History(ctx, meta, source.HistoryPage{
				OffsetID: offset,
				Until:    opts.Until,
				Limit:    c.cfg.BatchSize,
			})
			return herr
		})
		if err != nil {
			if ferr := flush(); ferr != nil {
				c.logger.Warn("flush after history failure",
					"channel", meta.ChannelRef, "error", ferr)
			}
			return written, fmt.Errorf("history at offset %d: %w", offset, err)
		}
		if len(rows) == 0 {
			break
		}

		now := time.Now().UTC()
		for i := range rows {
			row := rows[i]
			offset = row.MessageID
			if !opts.Until.IsZero() && row.MessageDate.After(opts.Until) {
				continue
			}
			if !opts.Since.IsZero() && row.MessageDate.Before(opts.Since) {
				done = true
				break
			}
			row.LastSeenAt = now
			row.Ingested = opts.via
			batch = append(batch, row)
			seen++
			rs.update(func(p *models.RunProgress) { p.MessagesSeen++ })

			if len(batch) >= c.cfg.BatchSize {
				if err := flush(); err != nil {
					return written, err
				}
			}
			if c.cfg.ProgressEvery > 0 && seen%c.cfg.ProgressEvery == 0 {
				c.flushProgress(ctx, rs)
			}
			if opts.MaxMessages > 0 && seen >= opts.MaxMessages {
				done = true
				break
			}
		}
	}

	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}
