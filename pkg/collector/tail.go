package collector

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source"
)

// Tail follows live events for the given channels until ctx ends.
func (c *Collector) Tail(ctx context.Context, channels []string) error {
	return c.tailWith(ctx, channels, nil)
}

// Live follows live events while catchup replays any gap since the last
// cursor. catchup runs inside the same source session; tail keeps going
// after catchup completes, and either one failing stops both.
func (c *Collector) Live(ctx context.Context, channels []string, catchup func(context.Context) error) error {
	return c.tailWith(ctx, channels, catchup)
}

func (c *Collector) tailWith(ctx context.Context, channels []string, catchup func(context.Context) error) error {
	if len(channels) == 0 {
		return errors.New("tail needs at least one channel")
	}
	rs := c.startRun(ctx, models.RunTail, len(channels))

	// Register before the connection exists: handlers drop events for
	// channels that are not resolved yet, so early updates are only noise.
	c.src.Subscribe(source.Events{
		OnMessage: func(ctx context.Context, row *models.RawMessage) { c.handleMessage(ctx, rs, row) },
		OnDelete: func(ctx context.Context, channelID int64, ids []int64) {
			c.handleDelete(ctx, rs, channelID, ids)
		},
	})

	err := c.src.Run(ctx, func(ctx context.Context) error {
		for _, ref := range channels {
			meta, rerr := c.resolveChannel(ctx, ref)
			if rerr != nil {
				c.logger.Error("channel unavailable", "channel", ref, "error", rerr)
				rs.update(func(p *models.RunProgress) { p.Errors++ })
				continue
			}
			c.syncChannel(ctx, meta)
			rs.update(func(p *models.RunProgress) { p.ChannelsDone++ })
		}
		c.logger.Info("tailing", "channels", len(channels))
		c.beat("ok", "tail_started")

		if catchup == nil {
			return c.idle(ctx, rs)
		}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return c.idle(gctx, rs) })
		g.Go(func() error { return catchup(gctx) })
		return g.Wait()
	})
	c.finishRun(ctx, rs, err)
	return err
}

// idle keeps the heartbeat fresh and progress flushed while events arrive on
// the dispatcher goroutine. Only ctx ends it.
func (c *Collector) idle(ctx context.Context, rs *runState) error {
	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.beat("ok", "idle")
			c.flushProgress(ctx, rs)
		}
	}
}

// handleMessage writes one live row and enqueues its extraction. Edits
// enqueue with force so a finished job reruns against the new text.
func (c *Collector) handleMessage(ctx context.Context, rs *runState, row *models.RawMessage) {
	event := "message"
	edit := row.EditDate != nil
	if edit {
		event = "edit"
	}
	row.LastSeenAt = time.Now().UTC()
	row.Ingested = string(models.RunTail)

	if _, _, err := c.store.Raw.UpsertMessagesBatch(ctx, []models.RawMessage{*row}); err != nil {
		c.eventFailed(rs, event, "write failed", row.ChannelRef, row.MessageID, err)
		return
	}
	if _, err := c.store.Queue.Enqueue(ctx, c.version, row.ChannelRef, []int64{row.MessageID}, edit); err != nil {
		c.eventFailed(rs, event, "enqueue failed", row.ChannelRef, row.MessageID, err)
		return
	}

	metrics.CollectorEvents.WithLabelValues(event, "ok").Inc()
	metrics.MessagesWritten.Inc()
	metrics.JobsEnqueued.Inc()
	rs.update(func(p *models.RunProgress) {
		p.MessagesSeen++
		if edit {
			p.MessagesEdit++
		} else {
			p.MessagesNew++
		}
		p.JobsEnqueued++
	})
	c.hb.Count("messages", 1)
	c.beat("ok", event)
}

// handleDelete tombstones deleted messages. Channels we never resolved are
// not ours to track.
func (c *Collector) handleDelete(ctx context.Context, rs *runState, channelID int64, ids []int64) {
	ref, ok := c.refByID.Load(channelID)
	if !ok {
		return
	}
	n, err := c.store.Raw.MarkDeleted(ctx, ref, ids)
	if err != nil {
		c.eventFailed(rs, "delete", "tombstone failed", ref, 0, err)
		return
	}
	metrics.CollectorEvents.WithLabelValues("delete", "ok").Inc()
	c.logger.Info("messages tombstoned", "channel", ref, "count", n)
	c.hb.Count("deletes", int64(len(ids)))
	c.beat("ok", "delete")
}

func (c *Collector) eventFailed(rs *runState, event, what, channel string, messageID int64, err error) {
	metrics.CollectorEvents.WithLabelValues(event, "error").Inc()
	c.logger.Warn("tail event "+what,
		"event", event, "channel", channel, "message_id", messageID, "error", err)
	rs.update(func(p *models.RunProgress) { p.Errors++ })
	c.hb.Count("errors", 1)
	c.beat("ok", event+"_error")
}
