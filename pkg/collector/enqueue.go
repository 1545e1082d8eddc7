package collector

import (
	"context"
	"errors"
	"time"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// EnqueueOptions bounds the enqueue-from-raw walk.
type EnqueueOptions struct {
	Channels []string
	Since    time.Time
	Until    time.Time
	Force    bool
}

const enqueuePageSize = 500

// EnqueueFromRaw schedules extractions for raw rows already in the store,
// without touching the source. Recovery tooling uses it to refill the queue
// after an outage on the worker side, and a version change plus Force
// reprocesses a window under the new pipeline version.
func (c *Collector) EnqueueFromRaw(ctx context.Context, opts EnqueueOptions) (int, error) {
	if len(opts.Channels) == 0 {
		return 0, errors.New("enqueue needs at least one channel")
	}
	rs := c.startRun(ctx, models.RunEnqueue, len(opts.Channels))

	total := 0
	var failure error
	for _, ref := range opts.Channels {
		if err := ctx.Err(); err != nil {
			failure = err
			break
		}
		n, err := c.enqueueChannel(ctx, rs, ref, opts)
		total += n
		if err != nil {
			c.logger.Error("enqueue walk failed", "channel", ref, "error", err)
			rs.update(func(p *models.RunProgress) { p.Errors++ })
			failure = err
			continue
		}
		rs.update(func(p *models.RunProgress) { p.ChannelsDone++ })
		c.flushProgress(ctx, rs)
	}
	c.finishRun(ctx, rs, failure)
	return total, failure
}

func (c *Collector) enqueueChannel(ctx context.Context, rs *runState, ref string, opts EnqueueOptions) (int, error) {
	total := 0
	offset := 0
	for {
		rows, err := c.store.Raw.ListMessages(ctx, ref, opts.Since, opts.Until, enqueuePageSize, offset)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			break
		}

		ids := make([]int64, len(rows))
		for i := range rows {
			ids[i] = rows[i].MessageID
		}
		n, err := c.store.Queue.Enqueue(ctx, c.version, ref, ids, opts.Force)
		if err != nil {
			return total, err
		}
		total += n
		metrics.JobsEnqueued.Add(float64(n))
		rs.update(func(p *models.RunProgress) {
			p.MessagesSeen += len(rows)
			p.JobsEnqueued += n
		})

		if len(rows) < enqueuePageSize {
			break
		}
		offset += len(rows)
	}
	c.logger.Info("channel enqueued", "channel", ref, "jobs", total)
	return total, nil
}
