package source

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
)

// RetryPolicy bounds the retry loop around source calls.
type RetryPolicy struct {
	Attempts int           // tries consumed by transient failures
	Base     time.Duration // first transient backoff, doubled each retry
	WaitCap  time.Duration // ceiling on any single pause
}

// Retry runs op until it succeeds, fails permanently, or the transient
// attempts are used up. Server-dictated waits are honored with jitter and
// do not consume attempts; stopping an abusive wait loop is the caller's
// context's job. Transient failures follow an exponential schedule. WaitCap
// bounds every pause of either kind.
func Retry(ctx context.Context, logger *slog.Logger, p RetryPolicy, name string, op func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if p.Base > 0 {
		bo.InitialInterval = p.Base
	}
	if p.WaitCap > 0 {
		bo.MaxInterval = p.WaitCap
	}
	bo.MaxElapsedTime = 0

	var err error
	for tried := 0; ; {
		err = op()
		if err == nil {
			return nil
		}

		if w, ok := AsWait(err); ok {
			pause := w.Duration + jitter(w.Duration)
			if p.WaitCap > 0 && pause > p.WaitCap {
				pause = p.WaitCap
			}
			metrics.SourceWaits.WithLabelValues(w.Kind).Inc()
			logger.Warn("source requested wait",
				"op", name, "kind", w.Kind, "wait", pause)
			if sleep(ctx, pause) != nil {
				return err
			}
			continue
		}

		if !IsTransient(err) {
			return err
		}
		tried++
		if tried >= attempts {
			return err
		}
		pause := bo.NextBackOff()
		if p.WaitCap > 0 && pause > p.WaitCap {
			pause = p.WaitCap
		}
		logger.Warn("source call failed, retrying",
			"op", name, "attempt", tried, "wait", pause, "error", err)
		if sleep(ctx, pause) != nil {
			return err
		}
	}
}

// jitter pads a server wait by up to 10% (at least up to half a second) so
// callers that were limited together do not resume together.
func jitter(d time.Duration) time.Duration {
	span := d / 10
	if span < 500*time.Millisecond {
		span = 500 * time.Millisecond
	}
	return time.Duration(rand.Int63n(int64(span)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
