// Package worker drains the extraction queue. A pool of workers claims
// pending jobs, walks each raw message through the guard, the cheap
// classifiers, LLM extraction, deterministic enrichment and validation,
// persists the canonical assignment and fans newly inserted records out to
// the delivery collaborators. A sweeper goroutine returns stale claims to
// pending and keeps the queue gauges fresh.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/enrich"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/fanout"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/heartbeat"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/llm"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/persist"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/store"
)

// Extractor is the LLM surface the pipeline drives.
type Extractor interface {
	Extract(ctx context.Context, text, channelHint, correlationID string) (map[string]any, llm.Usage, error)
	ConfirmCompilation(ctx context.Context, text, correlationID string) ([]string, error)
	Model() string
	BreakerStats() llm.BreakerStats
}

// Enricher applies the deterministic passes after LLM extraction.
type Enricher interface {
	Enrich(ctx context.Context, a *models.Assignment, rawText, normText string) *enrich.Meta
}

// Sink is the persister surface: the only component that distinguishes
// retriable from terminal persistence outcomes.
type Sink interface {
	Persist(ctx context.Context, payload *models.AssignmentPayload) (*persist.Result, error)
	Bump(ctx context.Context, agency, externalID string, seenAt time.Time) (*persist.Result, error)
	MarkClosed(ctx context.Context, payload *models.AssignmentPayload) (*persist.Result, error)
}

// Notifier delivers freshly inserted assignments to the broadcast and DM
// collaborators.
type Notifier interface {
	Broadcast(ctx context.Context, payload *models.AssignmentPayload, agency, externalID string) (*fanout.Delivery, error)
	DM(ctx context.Context, payload *models.AssignmentPayload) (*fanout.Delivery, error)
}

// Reporter receives triage copies of messages a human should look at.
type Reporter interface {
	Report(ctx context.Context, rep fanout.Report)
}

// Stages bundles the pipeline collaborators injected into the pool.
// Taxonomy and Triage are optional; NewPool fills them from config.
type Stages struct {
	Extractor Extractor
	Enricher  Enricher
	Sink      Sink
	Notifier  Notifier
	Triage    Reporter
	Taxonomy  *config.Taxonomy
}

// sweepEvery paces the stale sweep and the gauge refresh.
const sweepEvery = 15 * time.Second

// Pool runs cfg.Worker.WorkerCount claim loops plus the sweeper.
type Pool struct {
	cfg    *config.Config
	queue  *store.QueueStore
	raw    *store.RawStore
	stages Stages
	logger *slog.Logger
	codeRe *regexp.Regexp
	hb     *heartbeat.Writer
	base   string

	jobsDone atomic.Int64
}

// NewPool wires a worker pool against the shared store. The identifier
// grammar in cfg.Compilation.CodePattern must compile; everything else has a
// usable default.
func NewPool(cfg *config.Config, st *store.Store, stages Stages, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	codeRe, err := regexp.Compile(cfg.Compilation.CodePattern)
	if err != nil {
		return nil, fmt.Errorf("compiling code pattern %q: %w", cfg.Compilation.CodePattern, err)
	}
	if stages.Taxonomy == nil {
		stages.Taxonomy = config.BuiltinTaxonomy()
	}
	if stages.Triage == nil {
		stages.Triage = fanout.NewTriage(cfg.Worker.TriageWebhookURL, 10*time.Second, logger)
	}

	var hb *heartbeat.Writer
	if cfg.Worker.HeartbeatDir != "" {
		hb, err = heartbeat.NewWriter(cfg.Worker.HeartbeatDir, "worker", cfg.PipelineVersion)
		if err != nil {
			logger.Warn("heartbeat writer unavailable", "dir", cfg.Worker.HeartbeatDir, "error", err)
		}
	}

	base, _ := os.Hostname()
	if base == "" {
		base = "worker"
	}
	return &Pool{
		cfg:    cfg,
		queue:  st.Queue,
		raw:    st.Raw,
		stages: stages,
		logger: logger.With("component", "worker"),
		codeRe: codeRe,
		hb:     hb,
		base:   base,
	}, nil
}

// JobsDone reports the total jobs processed since the pool started.
func (p *Pool) JobsDone() int64 { return p.jobsDone.Load() }

// Run blocks until ctx is cancelled or, in oneshot mode, until every worker
// has drained the queue. MaxJobs > 0 bounds the total processed count across
// the pool.
func (p *Pool) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	count := p.cfg.Worker.WorkerCount
	if count <= 0 {
		count = 1
	}
	p.logger.Info("worker pool starting",
		"workers", count,
		"pipeline_version", p.cfg.PipelineVersion,
		"oneshot", p.cfg.Worker.Oneshot)

	var sweepWG sync.WaitGroup
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		p.sweep(runCtx)
	}()

	var workerWG sync.WaitGroup
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s-%d", p.base, i)
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			p.runWorker(runCtx, id)
		}()
	}
	workerWG.Wait()
	cancel()
	sweepWG.Wait()

	if err := p.hb.Beat("stopped", "shutdown"); err != nil {
		p.logger.Warn("final heartbeat write failed", "error", err)
	}
	p.logger.Info("worker pool stopped", "jobs_processed", p.jobsDone.Load())
	return nil
}

// runWorker is one claim loop: claim a batch, process it under a heartbeat,
// sleep when idle.
func (p *Pool) runWorker(ctx context.Context, id string) {
	log := p.logger.With("worker_id", id)
	log.Info("worker started")

	for {
		if ctx.Err() != nil {
			return
		}
		if p.maxed() {
			log.Info("max jobs reached")
			return
		}

		jobs, err := p.queue.Claim(ctx, p.cfg.PipelineVersion, p.claimLimit(), id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("claim failed", "error", err)
			p.pause(ctx, time.Second)
			continue
		}
		if len(jobs) == 0 {
			if p.cfg.Worker.Oneshot {
				log.Info("queue drained")
				return
			}
			p.pause(ctx, p.idleSleep())
			continue
		}

		hbCtx, stopHB := context.WithCancel(ctx)
		go p.heartbeatJobs(hbCtx, jobIDs(jobs), log)
		for i := range jobs {
			if ctx.Err() != nil {
				break
			}
			p.processJob(ctx, &jobs[i], id)
			p.jobsDone.Add(1)
			if p.hb != nil {
				p.hb.Count("jobs_processed", 1)
			}
			if p.maxed() {
				break
			}
		}
		stopHB()
	}
}

// claimLimit caps the batch so a bounded run never claims jobs it will not
// process.
func (p *Pool) claimLimit() int {
	limit := p.cfg.Worker.ClaimBatchSize
	if limit <= 0 {
		limit = 10
	}
	if bound := p.cfg.Worker.MaxJobs; bound > 0 {
		if left := bound - int(p.jobsDone.Load()); left < limit {
			limit = left
		}
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (p *Pool) maxed() bool {
	bound := p.cfg.Worker.MaxJobs
	return bound > 0 && p.jobsDone.Load() >= int64(bound)
}

// idleSleep returns the idle pause with jitter so workers do not claim in
// lockstep.
func (p *Pool) idleSleep() time.Duration {
	d := p.cfg.Worker.IdleSleep
	if d <= 0 {
		d = 5 * time.Second
	}
	jit := d / 10
	if jit > 0 {
		d = d - jit + time.Duration(rand.Int63n(int64(2*jit)))
	}
	return d
}

func (p *Pool) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// heartbeatJobs refreshes heartbeat_at on the claimed batch so the sweeper
// leaves long LLM calls alone. It stops when the batch is done.
func (p *Pool) heartbeatJobs(ctx context.Context, ids []int64, log *slog.Logger) {
	every := p.staleThreshold() / 3
	if every < 5*time.Second {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(ctx, ids); err != nil && ctx.Err() == nil {
				log.Warn("job heartbeat failed", "error", err)
			}
		}
	}
}

func (p *Pool) staleThreshold() time.Duration {
	if p.cfg.Worker.StaleProcessing > 0 {
		return p.cfg.Worker.StaleProcessing
	}
	return 5 * time.Minute
}

// sweep periodically requeues stale claims and refreshes the queue gauges
// and the liveness file.
func (p *Pool) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	p.refreshGauges(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.RequeueStale(ctx, p.staleThreshold())
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("stale sweep failed", "error", err)
			} else if n > 0 {
				p.logger.Info("requeued stale jobs", "count", n)
			}
			p.refreshGauges(ctx)
		}
	}
}

func (p *Pool) refreshGauges(ctx context.Context) {
	backlog := -1
	if counts, err := p.queue.CountByStatus(ctx, p.cfg.PipelineVersion); err == nil {
		backlog = counts["pending"] + counts["processing"]
		metrics.QueueBacklog.Set(float64(backlog))
	}
	if age, err := p.queue.OldestPendingAge(ctx, p.cfg.PipelineVersion); err == nil {
		metrics.OldestPendingAge.Set(age.Seconds())
	}

	stats := p.stages.Extractor.BreakerStats()
	if stats.State == "open" {
		metrics.BreakerOpen.Set(1)
	} else {
		metrics.BreakerOpen.Set(0)
	}

	if p.hb != nil {
		event := fmt.Sprintf("backlog=%d breaker=%s", backlog, stats.State)
		if err := p.hb.Beat("ok", event); err != nil {
			p.logger.Warn("heartbeat write failed", "error", err)
		}
	}
}

func jobIDs(jobs []models.ExtractionJob) []int64 {
	ids := make([]int64, len(jobs))
	for i := range jobs {
		ids[i] = jobs[i].JobID
	}
	return ids
}
