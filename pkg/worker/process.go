package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/enrich"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/fanout"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/filters"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/llm"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/normalize"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/persist"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/validate"
)

// unit is one fully processed text: the persisted payload, the persister's
// verdict and the enrichment byproducts.
type unit struct {
	payload *models.AssignmentPayload
	result  *persist.Result
	meta    *enrich.Meta
}

// processJob runs one claimed job end to end and writes its terminal (or
// retry) state back to the queue.
func (p *Pool) processJob(ctx context.Context, job *models.ExtractionJob, workerID string) {
	started := time.Now()
	cid := uuid.NewString()
	log := p.logger.With("job_id", job.JobID, "raw_id", job.RawID, "cid", cid)

	// The claim RPC bumps meta.attempt; a hand-enqueued row could arrive
	// without one.
	if job.Meta.Attempt < 1 {
		job.Meta.Attempt = 1
	}
	job.Meta.WorkerID = workerID
	job.Meta.Model = p.stages.Extractor.Model()
	job.Meta.PromptFingerprint = llm.PromptFingerprint()
	job.Meta.SkipReason = ""
	job.Meta.ErrorKind = ""
	job.Meta.ErrorDetail = ""

	timings := &models.StageTimings{}
	err := p.run(ctx, job, cid, timings, log)
	timings.TotalMS = time.Since(started).Milliseconds()
	job.Meta.Timings = timings

	p.finish(ctx, job, err, log)
}

// run walks the pipeline for one job: load the raw row, apply the guard and
// the cheap classifiers, then extract, enrich, validate, persist and fan out.
func (p *Pool) run(ctx context.Context, job *models.ExtractionJob, cid string, timings *models.StageTimings, log *slog.Logger) error {
	doneFetch := stageDone(pipeline.StageLoadRaw, &timings.FetchMS)
	msg, err := p.raw.GetMessage(ctx, job.RawID)
	doneFetch()
	if err != nil {
		return pipeline.Wrap(pipeline.KindSourceTransient, pipeline.StageLoadRaw, err)
	}
	if msg == nil {
		return pipeline.NewError(pipeline.KindRawMissing, pipeline.StageLoadRaw,
			fmt.Sprintf("raw row %d is gone", job.RawID))
	}
	log = log.With("channel", msg.ChannelRef, "message_id", msg.MessageID)

	doneFilter := stageDone(pipeline.StageFilter, &timings.FilterMS)
	dec := filters.Guard(msg, p.codeRe)
	if dec.Action != filters.GuardProceed {
		doneFilter()
		return p.resolveGuard(ctx, msg, dec, log)
	}

	if res := filters.DetectNonAssignment(msg.RawText); res.IsNon {
		doneFilter()
		p.triage(ctx, msg, cid, pipeline.KindNonAssignment, pipeline.StageFilter, string(res.Type), nil)
		return pipeline.NewError(pipeline.KindNonAssignment, pipeline.StageFilter, string(res.Type))
	}
	comp := filters.DetectCompilation(msg.RawText, p.cfg.Compilation)
	doneFilter()

	if comp.IsCompilation {
		segs, err := p.confirmSegments(ctx, msg, cid, timings, log)
		if err != nil {
			return err
		}
		if len(segs) >= 2 {
			log.Info("compilation confirmed", "reason", comp.Reason, "segments", len(segs))
			return p.runCompilation(ctx, job, msg, segs, cid, timings, log)
		}
		log.Debug("compilation downgraded", "reason", comp.Reason, "segments", len(segs))
	}

	u, err := p.extractOne(ctx, msg, msg.RawText, cid, timings, log)
	if err != nil {
		return err
	}
	p.fanOut(ctx, job, u.payload, u.result, log)
	job.Meta.AssignmentRef = u.result.Agency + "/" + u.result.ExternalID
	job.Meta.ParseWarnings = u.meta.ParseWarnings
	if canonical, err := u.payload.CanonicalJSON(); err == nil {
		job.CanonicalJSON = canonical
	} else {
		log.Warn("canonical encode failed", "error", err)
	}
	return nil
}

// resolveGuard turns a non-proceed guard verdict into its side effect plus a
// skip. Store failures pass through untouched so they stay retriable.
func (p *Pool) resolveGuard(ctx context.Context, msg *models.RawMessage, dec filters.GuardDecision, log *slog.Logger) error {
	switch dec.Action {
	case filters.GuardDeleted:
		return p.closeDeleted(ctx, msg, log)
	case filters.GuardForward:
		return p.bumpForward(ctx, msg, dec.Code, log)
	case filters.GuardReply:
		return p.bumpReply(ctx, msg, dec.ReplyToID, log)
	default:
		return pipeline.NewError(pipeline.KindEmptyText, pipeline.StageFilter, "no usable text")
	}
}

// closeDeleted transitions the assignment behind a deleted message to
// CLOSED. The raw row keeps the last captured text, so the identifier
// grammar can still recover the code the original insert was keyed by.
func (p *Pool) closeDeleted(ctx context.Context, msg *models.RawMessage, log *slog.Logger) error {
	payload := &models.AssignmentPayload{
		Source: models.SourceRef{
			ChannelRef:  msg.ChannelRef,
			ChannelID:   msg.ChannelID,
			MessageID:   strconv.FormatInt(msg.MessageID, 10),
			MessageLink: messageLink(msg),
			SeenAt:      deletionTime(msg),
		},
	}
	if code := filters.ExtractCode(msg.RawText, p.codeRe); code != "" {
		payload.AssignmentCode = &code
	}

	_, err := p.stages.Sink.MarkClosed(ctx, payload)
	switch {
	case err == nil:
		log.Info("assignment closed for deleted message")
	case errors.Is(err, persist.ErrNotFound):
		log.Debug("deleted message matched no assignment")
	case errors.Is(err, persist.ErrInvalidTransition):
		log.Warn("assignment behind deleted message is not closable", "error", err)
	default:
		return err
	}
	return pipeline.NewError(pipeline.KindDeleted, pipeline.StageFilter, "deleted")
}

// bumpForward advances last_seen on the assignment a forwarded repost points
// at. Forwards never insert.
func (p *Pool) bumpForward(ctx context.Context, msg *models.RawMessage, code string, log *slog.Logger) error {
	if code == "" {
		return pipeline.NewError(pipeline.KindForwarded, pipeline.StageFilter, "forwarded")
	}
	agency := p.stages.Taxonomy.AgencyFor(msg.ChannelRef)
	_, err := p.stages.Sink.Bump(ctx, agency, code, sightingTime(msg))
	switch {
	case err == nil:
		log.Info("forwarded repost bumped", "agency", agency, "code", code)
		return pipeline.NewError(pipeline.KindForwarded, pipeline.StageFilter, "forwarded_bumped")
	case errors.Is(err, persist.ErrNotFound), errors.Is(err, persist.ErrInvalidTransition):
		log.Debug("forwarded code has no bumpable assignment", "code", code, "error", err)
		return pipeline.NewError(pipeline.KindForwarded, pipeline.StageFilter, "forwarded_unmatched")
	default:
		return err
	}
}

// bumpReply treats a reply as a sighting of its parent message's assignment.
func (p *Pool) bumpReply(ctx context.Context, msg *models.RawMessage, replyTo int64, log *slog.Logger) error {
	if replyTo == 0 {
		return pipeline.NewError(pipeline.KindReply, pipeline.StageFilter, "reply")
	}
	agency := p.stages.Taxonomy.AgencyFor(msg.ChannelRef)
	ext := persist.MessageExternalID(msg.ChannelID, replyTo)
	_, err := p.stages.Sink.Bump(ctx, agency, ext, sightingTime(msg))
	switch {
	case err == nil:
		log.Info("reply bumped parent assignment", "external_id", ext)
		return pipeline.NewError(pipeline.KindReply, pipeline.StageFilter, "reply_bumped")
	case errors.Is(err, persist.ErrNotFound), errors.Is(err, persist.ErrInvalidTransition):
		log.Debug("reply has no bumpable parent", "external_id", ext, "error", err)
		return pipeline.NewError(pipeline.KindReply, pipeline.StageFilter, "reply_unmatched")
	default:
		return err
	}
}

// confirmSegments asks the LLM to enumerate the bundle's identifiers, then
// verifies each one by substring before splitting. LLM failures propagate
// rather than downgrade: extracting a digest as one record would poison the
// assignment table.
func (p *Pool) confirmSegments(ctx context.Context, msg *models.RawMessage, cid string, timings *models.StageTimings, log *slog.Logger) ([]filters.Segment, error) {
	doneLLM := stageDone(pipeline.StageLLM, &timings.LLMMS)
	ids, err := p.stages.Extractor.ConfirmCompilation(ctx, msg.RawText, cid)
	doneLLM()
	if err != nil {
		return nil, err
	}
	segs := filters.SplitCompilation(msg.RawText, ids)
	log.Debug("compilation confirm step", "candidates", len(ids), "verified_segments", len(segs))
	return segs, nil
}

// runCompilation processes each segment through the standard pipeline. The
// parent is ok only if every segment succeeded; one retriable segment makes
// the whole job retriable; otherwise the failures are aggregated.
func (p *Pool) runCompilation(ctx context.Context, job *models.ExtractionJob, msg *models.RawMessage, segs []filters.Segment, cid string, timings *models.StageTimings, log *slog.Logger) error {
	var (
		payloads  []*models.AssignmentPayload
		refs      []string
		failures  []string
		retriable error
		stage     string
	)
	for i, seg := range segs {
		segCID := fmt.Sprintf("%s-s%d", cid, i+1)
		segLog := log.With("segment", seg.Identifier)
		u, err := p.extractOne(ctx, msg, seg.Text, segCID, timings, segLog)
		if err != nil {
			if isRetriable(err) {
				retriable = err
			}
			if pe, ok := pipeline.AsError(err); ok && stage == "" {
				stage = pe.Stage
			}
			failures = append(failures, seg.Identifier+": "+pipeline.Truncate(err.Error()))
			segLog.Warn("segment failed", "error", err)
			continue
		}
		p.fanOut(ctx, job, u.payload, u.result, segLog)
		payloads = append(payloads, u.payload)
		refs = append(refs, u.result.Agency+"/"+u.result.ExternalID)
		job.Meta.ParseWarnings = append(job.Meta.ParseWarnings, u.meta.ParseWarnings...)
	}

	if retriable != nil {
		return retriable
	}
	if len(failures) > 0 {
		if stage == "" {
			stage = pipeline.StageLLM
		}
		detail := fmt.Sprintf("%d/%d segments failed", len(failures), len(segs))
		p.triage(ctx, msg, cid, pipeline.KindCompilation, stage, detail, failures)
		return &pipeline.Error{
			Kind:       pipeline.KindCompilation,
			Stage:      stage,
			Detail:     detail,
			Violations: failures,
		}
	}

	job.Meta.AssignmentRef = strings.Join(refs, ",")
	if canonical, err := json.Marshal(payloads); err == nil {
		job.CanonicalJSON = canonical
	} else {
		log.Warn("canonical encode failed", "error", err)
	}
	log.Info("compilation extracted", "segments", len(segs))
	return nil
}

// extractOne runs normalize, LLM extraction, validation, enrichment and
// persistence over one text unit.
func (p *Pool) extractOne(ctx context.Context, msg *models.RawMessage, text, cid string, timings *models.StageTimings, log *slog.Logger) (*unit, error) {
	norm := normalize.Text(text)
	input := text
	if p.cfg.LLM.UseNormalizedText {
		input = norm
	}

	doneLLM := stageDone(pipeline.StageLLM, &timings.LLMMS)
	rec, usage, err := p.stages.Extractor.Extract(ctx, input, msg.ChannelRef, cid)
	doneLLM()
	if err != nil {
		return nil, err
	}
	log.Debug("extraction returned",
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)

	doneClean := stageDone(pipeline.StageValidate, &timings.ValidateMS)
	rec, violations := validate.Hard(rec, text, p.cfg.Worker.HardValidateMode)
	a, err := validate.Decode(rec)
	doneClean()
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindLLMBadResponse, pipeline.StageValidate, err)
	}
	if len(violations) > 0 {
		log.Debug("hard validator cleaned record", "violations", violations)
	}

	doneEnrich := stageDone(pipeline.StageEnrich, &timings.EnrichMS)
	meta := p.stages.Enricher.Enrich(ctx, a, text, norm)
	doneEnrich()

	doneSchema := stageDone(pipeline.StageValidate, &timings.ValidateMS)
	ok, problems := validate.Schema(a)
	doneSchema()
	if !ok {
		p.triage(ctx, msg, cid, pipeline.KindValidationFailed, pipeline.StageValidate,
			"schema validation failed", problems)
		return nil, &pipeline.Error{
			Kind:       pipeline.KindValidationFailed,
			Stage:      pipeline.StageValidate,
			Detail:     "schema validation failed",
			Violations: problems,
		}
	}

	payload := &models.AssignmentPayload{
		Assignment: *a,
		Source: models.SourceRef{
			ChannelRef:  msg.ChannelRef,
			ChannelID:   msg.ChannelID,
			MessageID:   strconv.FormatInt(msg.MessageID, 10),
			MessageLink: messageLink(msg),
			CID:         cid,
			SeenAt:      sightingTime(msg),
		},
	}

	donePersist := stageDone(pipeline.StagePersist, &timings.PersistMS)
	res, err := p.stages.Sink.Persist(ctx, payload)
	donePersist()
	if err != nil {
		return nil, err
	}
	return &unit{payload: payload, result: res, meta: meta}, nil
}

// fanOut invokes the delivery collaborators for a fresh insert. Delivery is
// best-effort: a failed send never fails the job, and repeat sightings are
// never rebroadcast.
func (p *Pool) fanOut(ctx context.Context, job *models.ExtractionJob, payload *models.AssignmentPayload, res *persist.Result, log *slog.Logger) {
	if res.Action != persist.ActionInserted {
		return
	}
	start := time.Now()
	status := "sent"
	d, err := p.stages.Notifier.Broadcast(ctx, payload, res.Agency, res.ExternalID)
	switch {
	case err != nil:
		status = "error"
		log.Warn("broadcast failed", "error", err)
	case d != nil && d.Action == "disabled":
		status = "disabled"
	case d != nil && !d.OK:
		status = "rejected"
	}
	if _, err := p.stages.Notifier.DM(ctx, payload); err != nil {
		log.Warn("dm delivery failed", "error", err)
	}
	metrics.StageDuration.WithLabelValues(pipeline.StageFanout).Observe(time.Since(start).Seconds())
	if job.Meta.BroadcastStatus == "" || status != "sent" {
		job.Meta.BroadcastStatus = status
	}
}

// finish classifies the run outcome and writes the job back: ok with its
// canonical payload, skipped with a reason, pending with backoff while
// retriable attempts remain, or failed with the serialized error record.
func (p *Pool) finish(ctx context.Context, job *models.ExtractionJob, runErr error, log *slog.Logger) {
	now := time.Now().UTC()
	job.NextAttemptAt = nil

	switch {
	case runErr == nil:
		job.Status = models.JobOK
		job.FinishedAt = &now
		metrics.JobsProcessed.WithLabelValues("ok").Inc()
		log.Info("job ok", "assignment_ref", job.Meta.AssignmentRef, "total_ms", job.Meta.Timings.TotalMS)

	case pipeline.KindOf(runErr).Skip():
		pe, _ := pipeline.AsError(runErr)
		job.Status = models.JobSkipped
		job.Meta.SkipReason = skipReason(pe)
		if pe.Detail != "" && pe.Detail != job.Meta.SkipReason {
			job.Meta.ErrorDetail = pe.Detail
		}
		job.FinishedAt = &now
		metrics.JobsProcessed.WithLabelValues("skipped").Inc()
		log.Info("job skipped", "reason", job.Meta.SkipReason)

	case isRetriable(runErr) && job.Meta.Attempt < p.maxAttempts():
		kind := pipeline.KindOf(runErr)
		next := now.Add(p.backoffFor(job.Meta.Attempt))
		job.Status = models.JobPending
		job.Meta.ErrorKind = string(kind)
		job.Meta.ErrorDetail = pipeline.Truncate(runErr.Error())
		job.NextAttemptAt = &next
		metrics.JobsProcessed.WithLabelValues("retried").Inc()
		log.Warn("job returned to pending",
			"kind", kind, "attempt", job.Meta.Attempt, "next_attempt_at", next)

	default:
		rec := pipeline.RecordOf(runErr)
		rec.Attempt = job.Meta.Attempt
		if isRetriable(runErr) {
			rec.Final = "max_attempts"
		}
		job.Status = models.JobFailed
		job.Meta.ErrorKind = rec.Kind
		job.Meta.ErrorDetail = pipeline.Truncate(runErr.Error())
		if data, err := json.Marshal(rec); err == nil {
			job.ErrorJSON = data
		}
		job.FinishedAt = &now
		metrics.JobsProcessed.WithLabelValues("failed").Inc()
		log.Error("job failed", "kind", rec.Kind, "final", rec.Final, "error", runErr)
	}

	if err := p.queue.Update(ctx, job); err != nil {
		// The row stays processing; the stale sweeper returns it to pending.
		log.Error("job update failed", "error", err)
	}
}

// isRetriable applies the persister's terminal override on top of the kind:
// an invalid status transition never resolves by retrying.
func isRetriable(err error) bool {
	return pipeline.KindOf(err).Retriable() && !errors.Is(err, persist.ErrInvalidTransition)
}

func (p *Pool) maxAttempts() int {
	if p.cfg.Worker.MaxAttempts > 0 {
		return p.cfg.Worker.MaxAttempts
	}
	return 3
}

// backoffFor doubles the base per attempt up to the cap.
func (p *Pool) backoffFor(attempt int) time.Duration {
	base := p.cfg.Worker.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	limit := p.cfg.Worker.BackoffMax
	if limit <= 0 {
		limit = time.Minute
	}
	d := base
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

func skipReason(pe *pipeline.Error) string {
	if pe == nil {
		return ""
	}
	switch pe.Kind {
	case pipeline.KindForwarded, pipeline.KindReply:
		if pe.Detail != "" {
			return pe.Detail
		}
	}
	return string(pe.Kind)
}

func (p *Pool) triage(ctx context.Context, msg *models.RawMessage, cid string, kind pipeline.Kind, stage, reason string, violations []string) {
	if len(violations) > 0 {
		reason = pipeline.Truncate(reason + ": " + strings.Join(violations, "; "))
	}
	p.stages.Triage.Report(ctx, fanout.Report{
		ChannelRef: msg.ChannelRef,
		MessageID:  strconv.FormatInt(msg.MessageID, 10),
		CID:        cid,
		Kind:       string(kind),
		Stage:      stage,
		Reason:     reason,
		TextHead:   msg.RawText,
	})
}

// stageDone starts a stage clock; the returned func adds the elapsed time to
// the timing slot and the stage histogram. Slots accumulate across
// compilation segments.
func stageDone(stage string, slot *int64) func() {
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		*slot += elapsed.Milliseconds()
		metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	}
}

// sightingTime is when the posting was (re)published: the message date, or
// the edit date when later.
func sightingTime(msg *models.RawMessage) time.Time {
	t := msg.MessageDate
	if msg.EditDate != nil && msg.EditDate.After(t) {
		t = *msg.EditDate
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t
}

func deletionTime(msg *models.RawMessage) time.Time {
	if msg.DeletedAt != nil {
		return *msg.DeletedAt
	}
	return time.Now().UTC()
}

// messageLink builds the public t.me link for a posting, or the /c/ form for
// channels addressed by id only.
func messageLink(msg *models.RawMessage) string {
	if name := strings.TrimPrefix(msg.ChannelRef, "@"); name != "" && name != msg.ChannelRef {
		return fmt.Sprintf("https://t.me/%s/%d", name, msg.MessageID)
	}
	if msg.ChannelID != 0 {
		return fmt.Sprintf("https://t.me/c/%d/%d", msg.ChannelID, msg.MessageID)
	}
	return ""
}
