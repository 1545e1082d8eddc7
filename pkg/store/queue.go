package store

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// QueueStore drives the extraction queue through its RPC surface. The queue
// has no fallback mode: enqueue and claim need the database.
type QueueStore struct {
	client *Client
	logger *slog.Logger
}

// Enqueue schedules raw messages for extraction and returns how many rows
// were created or reset. force=false leaves terminal rows alone; force=true
// resets them to pending with attempt incremented.
func (s *QueueStore) Enqueue(ctx context.Context, pipelineVersion, channelRef string, messageIDs []int64, force bool) (int, error) {
	if s.client == nil {
		return 0, ErrDisabled
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}
	var count int
	err := s.client.RPC(ctx, "enqueue_extractions", map[string]any{
		"p_pipeline_version": pipelineVersion,
		"p_channel_ref":      channelRef,
		"p_message_ids":      messageIDs,
		"p_force":            force,
	}, &count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Claim atomically flips up to limit pending rows to processing and returns
// them. Claims use SKIP LOCKED server-side, so concurrent workers never see
// the same job.
func (s *QueueStore) Claim(ctx context.Context, pipelineVersion string, limit int, workerID string) ([]models.ExtractionJob, error) {
	if s.client == nil {
		return nil, ErrDisabled
	}
	var jobs []models.ExtractionJob
	err := s.client.RPC(ctx, "claim_extractions", map[string]any{
		"p_pipeline_version": pipelineVersion,
		"p_limit":            limit,
		"p_worker_id":        workerID,
	}, &jobs)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// RequeueStale returns processing rows older than the threshold to pending
// and stamps requeued_at into their meta. The attempt counter increments when
// the row is next claimed.
func (s *QueueStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.client == nil {
		return 0, ErrDisabled
	}
	var out struct {
		Count int `json:"count"`
	}
	err := s.client.RPC(ctx, "requeue_stale_extractions", map[string]any{
		"p_older_than_seconds": int(olderThan.Seconds()),
	}, &out)
	if err != nil {
		return 0, err
	}
	return out.Count, nil
}

// CountByStatus reports queue sizes per status for one pipeline version.
func (s *QueueStore) CountByStatus(ctx context.Context, pipelineVersion string) (map[string]int, error) {
	if s.client == nil {
		return nil, ErrDisabled
	}
	var rows []struct {
		Status string `json:"status"`
		N      int    `json:"n"`
	}
	err := s.client.RPC(ctx, "count_extractions_by_status", map[string]any{
		"p_pipeline_version": pipelineVersion,
	}, &rows)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// Backlog is the pending + processing depth the recovery loop throttles on.
func (s *QueueStore) Backlog(ctx context.Context, pipelineVersion string) (int, error) {
	counts, err := s.CountByStatus(ctx, pipelineVersion)
	if err != nil {
		return 0, err
	}
	return counts[string(models.JobPending)] + counts[string(models.JobProcessing)], nil
}

// OldestPendingAge reports how long the oldest pending job has waited, zero
// when the queue is drained.
func (s *QueueStore) OldestPendingAge(ctx context.Context, pipelineVersion string) (time.Duration, error) {
	if s.client == nil {
		return 0, ErrDisabled
	}
	q := url.Values{}
	q.Set("select", "created_at")
	q.Set("pipeline_version", "eq."+pipelineVersion)
	q.Set("status", "eq."+string(models.JobPending))
	q.Set("order", "created_at.asc")
	q.Set("limit", "1")

	var rows []struct {
		CreatedAt time.Time `json:"created_at"`
	}
	if err := s.client.Get(ctx, "extraction_queue", q, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return time.Since(rows[0].CreatedAt), nil
}

// Update writes a job's status and meta after processing.
func (s *QueueStore) Update(ctx context.Context, job *models.ExtractionJob) error {
	if s.client == nil {
		return ErrDisabled
	}
	q := url.Values{}
	q.Set("id", "eq."+strconv.FormatInt(job.JobID, 10))

	fields := map[string]any{
		"status": job.Status,
		"meta":   job.Meta,
	}
	if job.FinishedAt != nil {
		fields["finished_at"] = job.FinishedAt.UTC().Format(time.RFC3339)
	}
	if job.NextAttemptAt != nil {
		fields["next_attempt_at"] = job.NextAttemptAt.UTC().Format(time.RFC3339)
	} else {
		fields["next_attempt_at"] = nil
	}
	if len(job.CanonicalJSON) > 0 {
		fields["canonical_json"] = job.CanonicalJSON
	}
	if len(job.ErrorJSON) > 0 {
		fields["error_json"] = job.ErrorJSON
	}
	_, err := s.client.Patch(ctx, "extraction_queue", q, fields)
	return err
}

// Heartbeat refreshes heartbeat_at on in-flight jobs so the stale sweeper
// leaves them alone during long LLM calls.
func (s *QueueStore) Heartbeat(ctx context.Context, jobIDs []int64) error {
	if s.client == nil {
		return ErrDisabled
	}
	if len(jobIDs) == 0 {
		return nil
	}
	q := url.Values{}
	q.Set("id", "in.("+joinInt64(jobIDs)+")")
	_, err := s.client.Patch(ctx, "extraction_queue", q, map[string]any{
		"heartbeat_at": time.Now().UTC().Format(time.RFC3339),
	})
	return err
}
