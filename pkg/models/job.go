package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobOK         JobStatus = "ok"
	JobFailed     JobStatus = "failed"
	JobSkipped    JobStatus = "skipped"
)

// StageTimings records wall-clock milliseconds per pipeline stage for one
// attempt. Zero means the stage did not run.
type StageTimings struct {
	FetchMS    int64 `json:"fetch_ms,omitempty"`
	FilterMS   int64 `json:"filter_ms,omitempty"`
	LLMMS      int64 `json:"llm_ms,omitempty"`
	EnrichMS   int64 `json:"enrich_ms,omitempty"`
	ValidateMS int64 `json:"validate_ms,omitempty"`
	PersistMS  int64 `json:"persist_ms,omitempty"`
	TotalMS    int64 `json:"total_ms,omitempty"`
}

// JobMeta is the structured meta blob attached to an extraction job. It grows
// across attempts; RequeuedAt is set when an operator pushes a finished job
// back to pending.
type JobMeta struct {
	Attempt           int           `json:"attempt,omitempty"`
	WorkerID          string        `json:"worker_id,omitempty"`
	PromptFingerprint string        `json:"prompt_fingerprint,omitempty"`
	Model             string        `json:"model,omitempty"`
	SkipReason        string        `json:"skip_reason,omitempty"`
	ErrorKind         string        `json:"error_kind,omitempty"`
	ErrorDetail       string        `json:"error_detail,omitempty"`
	Timings           *StageTimings `json:"timings,omitempty"`
	AssignmentRef     string        `json:"assignment_ref,omitempty"`
	BroadcastStatus   string        `json:"broadcast_status,omitempty"`
	ParseWarnings     []string      `json:"parse_warnings,omitempty"`
	RequeuedAt        *time.Time    `json:"requeued_at,omitempty"`
}

// ExtractionJob is one unit of extraction work, keyed by
// (pipeline_version, raw_id) so a reprocess under a new pipeline version
// creates a fresh job instead of clobbering history.
type ExtractionJob struct {
	JobID           int64           `json:"id,omitempty"`
	RawID           int64           `json:"raw_id"`
	PipelineVersion string          `json:"pipeline_version"`
	Status          JobStatus       `json:"status"`
	ClaimedBy       string          `json:"claimed_by,omitempty"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	HeartbeatAt     *time.Time      `json:"heartbeat_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	NextAttemptAt   *time.Time      `json:"next_attempt_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at,omitempty"`
	Meta            JobMeta         `json:"meta"`
	CanonicalJSON   json.RawMessage `json:"canonical_json,omitempty"`
	ErrorJSON       json.RawMessage `json:"error_json,omitempty"`
}

// Terminal reports whether the job is in a finished state.
func (j *ExtractionJob) Terminal() bool {
	switch j.Status {
	case JobOK, JobFailed, JobSkipped:
		return true
	}
	return false
}
