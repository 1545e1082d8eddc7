package models

import "time"

// RunType names the collector mode that produced an ingestion run.
type RunType string

const (
	RunBackfill RunType = "backfill"
	RunTail     RunType = "tail"
	RunCatchup  RunType = "recovery_catchup"
	RunEnqueue  RunType = "enqueue"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunOK        RunStatus = "ok"
	RunError     RunStatus = "error"
	RunCancelled RunStatus = "cancelled"
)

// RunProgress is the mutable counter block updated as a run advances.
type RunProgress struct {
	ChannelsTotal int `json:"channels_total"`
	ChannelsDone  int `json:"channels_done"`
	MessagesSeen  int `json:"messages_seen"`
	MessagesNew   int `json:"messages_new"`
	MessagesEdit  int `json:"messages_edited"`
	JobsEnqueued  int `json:"jobs_enqueued"`
	Errors        int `json:"errors"`
}

// IngestRun is the bookkeeping row for one collector invocation. RunID is a
// UUID minted at start; progress counters are flushed periodically and on
// completion.
type IngestRun struct {
	RunID      string      `json:"run_id"`
	Type       RunType     `json:"run_type"`
	Status     RunStatus   `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Progress   RunProgress `json:"progress"`
	Error      string      `json:"error,omitempty"`
	Host       string      `json:"host,omitempty"`
	Version    string      `json:"app_version,omitempty"`
}

// Finish marks the run terminal with the given status at t.
func (r *IngestRun) Finish(status RunStatus, t time.Time) {
	r.Status = status
	r.FinishedAt = &t
}
