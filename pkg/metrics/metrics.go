// Package metrics holds the process-wide prometheus collectors. Counters are
// incremented at the point the event happens; gauges are refreshed by the
// worker's periodic status sweep.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CollectorEvents counts handled source events by type (message, edit,
// delete) and result (ok, error).
var CollectorEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tutordex_collector_events_total",
	Help: "counter of source events handled by the collector",
}, []string{"type", "result"})

// MessagesWritten counts raw rows accepted by the store across all collector
// modes.
var MessagesWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tutordex_collector_messages_written_total",
	Help: "counter of raw message rows written by the collector",
})

// JobsEnqueued counts extraction jobs scheduled by the collector and the
// enqueue-from-raw walk.
var JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tutordex_collector_jobs_enqueued_total",
	Help: "counter of extraction jobs enqueued",
})

// SourceWaits counts server-dictated pauses honored by the retry wrapper,
// by kind (flood, slowmode).
var SourceWaits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tutordex_source_waits_total",
	Help: "counter of rate-limit waits imposed by the message source",
}, []string{"kind"})

// JobsProcessed counts worker job outcomes by terminal status
// (ok, failed, skipped, retried).
var JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tutordex_worker_jobs_total",
	Help: "counter of extraction jobs processed by terminal status",
}, []string{"status"})

// StageDuration observes per-stage wall time inside the worker pipeline.
var StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "tutordex_worker_stage_seconds",
	Help:    "histogram of extraction pipeline stage durations",
	Buckets: prometheus.ExponentialBuckets(0.01, 2.5, 10),
}, []string{"stage"})

// LLMCalls counts extractor calls by result (ok, error, circuit_open).
var LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tutordex_llm_calls_total",
	Help: "counter of LLM extraction calls by result",
}, []string{"result"})

// BreakerOpen is 1 while the LLM circuit breaker is open.
var BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tutordex_llm_breaker_open",
	Help: "1 while the LLM circuit breaker is refusing calls",
})

// QueueBacklog is the pending + processing job count for the active
// pipeline version.
var QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tutordex_queue_backlog",
	Help: "pending plus processing extraction jobs for the active pipeline version",
})

// OldestPendingAge is the age of the oldest pending job in seconds.
var OldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tutordex_queue_oldest_pending_seconds",
	Help: "age of the oldest pending extraction job",
})

// PersistActions counts persister outcomes by action
// (inserted, updated, bumped, closed, skipped).
var PersistActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tutordex_persist_total",
	Help: "counter of persister outcomes by action",
}, []string{"action"})

// FanoutSends counts downstream deliveries by kind (broadcast, dm, triage)
// and result (ok, error, disabled).
var FanoutSends = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tutordex_fanout_total",
	Help: "counter of fan-out deliveries by kind and result",
}, []string{"kind", "result"})

// CatchupWindows counts recovery windows by result (ok, error).
var CatchupWindows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tutordex_catchup_windows_total",
	Help: "counter of recovery catchup windows replayed",
}, []string{"result"})

// CatchupLag tracks how far each channel's cursor trails the target.
var CatchupLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "tutordex_catchup_lag_seconds",
	Help: "seconds between a channel's recovery cursor and the catchup target",
}, []string{"channel"})
