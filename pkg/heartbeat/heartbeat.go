// Package heartbeat writes small liveness files. Writes are atomic (temp
// file then rename) so a monitor polling the path never reads a partial
// document; staleness of the file timestamp is the stall signal.
package heartbeat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Doc is the on-disk document. Monitors read ts and counts; the rest is for
// humans looking at an incident.
type Doc struct {
	TS              float64          `json:"ts"`
	ISO             string           `json:"iso"`
	Status          string           `json:"status"`
	LastEvent       string           `json:"last_event"`
	Counts          map[string]int64 `json:"counts"`
	PipelineVersion string           `json:"pipeline_version"`
	PID             int              `json:"pid"`
}

// Writer maintains one heartbeat file and its running counters. A nil
// *Writer is valid and discards everything, so callers that run without a
// heartbeat directory need no guards.
type Writer struct {
	path            string
	pipelineVersion string

	mu     sync.Mutex
	counts map[string]int64
}

// NewWriter prepares a writer for <dir>/<name>.json, creating dir as needed.
func NewWriter(dir, name, pipelineVersion string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{
		path:            filepath.Join(dir, name+".json"),
		pipelineVersion: pipelineVersion,
		counts:          make(map[string]int64),
	}, nil
}

// Path returns the file this writer maintains.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Count adds delta to a named counter included in every beat.
func (w *Writer) Count(name string, delta int64) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.counts[name] += delta
	w.mu.Unlock()
}

// Beat writes the document. Failures are returned for the caller to log;
// a missed beat must never stop the loop that emits it.
func (w *Writer) Beat(status, lastEvent string) error {
	if w == nil {
		return nil
	}
	now := time.Now().UTC()

	w.mu.Lock()
	counts := make(map[string]int64, len(w.counts))
	for k, v := range w.counts {
		counts[k] = v
	}
	w.mu.Unlock()

	doc := Doc{
		TS:              float64(now.UnixNano()) / float64(time.Second),
		ISO:             now.Format(time.RFC3339),
		Status:          status,
		LastEvent:       lastEvent,
		Counts:          counts,
		PipelineVersion: w.pipelineVersion,
		PID:             os.Getpid(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), "."+filepath.Base(w.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
