package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fallback kinds, one per diverted write path.
const (
	KindChannel   = "channel"
	KindMessage   = "message"
	KindDelete    = "delete"
	KindRunStart  = "run_start"
	KindRunFinish = "run_finish"
	KindProgress  = "progress"
)

// Fallback appends store writes to a JSONL file so collection survives a
// disabled or unreachable store. Lines carry the kind, a timestamp, and the
// original payload; a replay tool can re-ingest them later.
type Fallback struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

func NewFallback(path string, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{path: path, logger: logger.With("component", "store_fallback")}
}

type fallbackLine struct {
	Kind    string    `json:"kind"`
	TS      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

// Append writes one line. Each call opens and closes the file so a crash
// never loses more than the line being written.
func (f *Fallback) Append(kind string, payload any) error {
	line, err := json.Marshal(fallbackLine{Kind: kind, TS: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("fallback encode %s: %w", kind, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("fallback mkdir: %w", err)
		}
	}
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fallback open: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("fallback write: %w", err)
	}
	return nil
}
