package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// checkpointTTL bounds how old a saved checkpoint may be before its cursors
// are distrusted and re-seeded from the store.
const checkpointTTL = 24 * time.Hour

const (
	statusRunning = "running"
	statusOK      = "ok"
)

// Checkpoint is the on-disk state of one catchup: where each channel's replay
// has reached and the instant it is heading for. It survives restarts so an
// interrupted catchup resumes instead of re-walking everything.
type Checkpoint struct {
	Cursors map[string]time.Time `json:"cursors"`
	Target  time.Time            `json:"target"`
	Status  string               `json:"status"`
	SavedAt time.Time            `json:"saved_at"`
}

func loadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if cp.Cursors == nil {
		cp.Cursors = make(map[string]time.Time)
	}
	return &cp, nil
}

func (c *Checkpoint) fresh(now time.Time) bool {
	return !c.SavedAt.IsZero() && now.Sub(c.SavedAt) <= checkpointTTL
}

// save rewrites the checkpoint atomically so a crash mid-write leaves the
// previous state intact.
func (c *Checkpoint) save(path string) error {
	c.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
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
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
