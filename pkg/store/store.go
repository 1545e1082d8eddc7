package store

import (
	"log/slog"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
)

// Store bundles the three data-plane surfaces. With credentials present all
// of them speak REST; without, Raw diverts to the JSONL fallback and Queue
// and Assignments return ErrDisabled.
type Store struct {
	Raw         *RawStore
	Queue       *QueueStore
	Assignments *AssignmentStore

	enabled bool
}

func New(cfg config.StoreConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	var client *Client
	if cfg.Enabled() {
		client = NewRESTClient(cfg, logger)
	} else {
		logger.Warn("store credentials missing, raw writes divert to fallback", "path", cfg.FallbackPath)
	}
	fallback := NewFallback(cfg.FallbackPath, logger)

	return &Store{
		Raw:         &RawStore{client: client, fallback: fallback, logger: logger.With("component", "raw_store")},
		Queue:       &QueueStore{client: client, logger: logger.With("component", "queue_store")},
		Assignments: &AssignmentStore{client: client, logger: logger.With("component", "assignment_store")},
		enabled:     client != nil,
	}
}

// Enabled reports whether the REST data plane is configured.
func (s *Store) Enabled() bool { return s.enabled }
