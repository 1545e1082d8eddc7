package store

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// AssignmentStore reads and writes the canonical assignments table, keyed by
// (agency_ref, external_id).
type AssignmentStore struct {
	client *Client
	logger *slog.Logger
}

// Get returns the row for the dedup key, nil when absent.
func (s *AssignmentStore) Get(ctx context.Context, agency, externalID string) (*models.AssignmentRow, error) {
	if s.client == nil {
		return nil, ErrDisabled
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("agency_ref", "eq."+agency)
	q.Set("external_id", "eq."+externalID)
	q.Set("limit", "1")

	var rows []models.AssignmentRow
	if err := s.client.Get(ctx, "assignments", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Upsert writes the row, merging on the dedup key. Concurrent inserts of the
// same key resolve server-side; the loser's write lands as an update.
func (s *AssignmentStore) Upsert(ctx context.Context, row *models.AssignmentRow) error {
	if s.client == nil {
		return ErrDisabled
	}
	return s.client.Upsert(ctx, "assignments", "agency_ref,external_id", []*models.AssignmentRow{row})
}

// Patch applies partial fields to one row.
func (s *AssignmentStore) Patch(ctx context.Context, agency, externalID string, fields map[string]any) (int, error) {
	if s.client == nil {
		return 0, ErrDisabled
	}
	q := url.Values{}
	q.Set("agency_ref", "eq."+agency)
	q.Set("external_id", "eq."+externalID)
	return s.client.Patch(ctx, "assignments", q, fields)
}

// CountByStatus reports assignments per lifecycle status.
func (s *AssignmentStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	if s.client == nil {
		return nil, ErrDisabled
	}
	var rows []struct {
		Status string `json:"status"`
		N      int    `json:"n"`
	}
	if err := s.client.RPC(ctx, "count_assignments_by_status", map[string]any{}, &rows); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// RecordBroadcast stores the remote message reference a fan-out produced so
// the expiry sweeper can delete it later.
func (s *AssignmentStore) RecordBroadcast(ctx context.Context, ref *models.BroadcastRef) error {
	if s.client == nil {
		return ErrDisabled
	}
	return s.client.Upsert(ctx, "broadcast_messages", "", []*models.BroadcastRef{ref})
}

// ListByStatus pages rows in one status, oldest last_seen first. Used by the
// expiry sweep.
func (s *AssignmentStore) ListByStatus(ctx context.Context, status models.AssignmentStatus, limit int) ([]models.AssignmentRow, error) {
	if s.client == nil {
		return nil, ErrDisabled
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("status", "eq."+string(status))
	q.Set("order", "last_seen.asc")
	q.Set("limit", strconv.Itoa(limit))

	var rows []models.AssignmentRow
	if err := s.client.Get(ctx, "assignments", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
