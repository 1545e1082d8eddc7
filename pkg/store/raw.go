package store

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// RawStore persists channels, raw messages, and ingest-run bookkeeping.
// With no REST client every write diverts to the JSONL fallback and reads
// return zero values.
type RawStore struct {
	client   *Client
	fallback *Fallback
	logger   *slog.Logger
}

func (s *RawStore) UpsertChannel(ctx context.Context, meta *models.ChannelMeta) error {
	if s.client == nil {
		return s.fallback.Append(KindChannel, meta)
	}
	return s.client.Upsert(ctx, "channels", "channel_ref", []*models.ChannelMeta{meta})
}

// UpsertMessagesBatch writes rows keyed on (channel_ref, message_id).
// Returns (attempted, written): attempted counts the input, written the rows
// that passed validation and reached the store. Invalid rows are dropped.
func (s *RawStore) UpsertMessagesBatch(ctx context.Context, rows []models.RawMessage) (int, int, error) {
	attempted := len(rows)
	valid := rows[:0:0]
	for _, r := range rows {
		if r.ChannelRef == "" || r.MessageID == 0 || r.MessageDate.IsZero() {
			continue
		}
		valid = append(valid, r)
	}
	if dropped := attempted - len(valid); dropped > 0 {
		s.logger.Warn("dropping invalid raw rows", "dropped", dropped, "attempted", attempted)
	}
	if len(valid) == 0 {
		return attempted, 0, nil
	}

	if s.client == nil {
		for _, r := range valid {
			if err := s.fallback.Append(KindMessage, r); err != nil {
				return attempted, 0, err
			}
		}
		return attempted, len(valid), nil
	}

	if err := s.client.Upsert(ctx, "raw_messages", "channel_ref,message_id", valid); err != nil {
		return attempted, 0, err
	}
	return attempted, len(valid), nil
}

// MarkDeleted stamps deleted_at on the given messages. The is.null filter
// keeps the first deletion timestamp on repeats.
func (s *RawStore) MarkDeleted(ctx context.Context, channelRef string, messageIDs []int64) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	if s.client == nil {
		err := s.fallback.Append(KindDelete, map[string]any{
			"channel_ref": channelRef,
			"message_ids": messageIDs,
		})
		return len(messageIDs), err
	}

	q := url.Values{}
	q.Set("channel_ref", "eq."+channelRef)
	q.Set("message_id", "in.("+joinInt64(messageIDs)+")")
	q.Set("deleted_at", "is.null")
	return s.client.Patch(ctx, "raw_messages", q, map[string]any{
		"deleted_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateRun assigns a run id and inserts the bookkeeping row.
func (s *RawStore) CreateRun(ctx context.Context, run *models.IngestRun) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if s.client == nil {
		return s.fallback.Append(KindRunStart, run)
	}
	return s.client.Upsert(ctx, "ingest_runs", "", []*models.IngestRun{run})
}

func (s *RawStore) FinishRun(ctx context.Context, run *models.IngestRun) error {
	if s.client == nil {
		return s.fallback.Append(KindRunFinish, run)
	}
	q := url.Values{}
	q.Set("run_id", "eq."+run.RunID)
	fields := map[string]any{
		"status":   run.Status,
		"progress": run.Progress,
	}
	if run.FinishedAt != nil {
		fields["finished_at"] = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	if run.Error != "" {
		fields["error"] = run.Error
	}
	_, err := s.client.Patch(ctx, "ingest_runs", q, fields)
	return err
}

func (s *RawStore) UpsertProgress(ctx context.Context, run *models.IngestRun) error {
	if s.client == nil {
		return s.fallback.Append(KindProgress, map[string]any{
			"run_id":   run.RunID,
			"progress": run.Progress,
		})
	}
	q := url.Values{}
	q.Set("run_id", "eq."+run.RunID)
	_, err := s.client.Patch(ctx, "ingest_runs", q, map[string]any{"progress": run.Progress})
	return err
}

// GetRuns lists recent runs, optionally filtered by id or type.
func (s *RawStore) GetRuns(ctx context.Context, runID string, runType models.RunType, limit int) ([]models.IngestRun, error) {
	if s.client == nil {
		return nil, ErrDisabled
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "started_at.desc")
	q.Set("limit", strconv.Itoa(limit))
	if runID != "" {
		q.Set("run_id", "eq."+runID)
	}
	if runType != "" {
		q.Set("run_type", "eq."+string(runType))
	}
	var runs []models.IngestRun
	if err := s.client.Get(ctx, "ingest_runs", q, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetLatestCursor returns the newest (message_date, message_id) for a
// channel, zero values when the channel has no rows or the store is
// disabled.
func (s *RawStore) GetLatestCursor(ctx context.Context, channelRef string) (time.Time, int64, error) {
	if s.client == nil {
		return time.Time{}, 0, nil
	}
	q := url.Values{}
	q.Set("select", "message_date,message_id")
	q.Set("channel_ref", "eq."+channelRef)
	q.Set("order", "message_date.desc")
	q.Set("limit", "1")

	var rows []struct {
		MessageDate time.Time `json:"message_date"`
		MessageID   int64     `json:"message_id"`
	}
	if err := s.client.Get(ctx, "raw_messages", q, &rows); err != nil {
		return time.Time{}, 0, err
	}
	if len(rows) == 0 {
		return time.Time{}, 0, nil
	}
	return rows[0].MessageDate, rows[0].MessageID, nil
}

// GetMessage loads one raw row by store id. A missing row returns nil.
func (s *RawStore) GetMessage(ctx context.Context, rawID int64) (*models.RawMessage, error) {
	if s.client == nil {
		return nil, ErrDisabled
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+strconv.FormatInt(rawID, 10))
	q.Set("limit", "1")

	var rows []models.RawMessage
	if err := s.client.Get(ctx, "raw_messages", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListMessages pages raw rows in a window, newest first. channelRef empty
// means all channels.
func (s *RawStore) ListMessages(ctx context.Context, channelRef string, since, until time.Time, limit, offset int) ([]models.RawMessage, error) {
	if s.client == nil {
		return nil, ErrDisabled
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "message_date.desc")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if channelRef != "" {
		q.Set("channel_ref", "eq."+channelRef)
	}
	if !since.IsZero() {
		q.Add("message_date", "gte."+since.UTC().Format(time.RFC3339))
	}
	if !until.IsZero() {
		q.Add("message_date", "lte."+until.UTC().Format(time.RFC3339))
	}
	var rows []models.RawMessage
	if err := s.client.Get(ctx, "raw_messages", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func joinInt64(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
