// Package persist owns the assignments table. Every write goes through it:
// inserts of newly extracted records, merge-and-bump updates for repeat
// sightings, and the lifecycle transitions the state machine allows.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"dario.cat/mergo"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/metrics"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/store"
)

// ErrNotFound reports a bump or close aimed at a key with no row. The worker
// maps it to a skip, not a failure.
var ErrNotFound = errors.New("assignment not found")

// ErrInvalidTransition reports a write the state machine forbids. Terminal:
// retrying cannot make it legal.
var ErrInvalidTransition = errors.New("invalid status transition")

// Action values reported in Result.
const (
	ActionInserted = "inserted"
	ActionUpdated  = "updated"
)

// Result describes what a persister call did.
type Result struct {
	Action     string
	Agency     string
	ExternalID string
	Status     models.AssignmentStatus
}

// Persister is the single writer of assignment rows.
type Persister struct {
	store  *store.Store
	tax    *config.Taxonomy
	tiers  models.FreshnessThresholds
	logger *slog.Logger
}

func New(st *store.Store, tax *config.Taxonomy, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		store:  st,
		tax:    tax,
		tiers:  models.DefaultFreshnessThresholds(),
		logger: logger.With("component", "persist"),
	}
}

// MessageExternalID is the fallback identity for records without an
// assignment code: the message that introduced them.
func MessageExternalID(channelID, messageID int64) string {
	return fmt.Sprintf("tg:%d:%d", channelID, messageID)
}

// externalID derives the dedup key: assignment code when present, else the
// source message, else its link, else the correlation id.
func externalID(p *models.AssignmentPayload) string {
	if p.AssignmentCode != nil {
		if code := strings.TrimSpace(*p.AssignmentCode); code != "" {
			return code
		}
	}
	if p.Source.ChannelID != 0 && p.Source.MessageID != "" {
		return fmt.Sprintf("tg:%d:%s", p.Source.ChannelID, p.Source.MessageID)
	}
	if p.Source.MessageLink != "" {
		return p.Source.MessageLink
	}
	return p.Source.CID
}

// Persist upserts the payload under (agency, external_id). A miss inserts an
// OPEN record; a hit merges the new fields in, advances last_seen to the
// later sighting and increments bump_count.
func (p *Persister) Persist(ctx context.Context, payload *models.AssignmentPayload) (*Result, error) {
	agency := p.tax.AgencyFor(payload.Source.ChannelRef)
	id := externalID(payload)
	if id == "" {
		return nil, pipeline.NewError(pipeline.KindPersistFailed, pipeline.StagePersist,
			"payload carries no derivable external id")
	}

	seen := payload.Source.SeenAt
	if seen.IsZero() {
		seen = time.Now().UTC()
	}

	existing, err := p.store.Assignments.Get(ctx, agency, id)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist, err)
	}

	if existing == nil {
		row := &models.AssignmentRow{
			Agency:        agency,
			ExternalID:    id,
			Status:        models.StatusOpen,
			FreshnessTier: p.tiers.Tier(time.Now().UTC(), seen),
			LastSeen:      seen,
			Assignment:    payload.Assignment,
			Source:        payload.Source,
		}
		if err := p.store.Assignments.Upsert(ctx, row); err != nil {
			return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist, err)
		}
		metrics.PersistActions.WithLabelValues(ActionInserted).Inc()
		p.logger.Info("assignment inserted", "agency", agency, "external_id", id)
		return &Result{Action: ActionInserted, Agency: agency, ExternalID: id, Status: models.StatusOpen}, nil
	}

	if existing.Status.Terminal() {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist,
			fmt.Errorf("%w: %s/%s is %s", ErrInvalidTransition, agency, id, existing.Status))
	}

	merged := payload.Assignment
	if err := mergeAssignment(&merged, &existing.Assignment); err != nil {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist, err)
	}
	last := existing.LastSeen
	if seen.After(last) {
		last = seen
	}

	row := &models.AssignmentRow{
		Agency:        agency,
		ExternalID:    id,
		Status:        existing.Status,
		FreshnessTier: p.tiers.Tier(time.Now().UTC(), last),
		LastSeen:      last,
		BumpCount:     existing.BumpCount + 1,
		Assignment:    merged,
		Source:        payload.Source,
	}
	if err := p.store.Assignments.Upsert(ctx, row); err != nil {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist, err)
	}
	metrics.PersistActions.WithLabelValues(ActionUpdated).Inc()
	p.logger.Debug("assignment updated",
		"agency", agency, "external_id", id, "bump_count", row.BumpCount)
	return &Result{Action: ActionUpdated, Agency: agency, ExternalID: id, Status: existing.Status}, nil
}

// Bump advances last_seen and bump_count for an existing assignment without
// touching its content. Forwarded reposts and reply sightings land here.
func (p *Persister) Bump(ctx context.Context, agency, externalID string, seenAt time.Time) (*Result, error) {
	existing, err := p.store.Assignments.Get(ctx, agency, externalID)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist, err)
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	if existing.Status.Terminal() {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist,
			fmt.Errorf("%w: %s/%s is %s", ErrInvalidTransition, agency, externalID, existing.Status))
	}

	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}
	last := existing.LastSeen
	if seenAt.After(last) {
		last = seenAt
	}
	n, err := p.store.Assignments.Patch(ctx, agency, externalID, map[string]any{
		"last_seen":      last.UTC().Format(time.RFC3339),
		"bump_count":     existing.BumpCount + 1,
		"freshness_tier": p.tiers.Tier(time.Now().UTC(), last),
	})
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist, err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	metrics.PersistActions.WithLabelValues("bumped").Inc()
	p.logger.Debug("assignment bumped",
		"agency", agency, "external_id", externalID, "bump_count", existing.BumpCount+1)
	return &Result{Action: ActionUpdated, Agency: agency, ExternalID: externalID, Status: existing.Status}, nil
}

// MarkClosed transitions the payload's assignment to CLOSED after its source
// message was deleted.
func (p *Persister) MarkClosed(ctx context.Context, payload *models.AssignmentPayload) (*Result, error) {
	agency := p.tax.AgencyFor(payload.Source.ChannelRef)
	id := externalID(payload)

	existing, err := p.store.Assignments.Get(ctx, agency, id)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist, err)
	}
	if existing == nil {
		return nil, ErrNotFound
	}
	if !models.CanTransition(existing.Status, models.StatusClosed) {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist,
			fmt.Errorf("%w: %s/%s %s -> %s", ErrInvalidTransition, agency, id, existing.Status, models.StatusClosed))
	}

	seen := payload.Source.SeenAt
	if seen.IsZero() {
		seen = time.Now().UTC()
	}
	last := existing.LastSeen
	if seen.After(last) {
		last = seen
	}
	n, err := p.store.Assignments.Patch(ctx, agency, id, map[string]any{
		"status":         models.StatusClosed,
		"last_seen":      last.UTC().Format(time.RFC3339),
		"freshness_tier": p.tiers.Tier(time.Now().UTC(), last),
	})
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindPersistFailed, pipeline.StagePersist, err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	metrics.PersistActions.WithLabelValues("closed").Inc()
	p.logger.Info("assignment closed", "agency", agency, "external_id", id)
	return &Result{Action: ActionUpdated, Agency: agency, ExternalID: id, Status: models.StatusClosed}, nil
}

// mergeAssignment fills next's empty fields from prev: a repost's new values
// win, but it never blanks what an earlier extraction established.
func mergeAssignment(next, prev *models.Assignment) error {
	return mergo.Merge(next, *prev, mergo.WithTransformers(wholeValue{}))
}

// wholeValue keeps a present rate or time availability exactly as extracted.
// Without it mergo recurses into the structs and resurrects inner fields the
// validator nulled, such as a quote-like rate's cleared min and max. mergo
// consults transformers only for non-nil destinations, so an absent incoming
// value still inherits the stored one.
type wholeValue struct{}

func (wholeValue) Transformer(t reflect.Type) func(dst, src reflect.Value) error {
	switch t {
	case reflect.TypeOf((*models.Rate)(nil)), reflect.TypeOf((*models.TimeAvailability)(nil)):
		return func(reflect.Value, reflect.Value) error { return nil }
	}
	return nil
}
