// Package models defines the record shapes shared across the ingest pipeline:
// raw messages, extraction jobs, ingestion runs and the canonical assignment
// record that downstream consumers see.
package models

import (
	"encoding/json"
	"time"
)

// Assignment is the canonical tuition-job record, keyed by (agency, external_id).
// The JSON field names are the wire contract with the extraction prompt, the
// assignments table and downstream broadcast/DM collaborators.
type Assignment struct {
	AssignmentCode      *string      `json:"assignment_code"`
	AcademicDisplayText *string      `json:"academic_display_text"`
	LearningMode        LearningMode `json:"learning_mode"`

	Addresses           []string `json:"address"`
	PostalCode          []string `json:"postal_code"`
	PostalCodeEstimated []string `json:"postal_code_estimated"`
	NearestMRT          []string `json:"nearest_mrt"`

	LessonSchedule   []string          `json:"lesson_schedule"`
	StartDate        *string           `json:"start_date"`
	LessonsPerWeek   *float64          `json:"lessons_per_week"`
	HoursPerLesson   *float64          `json:"hours_per_lesson"`
	TimeAvailability *TimeAvailability `json:"time_availability"`

	Subjects       []string `json:"subjects"`
	StudentLevels  []string `json:"student_levels"`
	SpecificLevels []string `json:"specific_levels"`

	Rate              *Rate                `json:"rate"`
	TutorTypes        []string             `json:"tutor_types"`
	RateBreakdown     []RateBreakdownEntry `json:"rate_breakdown"`
	AdditionalRemarks *string              `json:"additional_remarks"`
}

// Rate is the hourly-rate triple. Quote-like raw text forces Min/Max null.
type Rate struct {
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	RawText *string  `json:"raw_text"`
}

// RateBreakdownEntry associates one rate mention with the nearest tutor-type
// token in the source text.
type RateBreakdownEntry struct {
	TutorType  string   `json:"tutor_type"`
	Min        *float64 `json:"min"`
	Max        *float64 `json:"max"`
	Currency   string   `json:"currency,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Confidence float64  `json:"confidence"`
}

// SourceRef identifies where an assignment payload was observed. The persister
// derives the external id from it when no assignment code is present.
type SourceRef struct {
	ChannelRef  string    `json:"channel_ref"`
	ChannelID   int64     `json:"channel_id"`
	MessageID   string    `json:"message_id"`
	MessageLink string    `json:"message_link,omitempty"`
	CID         string    `json:"cid,omitempty"`
	SeenAt      time.Time `json:"seen_at"`
}

// AssignmentPayload is what the extraction worker hands to the persister:
// the canonical record plus its source identity.
type AssignmentPayload struct {
	Assignment
	Source SourceRef `json:"source"`
}

// AssignmentRow is the persisted shape: payload fields plus the dedup key and
// lifecycle columns owned by the persister.
type AssignmentRow struct {
	Agency        string           `json:"agency_ref"`
	ExternalID    string           `json:"external_id"`
	Status        AssignmentStatus `json:"status"`
	FreshnessTier string           `json:"freshness_tier"`
	LastSeen      time.Time        `json:"last_seen"`
	BumpCount     int              `json:"bump_count"`
	Assignment
	Source SourceRef `json:"source"`
}

// CanonicalJSON renders the payload in the stable form stored on the
// extraction job row.
func (p *AssignmentPayload) CanonicalJSON() (json.RawMessage, error) {
	return json.Marshal(p)
}
