package models

import "time"

// AssignmentStatus is the assignment lifecycle state.
type AssignmentStatus string

// Assignment lifecycle states. DELETED is terminal.
const (
	StatusPending AssignmentStatus = "PENDING"
	StatusOpen    AssignmentStatus = "OPEN"
	StatusClosed  AssignmentStatus = "CLOSED"
	StatusHidden  AssignmentStatus = "HIDDEN"
	StatusExpired AssignmentStatus = "EXPIRED"
	StatusDeleted AssignmentStatus = "DELETED"
)

// transitions lists the legal moves of the assignment state machine:
// PENDING → OPEN → {CLOSED, HIDDEN, EXPIRED} → DELETED, with the reopen pairs
// OPEN↔CLOSED and OPEN↔HIDDEN. Same-state writes are always legal (idempotent
// upserts).
var transitions = map[AssignmentStatus][]AssignmentStatus{
	StatusPending: {StatusOpen},
	StatusOpen:    {StatusClosed, StatusHidden, StatusExpired},
	StatusClosed:  {StatusOpen, StatusDeleted},
	StatusHidden:  {StatusOpen, StatusDeleted},
	StatusExpired: {StatusDeleted},
	StatusDeleted: {},
}

// CanTransition reports whether moving from → to is legal.
func CanTransition(from, to AssignmentStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status value.
func (s AssignmentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transitions are possible.
func (s AssignmentStatus) Terminal() bool {
	return s == StatusDeleted
}

// LearningModeKind enumerates the supported lesson delivery modes.
type LearningModeKind string

const (
	ModeOnline     LearningModeKind = "Online"
	ModeFaceToFace LearningModeKind = "Face-to-Face"
	ModeHybrid     LearningModeKind = "Hybrid"
)

// LearningMode wraps the mode in an object so unknown values can be nulled
// without losing the field.
type LearningMode struct {
	Mode *LearningModeKind `json:"mode"`
}

// KnownMode reports whether k is one of the three supported modes.
func KnownMode(k LearningModeKind) bool {
	switch k {
	case ModeOnline, ModeFaceToFace, ModeHybrid:
		return true
	}
	return false
}

// IsOnline reports whether the mode is set and Online.
func (m LearningMode) IsOnline() bool {
	return m.Mode != nil && *m.Mode == ModeOnline
}

// FreshnessThresholds maps tier boundaries (measured from last_seen) to tier
// labels. Zero values fall back to the defaults.
type FreshnessThresholds struct {
	Fresh  time.Duration // < Fresh  → "fresh"
	Recent time.Duration // < Recent → "recent"
	Aging  time.Duration // < Aging  → "aging", else "stale"
}

// DefaultFreshnessThresholds returns the built-in tier boundaries.
func DefaultFreshnessThresholds() FreshnessThresholds {
	return FreshnessThresholds{
		Fresh:  6 * time.Hour,
		Recent: 24 * time.Hour,
		Aging:  72 * time.Hour,
	}
}

// Tier derives the freshness band for an assignment last seen at lastSeen.
func (t FreshnessThresholds) Tier(now, lastSeen time.Time) string {
	if t.Fresh == 0 || t.Recent == 0 || t.Aging == 0 {
		t = DefaultFreshnessThresholds()
	}
	age := now.Sub(lastSeen)
	switch {
	case age < t.Fresh:
		return "fresh"
	case age < t.Recent:
		return "recent"
	case age < t.Aging:
		return "aging"
	default:
		return "stale"
	}
}
