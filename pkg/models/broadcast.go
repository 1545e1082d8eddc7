package models

import "time"

// BroadcastRef is the back-reference written after a collaborator accepts an
// assignment broadcast, letting later edits locate the downstream copy.
type BroadcastRef struct {
	Agency      string    `json:"agency"`
	ExternalID  string    `json:"external_id"`
	Destination string    `json:"destination"`
	RemoteID    string    `json:"remote_id,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}
