package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ForwardMeta records where a forwarded message originally came from, when the
// source exposes it.
type ForwardMeta struct {
	FromChannelID int64  `json:"from_channel_id,omitempty"`
	FromMessageID int64  `json:"from_message_id,omitempty"`
	FromName      string `json:"from_name,omitempty"`
}

// RawMessage is one captured channel message, stored verbatim before any
// extraction. (channel_id, message_id) identifies it; raw_id is the store's
// surrogate key and is zero until persisted.
type RawMessage struct {
	RawID       int64        `json:"id,omitempty"`
	ChannelRef  string       `json:"channel_ref"`
	ChannelID   int64        `json:"channel_id"`
	MessageID   int64        `json:"message_id"`
	SenderID    int64        `json:"sender_id,omitempty"`
	RawText     string       `json:"raw_text"`
	Entities    any          `json:"entities,omitempty"`
	MessageDate time.Time    `json:"message_date"`
	EditDate    *time.Time   `json:"edit_date,omitempty"`
	IsForward   bool         `json:"is_forward"`
	IsReply     bool         `json:"is_reply"`
	ReplyToID   int64        `json:"reply_to_msg_id,omitempty"`
	Forward     *ForwardMeta `json:"forward_meta,omitempty"`
	Views       int          `json:"views,omitempty"`
	Forwards    int          `json:"forwards,omitempty"`
	Replies     int          `json:"replies,omitempty"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
	LastSeenAt  time.Time    `json:"last_seen_at"`
	Ingested    string       `json:"ingested_via,omitempty"`
}

// Key returns the natural identity of the message within its channel.
func (m *RawMessage) Key() string {
	return fmt.Sprintf("%d:%d", m.ChannelID, m.MessageID)
}

// Deleted reports whether the message has been observed as deleted upstream.
func (m *RawMessage) Deleted() bool {
	return m.DeletedAt != nil
}

// EntitiesJSON renders the entity payload for storage, or nil when absent.
func (m *RawMessage) EntitiesJSON() ([]byte, error) {
	if m.Entities == nil {
		return nil, nil
	}
	return json.Marshal(m.Entities)
}

// ChannelMeta caches per-channel facts resolved from the source: the numeric
// ID behind a ref, its title, and the agency it maps to.
type ChannelMeta struct {
	ChannelRef  string    `json:"channel_ref"`
	ChannelID   int64     `json:"channel_id"`
	AccessHash  int64     `json:"-"`
	Title       string    `json:"title,omitempty"`
	Username    string    `json:"username,omitempty"`
	Agency      string    `json:"agency,omitempty"`
	MemberCount int       `json:"member_count,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at"`
}
