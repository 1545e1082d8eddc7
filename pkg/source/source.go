// Package source defines the contract between the collector and the message
// source: a client that can resolve channels, page history and deliver live
// events, plus the wait/transient error classification and the retry wrapper
// the ingest loops share.
package source

import (
	"context"
	"time"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

// HistoryPage addresses one page of channel history, newest first.
type HistoryPage struct {
	// OffsetID restricts the page to messages with id < OffsetID.
	// Zero starts at the newest message.
	OffsetID int64
	// Until, when set and OffsetID is zero, starts the page at the newest
	// message not after this instant.
	Until time.Time
	// Limit caps the page size.
	Limit int
}

// Events carries the live-stream callbacks. OnMessage receives both new
// posts and edits (edits have EditDate set); OnDelete receives tombstone
// notifications. Handlers must be fail-soft: a panic or error inside one
// must not tear down the subscription.
type Events struct {
	OnMessage func(ctx context.Context, msg *models.RawMessage)
	OnDelete  func(ctx context.Context, channelID int64, messageIDs []int64)
}

// Client is a long-lived authenticated connection to the message source.
type Client interface {
	// Run connects, authenticates, and executes f while the connection is
	// alive. Resolve, History and event delivery only work inside f.
	Run(ctx context.Context, f func(ctx context.Context) error) error

	// Resolve maps a channel reference to its metadata. The result is cached
	// for the lifetime of the client.
	Resolve(ctx context.Context, ref string) (*models.ChannelMeta, error)

	// History returns one page of messages for a resolved channel, newest
	// first. Service messages are omitted.
	History(ctx context.Context, meta *models.ChannelMeta, page HistoryPage) ([]models.RawMessage, error)

	// Subscribe registers the live event callbacks. Must be called before
	// Run; events are delivered only for channels that have been Resolved.
	Subscribe(events Events)
}
