package telegram

import (
	"context"

	"github.com/gotd/td/tg"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
)

func (c *Client) onNewMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	c.deliver(ctx, e, u.Message)
	return nil
}

func (c *Client) onEditMessage(ctx context.Context, e tg.Entities, u *tg.UpdateEditChannelMessage) error {
	c.deliver(ctx, e, u.Message)
	return nil
}

func (c *Client) onDeleteMessages(ctx context.Context, _ tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
	if c.events.OnDelete == nil {
		return nil
	}
	if _, ok := c.byID.Load(u.ChannelID); !ok {
		return nil
	}
	ids := make([]int64, len(u.Messages))
	for i, id := range u.Messages {
		ids[i] = int64(id)
	}
	c.safeDelete(ctx, u.ChannelID, ids)
	return nil
}

// deliver converts a channel post to a row and hands it to the subscriber.
// Posts from channels that were never resolved are dropped: the collector
// resolves its tracked set before subscribing, so anything else is noise
// from the account's other memberships.
func (c *Client) deliver(ctx context.Context, e tg.Entities, mc tg.MessageClass) {
	if c.events.OnMessage == nil {
		return
	}
	msg, ok := mc.(*tg.Message)
	if !ok || msg.Out {
		return
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return
	}
	meta, ok := c.byID.Load(peer.ChannelID)
	if !ok {
		return
	}
	meta = c.refreshTitle(meta, e)
	row := buildRow(meta, msg)
	c.safeMessage(ctx, &row)
}

// refreshTitle picks up channel renames from the update's entity bag without
// mutating the cached value other goroutines may hold.
func (c *Client) refreshTitle(meta *models.ChannelMeta, e tg.Entities) *models.ChannelMeta {
	ch, ok := e.Channels[meta.ChannelID]
	if !ok || ch.Title == meta.Title {
		return meta
	}
	updated := *meta
	updated.Title = ch.Title
	c.byID.Store(updated.ChannelID, &updated)
	c.byRef.Store(updated.ChannelRef, &updated)
	return &updated
}

// A panicking subscriber must not tear down the update loop.
func (c *Client) safeMessage(ctx context.Context, row *models.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked",
				"channel", row.ChannelRef, "message_id", row.MessageID, "panic", r)
		}
	}()
	c.events.OnMessage(ctx, row)
}

func (c *Client) safeDelete(ctx context.Context, channelID int64, ids []int64) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("delete handler panicked",
				"channel_id", channelID, "panic", r)
		}
	}()
	c.events.OnDelete(ctx, channelID, ids)
}
