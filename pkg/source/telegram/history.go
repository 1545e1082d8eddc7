package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source"
)

// History fetches one page of channel messages, newest first. Until is
// honored server-side on the first page only; callers walk older pages by
// OffsetID from there.
func (c *Client) History(ctx context.Context, meta *models.ChannelMeta, page source.HistoryPage) ([]models.RawMessage, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 100
	}
	req := &tg.MessagesGetHistoryRequest{
		Peer: &tg.InputPeerChannel{
			ChannelID:  meta.ChannelID,
			AccessHash: meta.AccessHash,
		},
		OffsetID: int(page.OffsetID),
		Limit:    limit,
	}
	if page.OffsetID == 0 && !page.Until.IsZero() {
		// offset_date returns strictly older messages, so nudge past the
		// boundary to include one posted at that exact second.
		req.OffsetDate = int(page.Until.Unix()) + 1
	}

	res, err := c.api.MessagesGetHistory(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	var batch []tg.MessageClass
	switch v := res.(type) {
	case *tg.MessagesChannelMessages:
		batch = v.Messages
	case *tg.MessagesMessagesSlice:
		batch = v.Messages
	case *tg.MessagesMessages:
		batch = v.Messages
	default:
		return nil, fmt.Errorf("history of %s: unexpected response %T", meta.ChannelRef, res)
	}

	rows := make([]models.RawMessage, 0, len(batch))
	for _, mc := range batch {
		msg, ok := mc.(*tg.Message)
		if !ok {
			continue // service messages and holes
		}
		rows = append(rows, buildRow(meta, msg))
	}
	return rows, nil
}

// buildRow converts a wire message into the storage row shape. Bookkeeping
// stamps (last_seen_at, ingested_via) are the collector's job.
func buildRow(meta *models.ChannelMeta, msg *tg.Message) models.RawMessage {
	row := models.RawMessage{
		ChannelRef:  meta.ChannelRef,
		ChannelID:   meta.ChannelID,
		MessageID:   int64(msg.ID),
		RawText:     msg.Message,
		MessageDate: time.Unix(int64(msg.Date), 0).UTC(),
	}
	if from, ok := msg.GetFromID(); ok {
		row.SenderID = peerID(from)
	}
	if edit, ok := msg.GetEditDate(); ok {
		t := time.Unix(int64(edit), 0).UTC()
		row.EditDate = &t
	}
	if fwd, ok := msg.GetFwdFrom(); ok {
		row.IsForward = true
		row.Forward = forwardMeta(fwd)
	}
	if reply, ok := msg.GetReplyTo(); ok {
		if h, ok := reply.(*tg.MessageReplyHeader); ok {
			if id, ok := h.GetReplyToMsgID(); ok {
				row.IsReply = true
				row.ReplyToID = int64(id)
			}
		}
	}
	if v, ok := msg.GetViews(); ok {
		row.Views = v
	}
	if v, ok := msg.GetForwards(); ok {
		row.Forwards = v
	}
	if r, ok := msg.GetReplies(); ok {
		row.Replies = r.Replies
	}
	if ents, ok := msg.GetEntities(); ok && len(ents) > 0 {
		row.Entities = entityList(ents)
	}
	return row
}

func forwardMeta(fwd tg.MessageFwdHeader) *models.ForwardMeta {
	fm := &models.ForwardMeta{}
	if from, ok := fwd.GetFromID(); ok {
		fm.FromChannelID = peerID(from)
	}
	if post, ok := fwd.GetChannelPost(); ok {
		fm.FromMessageID = int64(post)
	}
	if name, ok := fwd.GetFromName(); ok {
		fm.FromName = name
	}
	return fm
}

func peerID(p tg.PeerClass) int64 {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID
	case *tg.PeerChat:
		return v.ChatID
	case *tg.PeerChannel:
		return v.ChannelID
	}
	return 0
}

// entityList flattens formatting entities to plain maps so they survive JSON
// round-trips without wire types.
func entityList(ents []tg.MessageEntityClass) []map[string]any {
	out := make([]map[string]any, 0, len(ents))
	for _, e := range ents {
		m := map[string]any{
			"type":   e.TypeName(),
			"offset": e.GetOffset(),
			"length": e.GetLength(),
		}
		if u, ok := e.(*tg.MessageEntityTextURL); ok {
			m["url"] = u.URL
		}
		out = append(out, m)
	}
	return out
}
