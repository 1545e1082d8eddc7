package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source"
)

// Resolve maps a channel ref to live metadata, hitting the network once per
// ref for the lifetime of the client.
func (c *Client) Resolve(ctx context.Context, ref string) (*models.ChannelMeta, error) {
	if meta, ok := c.byRef.Load(ref); ok {
		return meta, nil
	}
	username, err := Username(ref)
	if err != nil {
		return nil, err
	}

	peer, err := c.api.ContactsResolveUsername(ctx, username)
	if err != nil {
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
			return nil, fmt.Errorf("%w: %q", source.ErrUnresolvable, ref)
		}
		return nil, classify(err)
	}

	var channel *tg.Channel
	for _, chat := range peer.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			channel = ch
			break
		}
	}
	if channel == nil {
		return nil, fmt.Errorf("%w: %q is not a channel", source.ErrUnresolvable, ref)
	}

	hash, _ := channel.GetAccessHash()
	meta := &models.ChannelMeta{
		ChannelRef: ref,
		ChannelID:  channel.ID,
		AccessHash: hash,
		Title:      channel.Title,
		ResolvedAt: time.Now().UTC(),
	}
	if u, ok := channel.GetUsername(); ok {
		meta.Username = u
	}
	if n, ok := channel.GetParticipantsCount(); ok {
		meta.MemberCount = n
	}
	c.byRef.Store(ref, meta)
	c.byID.Store(meta.ChannelID, meta)
	c.logger.Info("resolved channel",
		"ref", ref, "channel_id", meta.ChannelID, "title", meta.Title)
	return meta, nil
}

// Username extracts the public username from a channel ref. Accepted forms:
// @name, name, t.me/name, https://t.me/name. Bare numeric IDs are rejected:
// without an access hash from a prior resolution they cannot be addressed.
func Username(ref string) (string, error) {
	name := strings.TrimSpace(ref)
	for _, p := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(name, p) {
			name = strings.TrimPrefix(name, p)
			break
		}
	}
	name = strings.TrimPrefix(name, "@")
	name = strings.TrimSuffix(name, "/")
	if name == "" || strings.ContainsAny(name, "/ ") {
		return "", fmt.Errorf("%w: %q", source.ErrUnresolvable, ref)
	}
	if _, err := strconv.ParseInt(name, 10, 64); err == nil {
		return "", fmt.Errorf("%w: numeric ref %q has no username", source.ErrUnresolvable, ref)
	}
	return name, nil
}
