package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/models"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/source"
)

func testMeta() *models.ChannelMeta {
	return &models.ChannelMeta{
		ChannelRef: "@sgtuition",
		ChannelID:  1000123,
		AccessHash: 777,
		Title:      "SG Tuition Jobs",
	}
}

func TestBuildRowPlainPost(t *testing.T) {
	posted := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	msg := &tg.Message{
		ID:      52,
		Date:    int(posted.Unix()),
		Message: "Primary 5 Math @ Tampines",
	}

	row := buildRow(testMeta(), msg)

	assert.Equal(t, "@sgtuition", row.ChannelRef)
	assert.Equal(t, int64(1000123), row.ChannelID)
	assert.Equal(t, int64(52), row.MessageID)
	assert.Equal(t, "Primary 5 Math @ Tampines", row.RawText)
	assert.True(t, row.MessageDate.Equal(posted))
	assert.False(t, row.IsForward)
	assert.False(t, row.IsReply)
	assert.Nil(t, row.EditDate)
	assert.Nil(t, row.Entities)
}

func TestBuildRowForwardAndReply(t *testing.T) {
	msg := &tg.Message{ID: 60, Date: 1750000000, Message: "fwd"}
	msg.SetFromID(&tg.PeerUser{UserID: 42})

	fwd := tg.MessageFwdHeader{Date: 1749990000}
	fwd.SetFromID(&tg.PeerChannel{ChannelID: 2000456})
	fwd.SetChannelPost(17)
	fwd.SetFromName("Some Agency")
	msg.SetFwdFrom(fwd)

	reply := &tg.MessageReplyHeader{}
	reply.SetReplyToMsgID(58)
	msg.SetReplyTo(reply)

	row := buildRow(testMeta(), msg)

	assert.Equal(t, int64(42), row.SenderID)
	assert.True(t, row.IsForward)
	require.NotNil(t, row.Forward)
	assert.Equal(t, int64(2000456), row.Forward.FromChannelID)
	assert.Equal(t, int64(17), row.Forward.FromMessageID)
	assert.Equal(t, "Some Agency", row.Forward.FromName)
	assert.True(t, row.IsReply)
	assert.Equal(t, int64(58), row.ReplyToID)
}

func TestBuildRowEditAndCounters(t *testing.T) {
	edited := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	msg := &tg.Message{ID: 61, Date: 1750000000, Message: "edited text"}
	msg.SetEditDate(int(edited.Unix()))
	msg.SetViews(120)
	msg.SetForwards(4)
	msg.SetReplies(tg.MessageReplies{Replies: 3})

	row := buildRow(testMeta(), msg)

	require.NotNil(t, row.EditDate)
	assert.True(t, row.EditDate.Equal(edited))
	assert.Equal(t, 120, row.Views)
	assert.Equal(t, 4, row.Forwards)
	assert.Equal(t, 3, row.Replies)
}

func TestEntityListKeepsOffsetsAndURLs(t *testing.T) {
	msg := &tg.Message{ID: 62, Date: 1750000000, Message: "bold link"}
	msg.SetEntities([]tg.MessageEntityClass{
		&tg.MessageEntityBold{Offset: 0, Length: 4},
		&tg.MessageEntityTextURL{Offset: 5, Length: 4, URL: "https://forms.example/apply"},
	})

	row := buildRow(testMeta(), msg)

	ents, ok := row.Entities.([]map[string]any)
	require.True(t, ok)
	require.Len(t, ents, 2)
	assert.Equal(t, "messageEntityBold", ents[0]["type"])
	assert.Equal(t, 0, ents[0]["offset"])
	assert.Equal(t, 4, ents[0]["length"])
	assert.Equal(t, "https://forms.example/apply", ents[1]["url"])
}

func TestUsernameForms(t *testing.T) {
	valid := []struct{ ref, want string }{
		{"@sgtuition", "sgtuition"},
		{"sgtuition", "sgtuition"},
		{"t.me/sgtuition", "sgtuition"},
		{"https://t.me/sgtuition", "sgtuition"},
		{"https://t.me/sgtuition/", "sgtuition"},
		{"  @sgtuition ", "sgtuition"},
	}
	for _, tc := range valid {
		got, err := Username(tc.ref)
		require.NoError(t, err, tc.ref)
		assert.Equal(t, tc.want, got, tc.ref)
	}

	for _, ref := range []string{"", "@", "123456", "-1001234567", "t.me/sgtuition/52", "two words"} {
		_, err := Username(ref)
		assert.ErrorIs(t, err, source.ErrUnresolvable, ref)
	}
}

func TestClassifyFloodWait(t *testing.T) {
	err := classify(tgerr.New(420, "FLOOD_WAIT_3"))
	w, ok := source.AsWait(err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, w.Duration)
	assert.Equal(t, "flood", w.Kind)
}

func TestClassifySlowmodeWait(t *testing.T) {
	err := classify(tgerr.New(420, "SLOWMODE_WAIT_30"))
	w, ok := source.AsWait(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, w.Duration)
	assert.Equal(t, "slowmode", w.Kind)
}

func TestClassifyServerErrorIsTransient(t *testing.T) {
	err := classify(tgerr.New(500, "INTERNAL"))
	assert.True(t, source.IsTransient(err))
	_, ok := source.AsWait(err)
	assert.False(t, ok)
}

func TestClassifyClientErrorIsPermanent(t *testing.T) {
	err := classify(tgerr.New(400, "CHANNEL_INVALID"))
	assert.False(t, source.IsTransient(err))
	assert.True(t, tgerr.Is(err, "CHANNEL_INVALID"))
}

func TestClassifyConnectionErrorIsTransient(t *testing.T) {
	assert.True(t, source.IsTransient(classify(errors.New("read: connection reset"))))
}

func TestClassifyKeepsContextErrors(t *testing.T) {
	assert.ErrorIs(t, classify(context.Canceled), context.Canceled)
	assert.False(t, source.IsTransient(classify(context.Canceled)))
}
