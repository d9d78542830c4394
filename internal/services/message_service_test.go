package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/ChatEngine/internal/errs"
	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/models"
)

func TestSendMessage_Validation(t *testing.T) {
	h := newHarness(t, 3)
	conv := h.direct(1, 2)
	images := make([]string, 11)
	for i := range images {
		images[i] = "a.jpg"
	}

	tests := []struct {
		name    string
		req     SendMessageRequest
		wantErr error
	}{
		{"no target", SendMessageRequest{Content: "x"}, ErrInvalidTarget},
		{"both targets", SendMessageRequest{ConversationID: &conv.ID, TargetUserID: ptr(uint(2)), Content: "x"}, ErrInvalidTarget},
		{"empty", SendMessageRequest{ConversationID: &conv.ID, Content: "   ", Images: []string{" "}}, ErrEmptyMessage},
		{"too many images", SendMessageRequest{ConversationID: &conv.ID, Images: images}, ErrTooManyImages},
		{"unknown conversation", SendMessageRequest{ConversationID: ptr(uint(999)), Content: "x"}, ErrConversationNotFound},
		{"reply to unknown", SendMessageRequest{ConversationID: &conv.ID, Content: "x", ReplyToID: ptr(int64(12345))}, ErrMessageNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Messages.SendMessage(h.ctx, 1, &tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := h.svc.Messages.SendMessage(h.ctx, 3, &SendMessageRequest{ConversationID: &conv.ID, Content: "x"})
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Equal(t, errs.Forbidden, errs.KindOf(err))
}

func TestSendMessage_EmptyFailsImagesOnlySucceeds(t *testing.T) {
	h := newHarness(t, 2)
	conv := h.direct(1, 2)

	_, err := h.svc.Messages.SendMessage(h.ctx, 1, &SendMessageRequest{ConversationID: &conv.ID})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))

	dto, err := h.svc.Messages.SendMessage(h.ctx, 1, &SendMessageRequest{
		ConversationID: &conv.ID,
		Images:         []string{"x.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x.jpg"}, dto.Images)
	require.NotNil(t, dto.Content)
	assert.Empty(t, *dto.Content)

	note, ok := lastNotification(h, 2)
	require.True(t, ok)
	assert.Equal(t, "[图片]", note.Payload.(NewMessageNotification).Preview)
}

func lastNotification(h *harness, userID uint) (notification, bool) {
	h.notes.mu.Lock()
	defer h.notes.mu.Unlock()
	for i := len(h.notes.sent) - 1; i >= 0; i-- {
		if h.notes.sent[i].RecipientID == userID {
			return h.notes.sent[i], true
		}
	}
	return notification{}, false
}

func TestSendMessage_ToUserCreatesDirect(t *testing.T) {
	h := newHarness(t, 2)

	dto, err := h.svc.Messages.SendMessage(h.ctx, 1, &SendMessageRequest{TargetUserID: ptr(uint(2)), Content: " hi "})
	require.NoError(t, err)
	assert.Equal(t, "hi", *dto.Content)

	conv := h.direct(2, 1)
	assert.Equal(t, conv.ID, dto.ConversationID)
	assert.Equal(t, 1, h.participant(conv.ID, 2).UnreadCount)
	assert.Zero(t, h.participant(conv.ID, 1).UnreadCount)

	assert.Equal(t, 1, h.bus.count(2, events.MessageReceived))
	assert.Equal(t, 1, h.bus.count(1, events.MessageReceived))
	assert.Equal(t, 1, h.notes.to(2, events.KindNewMessage))
	assert.Zero(t, h.notes.to(1, events.KindNewMessage))
}

func TestSendMessage_MutedRecipientNotNotified(t *testing.T) {
	h := newHarness(t, 3)
	group := h.group(1, 2, 3)

	_, err := h.svc.ReadState.ToggleMuteConversation(h.ctx, 3, group.ID)
	require.NoError(t, err)
	h.send(1, group.ID, "hello")

	assert.Equal(t, 1, h.notes.to(2, events.KindNewMessage))
	assert.Zero(t, h.notes.to(3, events.KindNewMessage))
	// 静音仍然计未读
	assert.Equal(t, 1, h.participant(group.ID, 3).UnreadCount)
}

func TestSendMessage_ChannelReadOnly(t *testing.T) {
	h := newHarness(t, 2)
	ch := h.channel(1, "announcements")
	_, err := h.svc.Conversations.JoinChannel(h.ctx, 2, ch.ID)
	require.NoError(t, err)

	_, err = h.svc.Messages.SendMessage(h.ctx, 2, &SendMessageRequest{ConversationID: &ch.ID, Content: "x"})
	assert.ErrorIs(t, err, ErrChannelReadOnly)

	h.send(1, ch.ID, "news")
	assert.Equal(t, 1, h.participant(ch.ID, 2).UnreadCount)
}

func TestSendMessage_Reply(t *testing.T) {
	h := newHarness(t, 3)
	a := h.direct(1, 2)
	b := h.direct(1, 3)
	original := h.send(2, a.ID, "question")
	other := h.send(3, b.ID, "elsewhere")

	_, err := h.svc.Messages.SendMessage(h.ctx, 1, &SendMessageRequest{ConversationID: &a.ID, Content: "x", ReplyToID: &other.ID})
	assert.ErrorIs(t, err, ErrReplyOutside)

	reply, err := h.svc.Messages.SendMessage(h.ctx, 1, &SendMessageRequest{ConversationID: &a.ID, Content: "answer", ReplyToID: &original.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, original.ID, reply.ReplyTo.ID)
	assert.Equal(t, "question", *reply.ReplyTo.Content)

	// 被回复消息删除后预览显示为已删除
	require.NoError(t, h.svc.Messages.DeleteMessage(h.ctx, 2, original.ID, DeleteForAll))
	page, err := h.svc.Query.Messages(h.ctx, 1, a.ID, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, page.Messages[0].ReplyTo)
	assert.True(t, page.Messages[0].ReplyTo.IsDeleted)
	assert.Nil(t, page.Messages[0].ReplyTo.Content)
}

func TestEditMessage(t *testing.T) {
	h := newHarness(t, 3)
	group := h.group(1, 2, 3)
	msg := h.send(2, group.ID, "draft")

	_, err := h.svc.Messages.EditMessage(h.ctx, 1, msg.ID, "x")
	assert.ErrorIs(t, err, ErrNotSender)

	_, err = h.svc.Messages.EditMessage(h.ctx, 2, msg.ID, "  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = h.svc.Messages.EditMessage(h.ctx, 2, 424242, "x")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	h.bus.reset()
	dto, err := h.svc.Messages.EditMessage(h.ctx, 2, msg.ID, " final ")
	require.NoError(t, err)
	assert.Equal(t, "final", *dto.Content)
	require.NotNil(t, dto.EditedAt)
	assert.Equal(t, 1, h.bus.count(3, events.MessageUpdated))

	sysID := func() int64 {
		msgs, err := h.store.Messages.ListVisible(h.ctx, group.ID, viewerOf(h.participant(group.ID, 1)), nil, 10)
		require.NoError(t, err)
		for _, m := range msgs {
			if m.Type == models.MessageSystem {
				return m.ID
			}
		}
		t.Fatal("no system message")
		return 0
	}()
	_, err = h.svc.Messages.EditMessage(h.ctx, 1, sysID, "x")
	assert.ErrorIs(t, err, ErrNotEditable)

	require.NoError(t, h.svc.Messages.DeleteMessage(h.ctx, 2, msg.ID, DeleteForAll))
	_, err = h.svc.Messages.EditMessage(h.ctx, 2, msg.ID, "again")
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestDeleteMessage_AllVersusMe(t *testing.T) {
	h := newHarness(t, 3)
	group := h.group(1, 2, 3)
	forAll := h.send(2, group.ID, "secret")
	forMe := h.send(2, group.ID, "visible to others")

	assert.ErrorIs(t, h.svc.Messages.DeleteMessage(h.ctx, 2, forAll.ID, "BOTH"), ErrInvalidDeleteType)
	assert.ErrorIs(t, h.svc.Messages.DeleteMessage(h.ctx, 3, forAll.ID, DeleteForAll), ErrNotSender)

	_, err := h.svc.Messages.TogglePinMessage(h.ctx, 1, forAll.ID)
	require.NoError(t, err)
	require.NoError(t, h.svc.Messages.DeleteMessage(h.ctx, 2, forAll.ID, DeleteForAll))
	require.NoError(t, h.svc.Messages.DeleteMessage(h.ctx, 2, forAll.ID, DeleteForAll), "tombstone delete is idempotent")
	require.NoError(t, h.svc.Messages.DeleteMessage(h.ctx, 3, forMe.ID, DeleteForMe))

	for _, viewer := range []uint{1, 2, 3} {
		page, err := h.svc.Query.Messages(h.ctx, viewer, group.ID, nil, 0)
		require.NoError(t, err)
		byID := make(map[int64]*MessageDTO)
		for _, m := range page.Messages {
			byID[m.ID] = m
		}

		tomb, ok := byID[forAll.ID]
		require.True(t, ok, "tombstone stays in place for %d", viewer)
		assert.True(t, tomb.IsDeleted)
		assert.Nil(t, tomb.Content)
		assert.Empty(t, tomb.Images)
		assert.False(t, tomb.IsPinned)

		mine, ok := byID[forMe.ID]
		if viewer == 3 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, "visible to others", *mine.Content)
	}

	// ME 的删除事件只发给本人
	assert.Equal(t, 2, h.bus.count(3, events.MessageDeleted))
	assert.Equal(t, 1, h.bus.count(2, events.MessageDeleted))
}

func TestDeleteMessage_AdminModeration(t *testing.T) {
	h := newHarness(t, 3)
	group := h.group(1, 2, 3)
	direct := h.direct(1, 2)
	g := h.send(2, group.ID, "spam")
	d := h.send(2, direct.ID, "private")

	require.NoError(t, h.svc.Messages.DeleteMessage(h.ctx, 1, g.ID, DeleteForAll))
	assert.True(t, h.message(g.ID).IsTombstone())

	// 私聊里只能删除自己的消息
	assert.ErrorIs(t, h.svc.Messages.DeleteMessage(h.ctx, 1, d.ID, DeleteForAll), ErrNotSender)
}

func TestForwardMessage(t *testing.T) {
	h := newHarness(t, 4)
	src := h.direct(1, 2)
	dst1 := h.direct(1, 3)
	dst2 := h.group(1, 2, 3)
	foreign := h.direct(2, 3)
	ch := h.channel(4, "read_only")
	_, err := h.svc.Conversations.JoinChannel(h.ctx, 1, ch.ID)
	require.NoError(t, err)

	original := h.send(2, src.ID, "look")

	_, err = h.svc.Messages.ForwardMessage(h.ctx, 1, original.ID, nil)
	assert.ErrorIs(t, err, ErrNoForwardTargets)
	_, err = h.svc.Messages.ForwardMessage(h.ctx, 1, original.ID, []uint{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrTooManyTargets)

	copies, err := h.svc.Messages.ForwardMessage(h.ctx, 1, original.ID, []uint{dst1.ID, dst2.ID, dst1.ID})
	require.NoError(t, err)
	require.Len(t, copies, 2)
	for _, c := range copies {
		assert.Equal(t, uint(1), c.SenderID)
		assert.Equal(t, "look", *c.Content)
		require.NotNil(t, c.ForwardedFromID)
		assert.Equal(t, original.ID, *c.ForwardedFromID)
	}
	assert.Equal(t, 1, h.participant(dst1.ID, 3).UnreadCount)

	// 转发的转发仍指向最初的消息
	again, err := h.svc.Messages.ForwardMessage(h.ctx, 3, copies[0].ID, []uint{foreign.ID})
	require.NoError(t, err)
	assert.Equal(t, original.ID, *again[0].ForwardedFromID)

	t.Run("skips targets the caller cannot post to", func(t *testing.T) {
		foreignBefore, err := h.store.Messages.LatestID(h.ctx, foreign.ID)
		require.NoError(t, err)
		chBefore, err := h.store.Messages.LatestID(h.ctx, ch.ID)
		require.NoError(t, err)

		out, err := h.svc.Messages.ForwardMessage(h.ctx, 1, original.ID, []uint{foreign.ID, dst1.ID, ch.ID, 404})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, dst1.ID, out[0].ConversationID)
		assert.Equal(t, 2, h.participant(dst1.ID, 3).UnreadCount)

		foreignAfter, err := h.store.Messages.LatestID(h.ctx, foreign.ID)
		require.NoError(t, err)
		assert.Equal(t, foreignBefore, foreignAfter)
		chAfter, err := h.store.Messages.LatestID(h.ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, chBefore, chAfter)

		out, err = h.svc.Messages.ForwardMessage(h.ctx, 1, original.ID, []uint{foreign.ID, ch.ID})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	require.NoError(t, h.svc.Messages.DeleteMessage(h.ctx, 2, original.ID, DeleteForAll))
	_, err = h.svc.Messages.ForwardMessage(h.ctx, 1, original.ID, []uint{dst1.ID})
	assert.ErrorIs(t, err, ErrMessageDeleted)
}

func TestIncrementMessageViews(t *testing.T) {
	h := newHarness(t, 3)
	ch := h.channel(1, "views_room")
	group := h.group(1, 2, 3)
	post := h.send(1, ch.ID, "post")
	chat := h.send(1, group.ID, "chat")

	h.svc.Messages.IncrementMessageViews(h.ctx, 2, []int64{post.ID, post.ID, chat.ID, 999})
	h.svc.Messages.IncrementMessageViews(h.ctx, 2, []int64{post.ID})
	h.svc.Messages.IncrementMessageViews(h.ctx, 3, []int64{post.ID})

	assert.Equal(t, int64(2), h.message(post.ID).ViewsCount)
	assert.Zero(t, h.message(chat.ID).ViewsCount)

	require.NoError(t, h.svc.Messages.DeleteMessage(h.ctx, 1, post.ID, DeleteForAll))
	h.svc.Messages.IncrementMessageViews(h.ctx, 1, []int64{post.ID})
	assert.Equal(t, int64(2), h.message(post.ID).ViewsCount)
}

func TestTogglePinMessage(t *testing.T) {
	h := newHarness(t, 3)
	group := h.group(1, 2, 3)
	ch := h.channel(1, "pin_room")
	msg := h.send(2, group.ID, "important")
	post := h.send(1, ch.ID, "post")

	_, err := h.svc.Messages.TogglePinMessage(h.ctx, 2, msg.ID)
	assert.ErrorIs(t, err, ErrAdminRequired)

	dto, err := h.svc.Messages.TogglePinMessage(h.ctx, 1, msg.ID)
	require.NoError(t, err)
	assert.True(t, dto.IsPinned)

	latest, err := h.store.Messages.LatestID(h.ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionMessagePinned, h.message(latest).SystemAction)

	pinned, err := h.svc.Query.PinnedMessages(h.ctx, 3, group.ID)
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, msg.ID, pinned[0].ID)

	dto, err = h.svc.Messages.TogglePinMessage(h.ctx, 1, msg.ID)
	require.NoError(t, err)
	assert.False(t, dto.IsPinned)
	latest, err = h.store.Messages.LatestID(h.ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionMessageUnpinned, h.message(latest).SystemAction)

	// 频道置顶不产生系统消息
	_, err = h.svc.Messages.TogglePinMessage(h.ctx, 1, post.ID)
	require.NoError(t, err)
	latest, err = h.store.Messages.LatestID(h.ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, post.ID, latest)

	// 私聊双方都可以置顶
	direct := h.direct(2, 3)
	d := h.send(3, direct.ID, "note")
	dto, err = h.svc.Messages.TogglePinMessage(h.ctx, 2, d.ID)
	require.NoError(t, err)
	assert.True(t, dto.IsPinned)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("字", 100)
	got := preview(&MessageDTO{Content: &long})
	assert.Equal(t, 81, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))

	short := "hi"
	assert.Equal(t, "hi", preview(&MessageDTO{Content: &short}))
	assert.Equal(t, "", preview(&MessageDTO{}))
}
