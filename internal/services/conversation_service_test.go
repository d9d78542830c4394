package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Gopher0727/ChatEngine/internal/errs"
	"github.com/Gopher0727/ChatEngine/internal/events"
	"github.com/Gopher0727/ChatEngine/internal/models"
)

func TestCreateDirect(t *testing.T) {
	h := newHarness(t, 3)

	_, err := h.svc.Conversations.CreateDirect(h.ctx, 1, 1)
	assert.ErrorIs(t, err, ErrSelfConversation)

	_, err = h.svc.Conversations.CreateDirect(h.ctx, 1, 99)
	assert.ErrorIs(t, err, ErrUserNotFound)

	first := h.direct(1, 2)
	again := h.direct(1, 2)
	reversed := h.direct(2, 1)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ID, reversed.ID)
	assert.Equal(t, models.ConversationDirect, first.Type)

	count, err := h.store.Participants.CountActive(h.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// 只有第一次创建时推送
	assert.Equal(t, 1, h.bus.count(1, events.ConversationUpdated))
	assert.Equal(t, 1, h.bus.count(2, events.ConversationUpdated))
}

func TestCreateDirect_UnhidesDeletedConversation(t *testing.T) {
	h := newHarness(t, 2)
	conv := h.direct(1, 2)
	h.send(2, conv.ID, "hello")

	require.NoError(t, h.svc.Conversations.DeleteConversation(h.ctx, 1, conv.ID, DeleteForMe))
	assert.True(t, h.participant(conv.ID, 1).IsHidden)

	h.direct(1, 2)
	p := h.participant(conv.ID, 1)
	assert.False(t, p.IsHidden)
	// 历史仍然是清空的
	page, err := h.svc.Query.Messages(h.ctx, 1, conv.ID, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestDirect_MembershipIsFixed(t *testing.T) {
	h := newHarness(t, 3)
	conv := h.direct(1, 2)

	assert.ErrorIs(t, h.svc.Conversations.LeaveConversation(h.ctx, 1, conv.ID, nil), ErrDirectConversation)
	assert.ErrorIs(t, h.svc.Conversations.KickFromConversation(h.ctx, 1, conv.ID, 2), ErrDirectConversation)
	assert.ErrorIs(t, h.svc.Conversations.AddParticipantToConversation(h.ctx, 1, conv.ID, 3), ErrDirectConversation)
	_, err := h.svc.Conversations.JoinChannel(h.ctx, 3, conv.ID)
	assert.ErrorIs(t, err, ErrNotChannel)

	count, err := h.store.Participants.CountActive(h.ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCreateGroup(t *testing.T) {
	h := newHarness(t, 4)

	tests := []struct {
		name    string
		req     CreateGroupRequest
		wantErr error
	}{
		{"blank title", CreateGroupRequest{ParticipantIDs: []uint{2, 3}, Title: "  "}, ErrTitleRequired},
		{"one other member", CreateGroupRequest{ParticipantIDs: []uint{1, 2, 2}, Title: "g"}, ErrNotEnoughParticipants},
		{"unknown user", CreateGroupRequest{ParticipantIDs: []uint{2, 42}, Title: "g"}, ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Conversations.CreateGroup(h.ctx, 1, &tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	conv, err := h.svc.Conversations.CreateGroup(h.ctx, 1, &CreateGroupRequest{
		ParticipantIDs: []uint{2, 3, 3, 1},
		Title:          " Weekend ",
	})
	require.NoError(t, err)
	assert.Equal(t, "Weekend", conv.Title)
	assert.Equal(t, models.RoleAdmin, h.participant(conv.ID, 1).Role)
	assert.Equal(t, models.RoleMember, h.participant(conv.ID, 2).Role)
	assert.Equal(t, models.RoleMember, h.participant(conv.ID, 3).Role)

	latest, err := h.store.Messages.LatestID(h.ctx, conv.ID)
	require.NoError(t, err)
	sys := h.message(latest)
	assert.Equal(t, models.MessageSystem, sys.Type)
	assert.Equal(t, models.ActionGroupCreated, sys.SystemAction)

	// 系统消息不计未读
	assert.Zero(t, h.participant(conv.ID, 2).UnreadCount)
	assert.Equal(t, 1, h.bus.count(3, events.MessageReceived))
}

func TestCreateChannel_Slug(t *testing.T) {
	h := newHarness(t, 2)

	conv, err := h.svc.Conversations.CreateChannel(h.ctx, 1, &CreateChannelRequest{
		Title: "News",
		Slug:  ptr("  @Daily_News "),
	})
	require.NoError(t, err)
	require.NotNil(t, conv.Slug)
	assert.Equal(t, "daily_news", *conv.Slug)
	assert.True(t, conv.Discoverable())

	_, err = h.svc.Conversations.CreateChannel(h.ctx, 2, &CreateChannelRequest{Title: "Copy", Slug: ptr("DAILY_NEWS")})
	assert.ErrorIs(t, err, ErrSlugTaken)

	_, err = h.svc.Conversations.CreateChannel(h.ctx, 2, &CreateChannelRequest{Title: "Bad", Slug: ptr("a!")})
	assert.ErrorIs(t, err, ErrInvalidSlug)

	_, err = h.svc.Conversations.CreateChannel(h.ctx, 2, &CreateChannelRequest{Title: " "})
	assert.ErrorIs(t, err, ErrTitleRequired)

	private, err := h.svc.Conversations.CreateChannel(h.ctx, 2, &CreateChannelRequest{Title: "Private", Slug: ptr(" ")})
	require.NoError(t, err)
	assert.Nil(t, private.Slug)

	ok, err := h.svc.Conversations.IsSlugAvailable(h.ctx, "@daily_news")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.svc.Conversations.IsSlugAvailable(h.ctx, "weekly_news")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = h.svc.Conversations.IsSlugAvailable(h.ctx, "x")
	assert.ErrorIs(t, err, ErrInvalidSlug)
}

func TestUpdateConversation(t *testing.T) {
	h := newHarness(t, 3)
	group := h.group(1, 2, 3)
	direct := h.direct(1, 2)

	_, err := h.svc.Conversations.UpdateConversation(h.ctx, 2, group.ID, &UpdateConversationRequest{Title: ptr("x")})
	assert.ErrorIs(t, err, ErrAdminRequired)

	_, err = h.svc.Conversations.UpdateConversation(h.ctx, 1, direct.ID, &UpdateConversationRequest{Title: ptr("x")})
	assert.ErrorIs(t, err, ErrDirectConversation)

	_, err = h.svc.Conversations.UpdateConversation(h.ctx, 1, group.ID, &UpdateConversationRequest{Title: ptr(" ")})
	assert.ErrorIs(t, err, ErrTitleRequired)

	updated, err := h.svc.Conversations.UpdateConversation(h.ctx, 1, group.ID, &UpdateConversationRequest{
		Title:       ptr("Renamed"),
		Description: ptr("about"),
		Slug:        ptr("Renamed_Group"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, "about", updated.Description)
	require.NotNil(t, updated.Slug)
	assert.Equal(t, "renamed_group", *updated.Slug)

	latest, err := h.store.Messages.LatestID(h.ctx, group.ID)
	require.NoError(t, err)
	sys := h.message(latest)
	assert.Equal(t, models.ActionTitleChanged, sys.SystemAction)
	require.NotNil(t, sys.Content)
	assert.Equal(t, "Renamed", *sys.Content)

	// 空 slug 清除
	updated, err = h.svc.Conversations.UpdateConversation(h.ctx, 1, group.ID, &UpdateConversationRequest{Slug: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, updated.Slug)
}

func TestJoinChannel(t *testing.T) {
	h := newHarness(t, 3)
	public := h.channel(1, "open_room")
	private := h.channel(1, "")
	group := h.group(1, 2, 3)

	_, err := h.svc.Conversations.JoinChannel(h.ctx, 2, group.ID)
	assert.ErrorIs(t, err, ErrInviteRequired)

	_, err = h.svc.Conversations.JoinChannel(h.ctx, 2, private.ID)
	assert.ErrorIs(t, err, ErrPrivateChannel)

	_, err = h.svc.Conversations.JoinChannel(h.ctx, 2, 999)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = h.svc.Conversations.JoinChannel(h.ctx, 2, public.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, h.participant(public.ID, 2).Role)

	_, err = h.svc.Conversations.JoinChannel(h.ctx, 2, public.ID)
	assert.ErrorIs(t, err, ErrAlreadyMember)

	// 退出后重新加入，状态重置
	_, err = h.svc.ReadState.ToggleMuteConversation(h.ctx, 2, public.ID)
	require.NoError(t, err)
	require.NoError(t, h.svc.Conversations.LeaveConversation(h.ctx, 2, public.ID, nil))
	_, err = h.svc.Conversations.JoinChannel(h.ctx, 2, public.ID)
	require.NoError(t, err)
	p := h.participant(public.ID, 2)
	assert.True(t, p.Active())
	assert.Nil(t, p.MutedUntil)
}

func TestKickFromConversation(t *testing.T) {
	h := newHarness(t, 5)
	group := h.group(1, 2, 3, 4)

	assert.ErrorIs(t, h.svc.Conversations.KickFromConversation(h.ctx, 2, group.ID, 3), ErrAdminRequired)
	assert.ErrorIs(t, h.svc.Conversations.KickFromConversation(h.ctx, 1, group.ID, 1), ErrCannotKickSelf)
	assert.ErrorIs(t, h.svc.Conversations.KickFromConversation(h.ctx, 1, group.ID, 5), ErrParticipantNotFound)
	assert.ErrorIs(t, h.svc.Conversations.KickFromConversation(h.ctx, 5, group.ID, 2), ErrNotParticipant)

	require.NoError(t, h.store.Participants.Update(h.ctx, h.participant(group.ID, 4).ID, map[string]any{"role": models.RoleAdmin}))
	assert.ErrorIs(t, h.svc.Conversations.KickFromConversation(h.ctx, 1, group.ID, 4), ErrCannotKickAdmin)

	h.bus.reset()
	require.NoError(t, h.svc.Conversations.KickFromConversation(h.ctx, 1, group.ID, 3))
	assert.False(t, h.participant(group.ID, 3).Active())
	assert.Equal(t, 1, h.bus.count(3, events.ConversationDeleted))
	assert.Equal(t, 1, h.bus.count(2, events.ConversationUpdated))

	latest, err := h.store.Messages.LatestID(h.ctx, group.ID)
	require.NoError(t, err)
	sys := h.message(latest)
	assert.Equal(t, models.ActionParticipantKicked, sys.SystemAction)
	require.NotNil(t, sys.Content)
	assert.Equal(t, "3", *sys.Content)

	// 被移除的成员不能再操作
	_, err = h.svc.Messages.SendMessage(h.ctx, 3, &SendMessageRequest{ConversationID: &group.ID, Content: "hi"})
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestLeaveConversation_AdminTransfer(t *testing.T) {
	h := newHarness(t, 3)
	group := h.group(1, 2, 3)

	err := h.svc.Conversations.LeaveConversation(h.ctx, 1, group.ID, nil)
	assert.ErrorIs(t, err, ErrNewAdminRequired)
	assert.Equal(t, errs.InvalidArgument, errs.KindOf(err))

	assert.ErrorIs(t, h.svc.Conversations.LeaveConversation(h.ctx, 1, group.ID, ptr(uint(1))), ErrInvalidNewAdmin)
	assert.ErrorIs(t, h.svc.Conversations.LeaveConversation(h.ctx, 1, group.ID, ptr(uint(99))), ErrInvalidNewAdmin)

	require.NoError(t, h.svc.Conversations.LeaveConversation(h.ctx, 1, group.ID, ptr(uint(2))))
	assert.False(t, h.participant(group.ID, 1).Active())
	assert.Equal(t, models.RoleAdmin, h.participant(group.ID, 2).Role)

	admins, err := h.store.Participants.CountActiveAdmins(h.ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), admins)

	msgs, err := h.store.Messages.ListVisible(h.ctx, group.ID, viewerOf(h.participant(group.ID, 3)), nil, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, models.ActionParticipantLeft, msgs[0].SystemAction)
	assert.Equal(t, models.ActionAdminTransferred, msgs[1].SystemAction)

	// 普通成员退出不需要指定
	require.NoError(t, h.svc.Conversations.LeaveConversation(h.ctx, 3, group.ID, nil))
	assert.ErrorIs(t, h.svc.Conversations.LeaveConversation(h.ctx, 3, group.ID, nil), ErrNotParticipant)
}

func TestLeaveConversation_ConcurrentAdmins(t *testing.T) {
	h := newHarness(t, 3)
	group := h.group(1, 2, 3)
	require.NoError(t, h.store.Participants.Update(h.ctx, h.participant(group.ID, 2).ID, map[string]any{"role": models.RoleAdmin}))

	var (
		wg      sync.WaitGroup
		results = make([]error, 2)
	)
	for i, admin := range []uint{1, 2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.svc.Conversations.LeaveConversation(h.ctx, admin, group.ID, nil)
		}()
	}
	wg.Wait()

	succeeded, refused := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, ErrNewAdminRequired):
			refused++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, refused)

	admins, err := h.store.Participants.CountActiveAdmins(h.ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), admins)
}

func TestLeaveConversation_SoleMember(t *testing.T) {
	h := newHarness(t, 1)
	ch := h.channel(1, "solo_room")
	require.NoError(t, h.svc.Conversations.LeaveConversation(h.ctx, 1, ch.ID, nil))

	count, err := h.store.Participants.CountActive(h.ctx, ch.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAddParticipantToConversation(t *testing.T) {
	h := newHarness(t, 4)
	group := h.group(1, 2, 3)

	assert.ErrorIs(t, h.svc.Conversations.AddParticipantToConversation(h.ctx, 2, group.ID, 4), ErrAdminRequired)
	assert.ErrorIs(t, h.svc.Conversations.AddParticipantToConversation(h.ctx, 1, group.ID, 42), ErrUserNotFound)
	assert.ErrorIs(t, h.svc.Conversations.AddParticipantToConversation(h.ctx, 1, group.ID, 2), ErrAlreadyMember)

	require.NoError(t, h.svc.Conversations.AddParticipantToConversation(h.ctx, 1, group.ID, 4))
	assert.Equal(t, models.RoleMember, h.participant(group.ID, 4).Role)

	latest, err := h.store.Messages.LatestID(h.ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionParticipantAdded, h.message(latest).SystemAction)
}

func TestDeleteConversation(t *testing.T) {
	h := newHarness(t, 3)
	group := h.group(1, 2, 3)
	h.send(1, group.ID, "one")
	h.send(1, group.ID, "two")

	assert.ErrorIs(t, h.svc.Conversations.DeleteConversation(h.ctx, 2, group.ID, "SOME"), ErrInvalidDeleteType)
	assert.ErrorIs(t, h.svc.Conversations.DeleteConversation(h.ctx, 1, group.ID, DeleteForMe), ErrAdminCannotClear)
	assert.ErrorIs(t, h.svc.Conversations.DeleteConversation(h.ctx, 2, group.ID, DeleteForAll), ErrAdminRequired)

	t.Run("me clears history and hides", func(t *testing.T) {
		require.NoError(t, h.svc.Conversations.DeleteConversation(h.ctx, 2, group.ID, DeleteForMe))
		p := h.participant(group.ID, 2)
		assert.True(t, p.IsHidden)
		assert.Zero(t, p.UnreadCount)

		list, err := h.svc.Query.Conversations(h.ctx, 2, false)
		require.NoError(t, err)
		assert.Empty(t, list)

		// 其他成员不受影响
		page, err := h.svc.Query.Messages(h.ctx, 3, group.ID, nil, 0)
		require.NoError(t, err)
		assert.Len(t, page.Messages, 3)

		h.send(1, group.ID, "three")
		page, err = h.svc.Query.Messages(h.ctx, 2, group.ID, nil, 0)
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "three", *page.Messages[0].Content)
		assert.False(t, h.participant(group.ID, 2).IsHidden)
	})

	t.Run("all removes everything", func(t *testing.T) {
		h.bus.reset()
		require.NoError(t, h.svc.Conversations.DeleteConversation(h.ctx, 1, group.ID, DeleteForAll))
		_, err := h.svc.Query.Conversation(h.ctx, 1, group.ID)
		assert.ErrorIs(t, err, ErrConversationNotFound)
		for _, id := range []uint{1, 2, 3} {
			assert.Equal(t, 1, h.bus.count(id, events.ConversationDeleted))
		}
	})
}

func TestProperty_GroupAlwaysHasActiveAdmin(t *testing.T) {
	const users = 6
	h := newHarness(t, users)

	rapid.Check(t, func(rt *rapid.T) {
		conv, err := h.svc.Conversations.CreateGroup(h.ctx, 1, &CreateGroupRequest{
			ParticipantIDs: []uint{2, 3, 4, 5, 6},
			Title:          "prop",
		})
		if err != nil {
			rt.Fatal(err)
		}

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			actor := uint(rapid.IntRange(1, users).Draw(rt, "actor"))
			target := uint(rapid.IntRange(1, users).Draw(rt, "target"))
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				_ = h.svc.Conversations.LeaveConversation(h.ctx, actor, conv.ID, nil)
			case 1:
				_ = h.svc.Conversations.LeaveConversation(h.ctx, actor, conv.ID, &target)
			case 2:
				_ = h.svc.Conversations.KickFromConversation(h.ctx, actor, conv.ID, target)
			}

			active, err := h.store.Participants.CountActive(h.ctx, conv.ID)
			if err != nil {
				rt.Fatal(err)
			}
			admins, err := h.store.Participants.CountActiveAdmins(h.ctx, conv.ID)
			if err != nil {
				rt.Fatal(err)
			}
			if active > 0 && admins == 0 {
				rt.Fatalf("conversation %d has %d active members and no admin", conv.ID, active)
			}
		}
	})
}
