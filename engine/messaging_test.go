package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puyokura/orbitchat/model"
)

func TestDirectChannelID(t *testing.T) {
	assert.Equal(t, "dm:2:5", DirectChannelID("2", "5"))
	assert.Equal(t, "dm:2:5", DirectChannelID("5", "2"))
}

func TestResolveDirectCreatesOnce(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	fifth, err := e.Identity.Register(ctx, "Nova", "nova@example.com", "starlight")
	require.NoError(t, err)
	require.Equal(t, "5", fifth.ID)
	saves := store.Saves()

	var wg sync.WaitGroup
	results := make([]model.Channel, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pair := []string{"2", "5"}
			if i%2 == 1 {
				pair = []string{"5", "2"}
			}
			ch, err := e.Messaging.ResolveChannel(ctx, model.ChannelDirect, pair...)
			assert.NoError(t, err)
			results[i] = ch
		}(i)
	}
	wg.Wait()

	for _, ch := range results[1:] {
		assert.Equal(t, results[0], ch)
	}
	assert.Equal(t, "dm:2:5", results[0].ID)
	assert.Equal(t, []string{"2", "5"}, results[0].Participants)
	assert.False(t, results[0].Pinned)
	assert.False(t, results[0].AdminOnly)
	assert.Equal(t, saves+1, store.Saves())

	direct := 0
	for _, ch := range e.Snapshot().Channels {
		if ch.Kind == model.ChannelDirect {
			direct++
		}
	}
	assert.Equal(t, 1, direct)
}

func TestResolveDirectNamesOtherParticipant(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	ch, err := e.Messaging.ResolveDirect(ctx, "4", "2")
	require.NoError(t, err)
	assert.Equal(t, "Moderator", ch.DisplayName)
	assert.Equal(t, "2", ch.Other("4"))
}

func TestResolveDirectRejections(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Messaging.ResolveDirect(ctx, "2", "2")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Messaging.ResolveDirect(ctx, "2", "99")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.Messaging.ResolveChannel(ctx, model.ChannelDirect, "2")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestResolveNamedChannel(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	ch, err := e.Messaging.ResolveChannel(ctx, model.ChannelNamed, "general")
	require.NoError(t, err)
	assert.Equal(t, "General", ch.DisplayName)

	_, err = e.Messaging.ResolveChannel(ctx, model.ChannelNamed, "random")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.Messaging.Channel("random")
	assert.ErrorIs(t, err, ErrNotFound)

	dm, err := e.Messaging.ResolveDirect(ctx, "1", "2")
	require.NoError(t, err)
	_, err = e.Messaging.ResolveChannel(ctx, model.ChannelNamed, dm.ID)
	assert.ErrorIs(t, err, ErrNotFound, "direct channels are not resolved by name")
	got, err := e.Messaging.Channel(dm.ID)
	require.NoError(t, err)
	assert.Equal(t, dm, got)
	_, err = e.Messaging.ResolveChannel(ctx, "group", "general")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendToAdminOnlyChannel(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	before, err := e.Messaging.MessageCount("announcements")
	require.NoError(t, err)

	_, err = e.Messaging.Send(ctx, "4", "announcements", "hello")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	after, err := e.Messaging.MessageCount("announcements")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = e.Messaging.Send(ctx, "2", "rules", "moderators cannot post here")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	msg, err := e.Messaging.Send(ctx, "1", "announcements", "launch at noon")
	require.NoError(t, err)
	assert.Equal(t, "Cosmonaut", msg.AuthorName)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Messaging.Send(ctx, "4", "general", " \n\t")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Messaging.Send(ctx, "4", "random", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.Messaging.Send(ctx, "99", "general", "hi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDirectMessagesOnlyForParticipants(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	dm, err := e.Messaging.ResolveDirect(ctx, "4", "2")
	require.NoError(t, err)

	_, err = e.Messaging.Send(ctx, "2", dm.ID, "hey")
	require.NoError(t, err)
	_, err = e.Messaging.Send(ctx, "1", dm.ID, "admins are not participants either")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestMessagesKeepOrderAndNewlines(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	var sent []model.Message
	for _, body := range []string{"one", "two\nlines", "three"} {
		m, err := e.Messaging.Send(ctx, "4", "general", body)
		require.NoError(t, err)
		sent = append(sent, m)
	}
	got, err := e.Messaging.ListMessages("general")
	require.NoError(t, err)
	assert.Equal(t, sent, got)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].CreatedAt.After(got[i-1].CreatedAt))
	}
	assert.Equal(t, "two\nlines", got[1].Body)

	_, err = e.Messaging.ListMessages("random")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditMessage(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	m, err := e.Messaging.Send(ctx, "4", "general", "helo")
	require.NoError(t, err)

	edited, err := e.Messaging.Edit(ctx, "4", m.ID, "hello")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, "hello", edited.Body)
	assert.True(t, edited.EditedAt.After(m.CreatedAt))
	assert.Equal(t, m.CreatedAt, edited.CreatedAt)

	_, err = e.Messaging.Edit(ctx, "3", m.ID, "observer edit")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = e.Messaging.Edit(ctx, "2", m.ID, "moderated")
	assert.NoError(t, err)
	_, err = e.Messaging.Edit(ctx, "4", m.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = e.Messaging.Edit(ctx, "4", "404", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, e.Messaging.Delete(ctx, "4", m.ID))
	_, err = e.Messaging.Edit(ctx, "4", m.ID, "back from the dead")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	m, err := e.Messaging.Send(ctx, "4", "general", "oops")
	require.NoError(t, err)

	assert.ErrorIs(t, e.Messaging.Delete(ctx, "3", m.ID), ErrPermissionDenied)

	require.NoError(t, e.Messaging.Delete(ctx, "4", m.ID))
	first := e.Snapshot()
	saves := store.Saves()
	require.NoError(t, e.Messaging.Delete(ctx, "4", m.ID))
	assert.Equal(t, first, e.Snapshot())
	assert.Equal(t, saves, store.Saves())

	got, err := e.Messaging.ListMessages("general")
	require.NoError(t, err)
	assert.Empty(t, got)
	_, err = e.Messaging.Message(m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Soft delete keeps the record in the snapshot.
	last := first.Messages[len(first.Messages)-1]
	assert.Equal(t, m.ID, last.ID)
	assert.True(t, last.Deleted)

	assert.ErrorIs(t, e.Messaging.Delete(ctx, "4", "404"), ErrNotFound)
}

func TestModeratorMayDelete(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	m, err := e.Messaging.Send(ctx, "4", "general", "spam")
	require.NoError(t, err)

	require.NoError(t, e.Messaging.Delete(ctx, "2", m.ID))
	n, err := e.Messaging.MessageCount("general")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChannelsForViewer(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	_, err := e.Messaging.ResolveDirect(ctx, "4", "2")
	require.NoError(t, err)
	_, err = e.Messaging.ResolveDirect(ctx, "1", "3")
	require.NoError(t, err)

	ids := func(chs []model.Channel) []string {
		out := make([]string, 0, len(chs))
		for _, c := range chs {
			out = append(out, c.ID)
		}
		return out
	}
	assert.Equal(t, []string{"rules", "general", "announcements", "dm:2:4"}, ids(e.Messaging.Channels("4")))
	assert.Equal(t, []string{"rules", "general", "announcements", "dm:1:3"}, ids(e.Messaging.Channels("1")))
	assert.Equal(t, []string{"rules", "general", "announcements"}, ids(e.Messaging.Channels("")))
}

func TestSeedMessages(t *testing.T) {
	e, _ := newTestEngine(t)

	msgs, err := e.Messaging.ListMessages("rules")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Body, "\n2. No spam\n")
}
