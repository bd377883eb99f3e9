package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/puyokura/orbitchat/model"
	"github.com/puyokura/orbitchat/policy"
)

// Messaging manages channels and the message lifecycle. A message is active
// until deleted; deleted messages stay in the snapshot but are never returned.
type Messaging struct {
	e *Engine
}

// DirectChannelID is the channel id of the conversation between a and b. It
// does not depend on argument order.
func DirectChannelID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// ResolveChannel looks up a named channel (one participant: its id) or
// resolves a direct channel (two participants: opener first).
func (s *Messaging) ResolveChannel(ctx context.Context, kind model.ChannelKind, participants ...string) (model.Channel, error) {
	switch kind {
	case model.ChannelNamed:
		if len(participants) != 1 {
			return model.Channel{}, invalid("resolve_channel", "a named channel takes exactly one id")
		}
		c, ok := s.e.channel(participants[0])
		if !ok || c.Kind != model.ChannelNamed {
			return model.Channel{}, notFound("resolve_channel", "channel %s", participants[0])
		}
		return *c.Clone(), nil
	case model.ChannelDirect:
		if len(participants) != 2 {
			return model.Channel{}, invalid("resolve_channel", "a direct channel takes exactly two accounts")
		}
		return s.ResolveDirect(ctx, participants[0], participants[1])
	}
	return model.Channel{}, invalid("resolve_channel", "unknown channel kind %q", kind)
}

// ResolveDirect returns the direct channel between openerID and otherID,
// creating it on first use. The channel is named after otherID as seen by the
// opener at creation time.
func (s *Messaging) ResolveDirect(ctx context.Context, openerID, otherID string) (ch model.Channel, err error) {
	const op = "resolve_direct"
	defer s.e.track(op, time.Now(), &err)

	if openerID == "" || otherID == "" {
		return ch, invalid(op, "both participants are required")
	}
	if openerID == otherID {
		return ch, invalid(op, "cannot open a conversation with yourself")
	}
	id := DirectChannelID(openerID, otherID)
	if c, ok := s.e.channel(id); ok {
		return *c.Clone(), nil
	}

	unlock := s.e.locks.Lock(channelKey(id))
	defer unlock()

	if c, ok := s.e.channel(id); ok {
		return *c.Clone(), nil
	}
	if _, ok := s.e.account(openerID); !ok {
		return ch, notFound(op, "account %s", openerID)
	}
	other, ok := s.e.account(otherID)
	if !ok {
		return ch, notFound(op, "account %s", otherID)
	}
	participants := []string{openerID, otherID}
	slices.Sort(participants)
	c := &model.Channel{
		ID:           id,
		Kind:         model.ChannelDirect,
		DisplayName:  other.DisplayName,
		Participants: participants,
	}
	if err := s.e.commit(ctx, op, change{channels: []*model.Channel{c}}); err != nil {
		return ch, err
	}
	s.e.log.Info("direct_channel_created", zap.String("channel", id), zap.String("opener", openerID))
	return *c.Clone(), nil
}

// Send appends a message to a channel.
func (s *Messaging) Send(ctx context.Context, actorID, channelID, body string) (msg model.Message, err error) {
	const op = "send_message"
	defer s.e.track(op, time.Now(), &err)

	if strings.TrimSpace(body) == "" {
		return msg, invalid(op, "message body is empty")
	}
	actor, ok := s.e.account(actorID)
	if !ok {
		return msg, notFound(op, "account %s", actorID)
	}

	unlock := s.e.locks.Lock(channelKey(channelID))
	defer unlock()

	ch, ok := s.e.channel(channelID)
	if !ok {
		return msg, notFound(op, "channel %s", channelID)
	}
	d := policy.Authorize(actor.Role, policy.WriteChannel, policy.Context{ActorID: actorID, Channel: ch})
	if !d.Allowed {
		return msg, denied(op, d.Reason)
	}

	m := &model.Message{
		ID:         s.e.ids.Next(IDMessage),
		ChannelID:  channelID,
		AuthorID:   actorID,
		AuthorName: actor.DisplayName,
		Body:       body,
		CreatedAt:  s.e.clock.Now(),
	}
	if err := s.e.commit(ctx, op, change{messages: []*model.Message{m}}); err != nil {
		return msg, err
	}
	s.e.log.Info("message_sent", zap.String("message", m.ID), zap.String("channel", channelID), zap.String("author", actorID))
	return *m, nil
}

// Edit replaces a message body and marks it edited.
func (s *Messaging) Edit(ctx context.Context, actorID, messageID, body string) (msg model.Message, err error) {
	const op = "edit_message"
	defer s.e.track(op, time.Now(), &err)

	if strings.TrimSpace(body) == "" {
		return msg, invalid(op, "message body is empty")
	}
	actor, ok := s.e.account(actorID)
	if !ok {
		return msg, notFound(op, "account %s", actorID)
	}
	found, ok := s.e.message(messageID)
	if !ok {
		return msg, notFound(op, "message %s", messageID)
	}

	unlock := s.e.locks.Lock(channelKey(found.ChannelID))
	defer unlock()

	cur, _ := s.e.message(messageID)
	if cur.Deleted {
		return msg, notFound(op, "message %s", messageID)
	}
	d := policy.Authorize(actor.Role, policy.EditMessage, policy.Context{ActorID: actorID, AuthorID: cur.AuthorID})
	if !d.Allowed {
		return msg, denied(op, d.Reason)
	}

	next := *cur
	next.Body = body
	next.Edited = true
	next.EditedAt = s.e.clock.Now()
	if err := s.e.commit(ctx, op, change{messages: []*model.Message{&next}}); err != nil {
		return msg, err
	}
	s.e.log.Info("message_edited", zap.String("message", messageID), zap.String("actor", actorID))
	return next, nil
}

// Delete hides a message. Deleting an already deleted message succeeds.
func (s *Messaging) Delete(ctx context.Context, actorID, messageID string) (err error) {
	const op = "delete_message"
	defer s.e.track(op, time.Now(), &err)

	actor, ok := s.e.account(actorID)
	if !ok {
		return notFound(op, "account %s", actorID)
	}
	found, ok := s.e.message(messageID)
	if !ok {
		return notFound(op, "message %s", messageID)
	}

	unlock := s.e.locks.Lock(channelKey(found.ChannelID))
	defer unlock()

	cur, _ := s.e.message(messageID)
	d := policy.Authorize(actor.Role, policy.DeleteMessage, policy.Context{ActorID: actorID, AuthorID: cur.AuthorID})
	if !d.Allowed {
		return denied(op, d.Reason)
	}
	if cur.Deleted {
		return nil
	}

	next := *cur
	next.Deleted = true
	if err := s.e.commit(ctx, op, change{messages: []*model.Message{&next}}); err != nil {
		return err
	}
	s.e.log.Info("message_deleted", zap.String("message", messageID), zap.String("actor", actorID))
	return nil
}

// Channel returns any channel by id, direct ones included.
func (s *Messaging) Channel(id string) (model.Channel, error) {
	c, ok := s.e.channel(id)
	if !ok {
		return model.Channel{}, notFound("channel", "channel %s", id)
	}
	return *c.Clone(), nil
}

// Message returns a visible message by id.
func (s *Messaging) Message(id string) (model.Message, error) {
	m, ok := s.e.message(id)
	if !ok || m.Deleted {
		return model.Message{}, notFound("message", "message %s", id)
	}
	return *m, nil
}

// ListMessages returns the channel's visible messages, oldest first.
func (s *Messaging) ListMessages(channelID string) ([]model.Message, error) {
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	if _, ok := s.e.st.channels[channelID]; !ok {
		return nil, notFound("list_messages", "channel %s", channelID)
	}
	ids := s.e.st.channelMessages[channelID]
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		if m := s.e.st.messages[id]; !m.Deleted {
			out = append(out, *m)
		}
	}
	return out, nil
}

// MessageCount is the number of visible messages in a channel.
func (s *Messaging) MessageCount(channelID string) (int, error) {
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	if _, ok := s.e.st.channels[channelID]; !ok {
		return 0, notFound("message_count", "channel %s", channelID)
	}
	n := 0
	for _, id := range s.e.st.channelMessages[channelID] {
		if !s.e.st.messages[id].Deleted {
			n++
		}
	}
	return n, nil
}

// Channels lists the named channels, pinned first, followed by the direct
// channels viewerID takes part in.
func (s *Messaging) Channels(viewerID string) []model.Channel {
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	var named, direct []model.Channel
	for _, id := range s.e.st.channelOrder {
		c := s.e.st.channels[id]
		switch {
		case c.Kind == model.ChannelNamed:
			named = append(named, *c.Clone())
		case c.HasParticipant(viewerID):
			direct = append(direct, *c.Clone())
		}
	}
	slices.SortStableFunc(named, func(a, b model.Channel) int {
		switch {
		case a.Pinned == b.Pinned:
			return 0
		case a.Pinned:
			return -1
		}
		return 1
	})
	return append(named, direct...)
}
