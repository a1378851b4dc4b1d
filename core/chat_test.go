package core

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinDirect(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	seedUsers(f.ctx, t, f.db, User{ID: "alice", Name: "Alice"}, User{ID: "bob", Name: "Bob"})
	seedFriendship(f.ctx, t, f.db, "alice", "bob")

	t.Run("friends can join", func(t *testing.T) {
		sub := &mockSubscriber{}
		roomKey, err := f.chat.JoinDirect(f.ctx, "alice", "bob", sub)
		require.Nil(t, err)
		assert.Equal(t, DirectRoomKey("alice", "bob"), roomKey)
	})

	t.Run("both sides resolve the same room", func(t *testing.T) {
		a, err := f.chat.JoinDirect(f.ctx, "alice", "bob", &mockSubscriber{})
		require.Nil(t, err)
		b, err := f.chat.JoinDirect(f.ctx, "bob", "alice", &mockSubscriber{})
		require.Nil(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.chat.JoinDirect(f.ctx, "alice", "nobody", &mockSubscriber{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not friends", func(t *testing.T) {
		seedUsers(f.ctx, t, f.db, User{ID: "mallory", Name: "Mallory"})
		_, err := f.chat.JoinDirect(f.ctx, "alice", "mallory", &mockSubscriber{})
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestJoinGroup(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	seedUsers(f.ctx, t, f.db,
		User{ID: "alice", Name: "Alice"},
		User{ID: "bob", Name: "Bob"},
		User{ID: "eve", Name: "Eve"})
	group := seedGroup(f.ctx, t, f.db, Group{
		Name:    "book club",
		Admin:   "alice",
		Members: []string{"alice", "bob"},
	})

	t.Run("member can join", func(t *testing.T) {
		roomKey, err := f.chat.JoinGroup(f.ctx, "bob", group.ID, &mockSubscriber{})
		require.Nil(t, err)
		assert.Equal(t, GroupRoomKey(group.ID), roomKey)
	})

	t.Run("non-member is rejected", func(t *testing.T) {
		_, err := f.chat.JoinGroup(f.ctx, "eve", group.ID, &mockSubscriber{})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown group", func(t *testing.T) {
		_, err := f.chat.JoinGroup(f.ctx, "alice", "no-such-group", &mockSubscriber{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSendDirect(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	seedUsers(f.ctx, t, f.db, User{ID: "alice", Name: "Alice"}, User{ID: "bob", Name: "Bob"})
	seedFriendship(f.ctx, t, f.db, "alice", "bob")

	t.Run("fan-out reaches every subscriber including the sender", func(t *testing.T) {
		aliceSub := &mockSubscriber{}
		bobSub := &mockSubscriber{}
		_, err := f.chat.JoinDirect(f.ctx, "alice", "bob", aliceSub)
		require.Nil(t, err)
		_, err = f.chat.JoinDirect(f.ctx, "bob", "alice", bobSub)
		require.Nil(t, err)

		roomKey, err := f.chat.Send(f.ctx, "alice", SendInput{
			Kind:      KindDirect,
			Recipient: "bob",
			Text:      "hello",
		})
		require.Nil(t, err)
		assert.Equal(t, DirectRoomKey("alice", "bob"), roomKey)

		aliceEvents := aliceSub.EventsOfType(MessageNewEvent)
		bobEvents := bobSub.EventsOfType(MessageNewEvent)
		require.Len(t, aliceEvents, 1)
		require.Len(t, bobEvents, 1)

		got := decodePayload[MessageNewPayload](t, aliceEvents[0])
		other := decodePayload[MessageNewPayload](t, bobEvents[0])
		assert.Equal(t, got.Message.ID, other.Message.ID)
		assert.Equal(t, roomKey, got.RoomKey)
		assert.Equal(t, "hello", got.Message.Text)
		assert.Equal(t, "alice", got.Message.Sender.ID)
		assert.Equal(t, "Alice", got.Message.Sender.Name)
		assert.NotZero(t, got.Message.ID)

		stored, err := f.messages.GetByID(f.ctx, got.Message.ID)
		require.Nil(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "hello", stored.Text)
	})

	t.Run("two sessions of the same user both receive the event", func(t *testing.T) {
		phone := &mockSubscriber{}
		laptop := &mockSubscriber{}
		_, err := f.chat.JoinDirect(f.ctx, "bob", "alice", phone)
		require.Nil(t, err)
		_, err = f.chat.JoinDirect(f.ctx, "bob", "alice", laptop)
		require.Nil(t, err)

		_, err = f.chat.Send(f.ctx, "alice", SendInput{
			Kind:      KindDirect,
			Recipient: "bob",
			Text:      "both of you",
		})
		require.Nil(t, err)

		phoneEvents := phone.EventsOfType(MessageNewEvent)
		laptopEvents := laptop.EventsOfType(MessageNewEvent)
		require.Len(t, phoneEvents, 1)
		require.Len(t, laptopEvents, 1)
		assert.Equal(t,
			decodePayload[MessageNewPayload](t, phoneEvents[0]).Message.ID,
			decodePayload[MessageNewPayload](t, laptopEvents[0]).Message.ID)
	})

	t.Run("image-only message survives persistence and broadcast", func(t *testing.T) {
		image := "data:image/png;base64," + strings.Repeat("iVBORw0KGgo", 64)
		require.Less(t, len(image), MaxImageLength)

		sub := &mockSubscriber{}
		_, err := f.chat.JoinDirect(f.ctx, "bob", "alice", sub)
		require.Nil(t, err)

		roomKey, err := f.chat.Send(f.ctx, "alice", SendInput{
			Kind:      KindDirect,
			Recipient: "bob",
			Image:     image,
		})
		require.Nil(t, err)

		events := sub.EventsOfType(MessageNewEvent)
		require.Len(t, events, 1)
		payload := decodePayload[MessageNewPayload](t, events[0])
		assert.Equal(t, image, payload.Message.Image)
		assert.Equal(t, "", payload.Message.Text)

		messages, err := f.messages.ListByRoom(f.ctx, roomKey)
		require.Nil(t, err)
		stored := messages[len(messages)-1]
		assert.Equal(t, payload.Message.ID, stored.ID)
		assert.Equal(t, image, stored.Image)
	})

	t.Run("friendship is checked at send time", func(t *testing.T) {
		sub := &mockSubscriber{}
		_, err := f.chat.JoinDirect(f.ctx, "alice", "bob", sub)
		require.Nil(t, err)

		removeFriendship(f.ctx, t, f.db, "alice", "bob")
		defer seedFriendship(f.ctx, t, f.db, "alice", "bob")

		_, err = f.chat.Send(f.ctx, "alice", SendInput{
			Kind:      KindDirect,
			Recipient: "bob",
			Text:      "are we still friends",
		})
		assert.ErrorIs(t, err, ErrForbidden)
		assert.Empty(t, sub.EventsOfType(MessageNewEvent))
	})
}

// Concurrent senders to one room must be persisted and broadcast in a single
// order: every subscriber sees message ids strictly ascending, matching the
// stored order.
func TestConcurrentSendOrdering(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	seedUsers(f.ctx, t, f.db, User{ID: "alice", Name: "Alice"}, User{ID: "bob", Name: "Bob"})
	seedFriendship(f.ctx, t, f.db, "alice", "bob")

	aliceSub := &mockSubscriber{}
	bobSub := &mockSubscriber{}
	_, err := f.chat.JoinDirect(f.ctx, "alice", "bob", aliceSub)
	require.Nil(t, err)
	_, err = f.chat.JoinDirect(f.ctx, "bob", "alice", bobSub)
	require.Nil(t, err)

	const senders = 8
	const messagesPerSender = 5

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < messagesPerSender; j++ {
				_, err := f.chat.Send(f.ctx, "alice", SendInput{
					Kind:      KindDirect,
					Recipient: "bob",
					Text:      "racing",
				})
				assert.Nil(t, err)
			}
		}()
	}
	wg.Wait()

	stored, err := f.messages.ListByRoom(f.ctx, DirectRoomKey("alice", "bob"))
	require.Nil(t, err)
	require.Len(t, stored, senders*messagesPerSender)

	for _, sub := range []*mockSubscriber{aliceSub, bobSub} {
		events := sub.EventsOfType(MessageNewEvent)
		require.Len(t, events, senders*messagesPerSender)
		for i, e := range events {
			payload := decodePayload[MessageNewPayload](t, e)
			assert.Equal(t, stored[i].ID, payload.Message.ID)
			if i > 0 {
				prev := decodePayload[MessageNewPayload](t, events[i-1])
				assert.Greater(t, payload.Message.ID, prev.Message.ID)
			}
		}
	}
}

func TestSendGroup(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	seedUsers(f.ctx, t, f.db,
		User{ID: "alice", Name: "Alice"},
		User{ID: "bob", Name: "Bob"},
		User{ID: "carol", Name: "Carol"})
	group := seedGroup(f.ctx, t, f.db, Group{
		Name:    "trio",
		Admin:   "alice",
		Members: []string{"alice", "bob", "carol"},
	})

	t.Run("member broadcast", func(t *testing.T) {
		subs := map[string]*mockSubscriber{}
		for _, id := range group.Members {
			sub := &mockSubscriber{}
			subs[id] = sub
			_, err := f.chat.JoinGroup(f.ctx, id, group.ID, sub)
			require.Nil(t, err)
		}

		roomKey, err := f.chat.Send(f.ctx, "bob", SendInput{
			Kind:  KindGroup,
			Group: group.ID,
			Text:  "meeting at noon",
		})
		require.Nil(t, err)
		assert.Equal(t, GroupRoomKey(group.ID), roomKey)

		for id, sub := range subs {
			events := sub.EventsOfType(MessageNewEvent)
			require.Len(t, events, 1, "subscriber %s", id)
			payload := decodePayload[MessageNewPayload](t, events[0])
			assert.Equal(t, "bob", payload.Message.Sender.ID)
		}
	})

	t.Run("revoked membership blocks sends even while joined", func(t *testing.T) {
		sub := &mockSubscriber{}
		_, err := f.chat.JoinGroup(f.ctx, "carol", group.ID, sub)
		require.Nil(t, err)

		removeGroupMember(f.ctx, t, f.db, group.ID, "carol")

		_, err = f.chat.Send(f.ctx, "carol", SendInput{
			Kind:  KindGroup,
			Group: group.ID,
			Text:  "hello?",
		})
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestSendValidation(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	seedUsers(f.ctx, t, f.db, User{ID: "alice", Name: "Alice"}, User{ID: "bob", Name: "Bob"})
	seedFriendship(f.ctx, t, f.db, "alice", "bob")

	countMessages := func() int {
		messages, err := f.messages.ListByRoom(f.ctx, DirectRoomKey("alice", "bob"))
		require.Nil(t, err)
		return len(messages)
	}

	cases := []struct {
		name  string
		input SendInput
	}{
		{"empty message", SendInput{Kind: KindDirect, Recipient: "bob"}},
		{"whitespace only", SendInput{Kind: KindDirect, Recipient: "bob", Text: "   \n\t "}},
		{"text too long", SendInput{Kind: KindDirect, Recipient: "bob", Text: strings.Repeat("a", MaxTextLength+1)}},
		{"image not a data url", SendInput{Kind: KindDirect, Recipient: "bob", Image: "https://example.com/cat.png"}},
		{"image too large", SendInput{Kind: KindDirect, Recipient: "bob",
			Image: "data:image/png;base64," + strings.Repeat("A", MaxImageLength)}},
		{"unknown kind", SendInput{Kind: "broadcast", Recipient: "bob", Text: "hi"}},
		{"direct without recipient", SendInput{Kind: KindDirect, Text: "hi"}},
		{"group without group id", SendInput{Kind: KindGroup, Text: "hi"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			before := countMessages()
			_, err := f.chat.Send(f.ctx, "alice", c.input)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Equal(t, before, countMessages())
		})
	}
}

func TestDelete(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	seedUsers(f.ctx, t, f.db,
		User{ID: "alice", Name: "Alice"},
		User{ID: "bob", Name: "Bob"},
		User{ID: "carol", Name: "Carol"})
	seedFriendship(f.ctx, t, f.db, "alice", "bob")
	group := seedGroup(f.ctx, t, f.db, Group{
		Name:    "trio",
		Admin:   "alice",
		Members: []string{"alice", "bob", "carol"},
	})

	sendDirect := func(t *testing.T, sender, recipient, text string) int {
		_, err := f.chat.Send(f.ctx, sender, SendInput{Kind: KindDirect, Recipient: recipient, Text: text})
		require.Nil(t, err)
		messages, err := f.messages.ListByRoom(f.ctx, DirectRoomKey(sender, recipient))
		require.Nil(t, err)
		return messages[len(messages)-1].ID
	}
	sendGroup := func(t *testing.T, sender, text string) int {
		_, err := f.chat.Send(f.ctx, sender, SendInput{Kind: KindGroup, Group: group.ID, Text: text})
		require.Nil(t, err)
		messages, err := f.messages.ListByRoom(f.ctx, GroupRoomKey(group.ID))
		require.Nil(t, err)
		return messages[len(messages)-1].ID
	}

	t.Run("sender deletes own message and room is notified", func(t *testing.T) {
		id := sendDirect(t, "alice", "bob", "oops")

		sub := &mockSubscriber{}
		_, err := f.chat.JoinDirect(f.ctx, "bob", "alice", sub)
		require.Nil(t, err)

		require.Nil(t, f.chat.Delete(f.ctx, "alice", id))

		events := sub.EventsOfType(MessageDeletedEvent)
		require.Len(t, events, 1)
		payload := decodePayload[MessageDeletedPayload](t, events[0])
		assert.Equal(t, id, payload.MessageID)
		assert.Equal(t, DirectRoomKey("alice", "bob"), payload.RoomKey)

		m, err := f.messages.GetByID(f.ctx, id)
		require.Nil(t, err)
		assert.Nil(t, m)
	})

	t.Run("recipient may not delete a direct message", func(t *testing.T) {
		id := sendDirect(t, "alice", "bob", "mine")
		err := f.chat.Delete(f.ctx, "bob", id)
		assert.ErrorIs(t, err, ErrForbidden)

		m, err := f.messages.GetByID(f.ctx, id)
		require.Nil(t, err)
		assert.NotNil(t, m)
	})

	t.Run("group admin deletes a member's message", func(t *testing.T) {
		id := sendGroup(t, "bob", "spam")
		require.Nil(t, f.chat.Delete(f.ctx, "alice", id))

		messages, err := f.messages.ListByRoom(f.ctx, GroupRoomKey(group.ID))
		require.Nil(t, err)
		for _, m := range messages {
			assert.NotEqual(t, id, m.ID)
		}
	})

	t.Run("plain member may not delete another member's message", func(t *testing.T) {
		id := sendGroup(t, "bob", "hands off")
		err := f.chat.Delete(f.ctx, "carol", id)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown message", func(t *testing.T) {
		err := f.chat.Delete(f.ctx, "alice", 999999)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("deleting twice reports not found", func(t *testing.T) {
		id := sendDirect(t, "alice", "bob", "once")
		require.Nil(t, f.chat.Delete(f.ctx, "alice", id))
		err := f.chat.Delete(f.ctx, "alice", id)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestHistory(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	seedUsers(f.ctx, t, f.db,
		User{ID: "alice", Name: "Alice", Avatar: "https://cdn.example.com/alice.png"},
		User{ID: "bob", Name: "Bob", Avatar: "data:image/png;base64,AAAA"})
	seedFriendship(f.ctx, t, f.db, "alice", "bob")

	for _, text := range []string{"first", "second", "third"} {
		_, err := f.chat.Send(f.ctx, "alice", SendInput{Kind: KindDirect, Recipient: "bob", Text: text})
		require.Nil(t, err)
	}
	_, err := f.chat.Send(f.ctx, "bob", SendInput{Kind: KindDirect, Recipient: "alice", Text: "fourth"})
	require.Nil(t, err)

	t.Run("ascending with sender info", func(t *testing.T) {
		roomKey, views, err := f.chat.DirectHistory(f.ctx, "alice", "bob")
		require.Nil(t, err)
		assert.Equal(t, DirectRoomKey("alice", "bob"), roomKey)
		require.Len(t, views, 4)

		texts := make([]string, 0, len(views))
		for _, v := range views {
			texts = append(texts, v.Text)
		}
		assert.Equal(t, []string{"first", "second", "third", "fourth"}, texts)

		assert.Equal(t, "Alice", views[0].Sender.Name)
		assert.Equal(t, "https://cdn.example.com/alice.png", views[0].Sender.Avatar)
		// data-URL avatars are stripped on delivery
		assert.Equal(t, "Bob", views[3].Sender.Name)
		assert.Equal(t, "", views[3].Sender.Avatar)
	})

	t.Run("history requires the same authorization as joining", func(t *testing.T) {
		seedUsers(f.ctx, t, f.db, User{ID: "eve", Name: "Eve"})
		_, _, err := f.chat.DirectHistory(f.ctx, "eve", "alice")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("group history checks current membership", func(t *testing.T) {
		group := seedGroup(f.ctx, t, f.db, Group{
			Name:    "pair",
			Admin:   "alice",
			Members: []string{"alice", "bob"},
		})
		_, err := f.chat.Send(f.ctx, "alice", SendInput{Kind: KindGroup, Group: group.ID, Text: "hi group"})
		require.Nil(t, err)

		_, views, err := f.chat.GroupHistory(f.ctx, "bob", group.ID)
		require.Nil(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "hi group", views[0].Text)

		removeGroupMember(f.ctx, t, f.db, group.ID, "bob")
		_, _, err = f.chat.GroupHistory(f.ctx, "bob", group.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}
