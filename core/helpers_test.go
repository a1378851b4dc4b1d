package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// The directory tables belong to the account/group collaborators; tests seed
// them directly the way those collaborators would write them.

func seedUsers(ctx context.Context, t *testing.T, db *sql.DB, users ...User) {
	for _, u := range users {
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, name, avatar) VALUES (@id, @name, @avatar)`,
			sql.Named("id", u.ID), sql.Named("name", u.Name), sql.Named("avatar", u.Avatar))
		if err != nil {
			t.Fatal(err)
		}
	}
}

// seedFriendship inserts both directions, the way the invitation workflow
// records an accepted request.
func seedFriendship(ctx context.Context, t *testing.T, db *sql.DB, userA, userB string) {
	for _, pair := range [][2]string{{userA, userB}, {userB, userA}} {
		_, err := db.ExecContext(ctx,
			`INSERT INTO friendships (user_id, friend_id) VALUES (@user_id, @friend_id)`,
			sql.Named("user_id", pair[0]), sql.Named("friend_id", pair[1]))
		if err != nil {
			t.Fatal(err)
		}
	}
}

func removeFriendship(ctx context.Context, t *testing.T, db *sql.DB, userA, userB string) {
	_, err := db.ExecContext(ctx,
		`DELETE FROM friendships WHERE (user_id = @a AND friend_id = @b) OR (user_id = @b AND friend_id = @a)`,
		sql.Named("a", userA), sql.Named("b", userB))
	if err != nil {
		t.Fatal(err)
	}
}

func seedGroup(ctx context.Context, t *testing.T, db *sql.DB, group Group) Group {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO chat_groups (id, name, admin) VALUES (@id, @name, @admin)`,
		sql.Named("id", group.ID), sql.Named("name", group.Name), sql.Named("admin", group.Admin))
	if err != nil {
		t.Fatal(err)
	}
	for _, member := range group.Members {
		_, err := db.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES (@group_id, @user_id)`,
			sql.Named("group_id", group.ID), sql.Named("user_id", member))
		if err != nil {
			t.Fatal(err)
		}
	}
	return group
}

func removeGroupMember(ctx context.Context, t *testing.T, db *sql.DB, groupID, userID string) {
	_, err := db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = @group_id AND user_id = @user_id`,
		sql.Named("group_id", groupID), sql.Named("user_id", userID))
	if err != nil {
		t.Fatal(err)
	}
}

// mockSubscriber records delivered events. With reject set it refuses
// delivery, imitating a stalled connection.
type mockSubscriber struct {
	mu     sync.Mutex
	events []*Event
	reject bool
}

func (s *mockSubscriber) Deliver(e *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.events = append(s.events, e)
	return true
}

func (s *mockSubscriber) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event(nil), s.events...)
}

func (s *mockSubscriber) EventsOfType(eventType string) []*Event {
	var out []*Event
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func decodePayload[T any](t *testing.T, e *Event) T {
	var payload T
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	return payload
}
