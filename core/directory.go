package core

import (
	"context"
	"slices"
)

// User is the subset of an account that the chat core needs: an identity plus
// the display attributes attached to outgoing messages.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Group carries the membership facts the chat core authorizes against.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Admin   string   `json:"admin"`
	Members []string `json:"members"`
}

func (g *Group) HasMember(userID string) bool {
	if g == nil {
		return false
	}
	return slices.Contains(g.Members, userID)
}

// Directory is the read-only view of the account and group collaborators.
// Authorization-sensitive operations query it fresh on every call; results
// are never cached on a session.
type Directory interface {
	// GetUser returns the user with the given ID, or nil if it does not exist.
	GetUser(ctx context.Context, id string) (*User, error)

	// AreFriends reports whether other is on user's friend list.
	// Friendship is symmetric, so checking one side suffices.
	AreFriends(ctx context.Context, userID, otherID string) (bool, error)

	// GetGroup returns the group with the given ID including its member list,
	// or nil if it does not exist.
	GetGroup(ctx context.Context, id string) (*Group, error)
}
