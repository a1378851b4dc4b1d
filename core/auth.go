package core

import (
	"context"
	"fmt"
	"time"
)

// Session is an authenticated identity bound to one live connection or
// request. The identity is resolved once when the credential is validated
// and never re-derived from client-supplied payloads.
type Session struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionGate validates a pre-issued credential and binds an identity.
// It is a hard gate: a connection that fails it never joins a room or
// dispatches an event.
type SessionGate struct {
	secret []byte
	dir    Directory
}

func NewSessionGate(secret []byte, dir Directory) *SessionGate {
	return &SessionGate{secret: secret, dir: dir}
}

// Authenticate validates the token signature and expiry, then confirms the
// embedded identity still exists in the account collaborator.
func (g *SessionGate) Authenticate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := VerifyToken(token, g.secret)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	user, err := g.dir.GetUser(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("GetUser: %w", err)
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}

	return &Session{
		UserID:    claims.UserID,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
