package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// KindDirect is a message between two users in a direct room.
	KindDirect = "direct"
	// KindGroup is a message to a group room.
	KindGroup = "group"
)

const (
	// MaxTextLength bounds the plain content of a message.
	MaxTextLength = 2000
	// MaxImageLength bounds the encoded size of an embedded image.
	// Images travel as data URLs, so length is roughly bytes * 1.37.
	MaxImageLength = 1_000_000

	imageDataPrefix = "data:image/"
)

// Message is a single persisted chat event. Exactly one of Recipient and
// Group is set, consistent with Kind. Messages are immutable after creation
// except for hard deletion.
type Message struct {
	ID        int       `json:"id"`
	Kind      string    `json:"kind"`
	RoomKey   string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient,omitempty"`
	Group     string    `json:"group,omitempty"`
	Text      string    `json:"text"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageSender is the minimal sender display info attached to outgoing
// messages. Embedded data-URL avatars are suppressed to cap payload size.
type MessageSender struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// MessageView is a message enriched for delivery. The Sender field shadows
// the embedded sender ID with the full display object.
type MessageView struct {
	Message
	Sender MessageSender `json:"sender"`
}

// SendInput is the payload of a send event. Target fields are interpreted
// according to Kind; Text and Image may not both be empty.
type SendInput struct {
	Kind      string `json:"kind" validate:"required,oneof=direct group"`
	Recipient string `json:"recipient,omitempty"`
	Group     string `json:"group,omitempty"`
	Text      string `json:"text"`
	Image     string `json:"image"`
}

// Validate checks payload shape only. It runs before any room lookup so
// oversized or malformed payloads never reach the directory or the store.
func (in *SendInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, "unknown message kind")
	}

	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" && in.Image == "" {
		return fmt.Errorf("%w: %s", ErrInvalid, "message is empty")
	}
	if len(in.Text) > MaxTextLength {
		return fmt.Errorf("%w: %s", ErrInvalid, "text is too long")
	}
	if in.Image != "" {
		if !strings.HasPrefix(in.Image, imageDataPrefix) {
			return fmt.Errorf("%w: %s", ErrInvalid, "unrecognized image format")
		}
		if len(in.Image) > MaxImageLength {
			return fmt.Errorf("%w: %s", ErrInvalid, "image is too large")
		}
	}

	switch in.Kind {
	case KindDirect:
		if in.Recipient == "" {
			return fmt.Errorf("%w: %s", ErrInvalid, "missing recipient")
		}
	case KindGroup:
		if in.Group == "" {
			return fmt.Errorf("%w: %s", ErrInvalid, "missing group")
		}
	}
	return nil
}

type MessageStore interface {
	// Append persists a new message and returns its assigned ID.
	// CreatedAt must be set by the caller at persistence time.
	Append(ctx context.Context, message Message) (int, error)

	// ListByRoom returns the messages of a room ascending by creation time,
	// with insertion order breaking ties. It never scans unrelated rooms.
	ListByRoom(ctx context.Context, roomKey string) ([]Message, error)

	// GetByID returns the message with the given ID, or nil if it does not exist.
	GetByID(ctx context.Context, id int) (*Message, error)

	// DeleteByID removes a message permanently. It returns ErrNotFound if the
	// message does not exist. There is no tombstone and no recovery.
	DeleteByID(ctx context.Context, id int) error
}
