package core

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	// MessageNewEvent is broadcast to a room when a message is persisted.
	MessageNewEvent = "message:new"
	// MessageDeletedEvent is broadcast to a room when a message is removed.
	MessageDeletedEvent = "message:deleted"
)

const roomLockStripes = 64

// Subscriber receives room broadcasts. Deliver must not block; it reports
// whether the event was accepted.
type Subscriber interface {
	Deliver(e *Event) bool
}

// RoomRegistry is the live map of room key to subscribed sessions. It is
// shared mutable state injected into the service, never ambient.
type RoomRegistry interface {
	JoinRoom(roomKey string, sub Subscriber)
	LeaveAllRooms(sub Subscriber)
	BroadcastToRoom(roomKey string, e *Event)
}

type MessageNewPayload struct {
	RoomKey string      `json:"room_id"`
	Message MessageView `json:"message"`
}

type MessageDeletedPayload struct {
	RoomKey   string `json:"room_id"`
	MessageID int    `json:"message_id"`
}

// ChatService processes chat events: join, send, delete, history. Every
// authorization-sensitive operation re-checks the directory with its current
// state; nothing decided at join time carries over to later events, so
// membership changes take effect immediately without revocation plumbing.
type ChatService struct {
	messages MessageStore
	dir      Directory
	rooms    RoomRegistry
	logger   *slog.Logger

	// roomLocks serializes persist-then-broadcast per room key so a
	// later-persisted message is never broadcast before an earlier one.
	roomLocks [roomLockStripes]sync.Mutex
}

func NewChatService(messages MessageStore, dir Directory, rooms RoomRegistry, logger *slog.Logger) *ChatService {
	return &ChatService{
		messages: messages,
		dir:      dir,
		rooms:    rooms,
		logger:   logger,
	}
}

func (s *ChatService) roomLock(roomKey string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(roomKey))
	return &s.roomLocks[h.Sum32()%roomLockStripes]
}

// authorizeDirect checks that the other user exists and is on the caller's
// friend list, and returns the canonical room key.
func (s *ChatService) authorizeDirect(ctx context.Context, userID, otherID string) (string, error) {
	other, err := s.dir.GetUser(ctx, otherID)
	if err != nil {
		return "", fmt.Errorf("GetUser: %w", err)
	}
	if other == nil {
		return "", fmt.Errorf("%w: user %s", ErrNotFound, otherID)
	}

	friends, err := s.dir.AreFriends(ctx, userID, otherID)
	if err != nil {
		return "", fmt.Errorf("AreFriends: %w", err)
	}
	if !friends {
		return "", fmt.Errorf("%w: can only chat with friends", ErrForbidden)
	}

	return DirectRoomKey(userID, otherID), nil
}

// authorizeGroup checks that the group exists and the caller is a current
// member, and returns the canonical room key.
func (s *ChatService) authorizeGroup(ctx context.Context, userID, groupID string) (string, error) {
	group, err := s.dir.GetGroup(ctx, groupID)
	if err != nil {
		return "", fmt.Errorf("GetGroup: %w", err)
	}
	if group == nil {
		return "", fmt.Errorf("%w: group %s", ErrNotFound, groupID)
	}
	if !group.HasMember(userID) {
		return "", fmt.Errorf("%w: not a member of group %s", ErrForbidden, groupID)
	}

	return GroupRoomKey(groupID), nil
}

// JoinDirect admits the session to the direct room with another user.
// Admission only registers for live fan-out; every later send re-checks
// authorization on its own.
func (s *ChatService) JoinDirect(ctx context.Context, userID, otherID string, sub Subscriber) (string, error) {
	roomKey, err := s.authorizeDirect(ctx, userID, otherID)
	if err != nil {
		return "", err
	}
	s.rooms.JoinRoom(roomKey, sub)
	return roomKey, nil
}

// JoinGroup admits the session to a group room.
func (s *ChatService) JoinGroup(ctx context.Context, userID, groupID string, sub Subscriber) (string, error) {
	roomKey, err := s.authorizeGroup(ctx, userID, groupID)
	if err != nil {
		return "", err
	}
	s.rooms.JoinRoom(roomKey, sub)
	return roomKey, nil
}

// Send validates, re-authorizes, persists and broadcasts one message. The
// sender is always the session's bound identity, never a payload field. The
// broadcast includes the sender's own connection so its UI reflects the
// authoritative persisted copy.
func (s *ChatService) Send(ctx context.Context, sender string, in SendInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	message := Message{
		Kind:   in.Kind,
		Sender: sender,
		Text:   in.Text,
		Image:  in.Image,
	}

	var roomKey string
	var err error
	switch in.Kind {
	case KindDirect:
		roomKey, err = s.authorizeDirect(ctx, sender, in.Recipient)
		message.Recipient = in.Recipient
	case KindGroup:
		roomKey, err = s.authorizeGroup(ctx, sender, in.Group)
		message.Group = in.Group
	}
	if err != nil {
		return "", err
	}
	message.RoomKey = roomKey

	view, err := s.enrich(ctx, message)
	if err != nil {
		return "", err
	}

	lock := s.roomLock(roomKey)
	lock.Lock()
	defer lock.Unlock()

	message.CreatedAt = time.Now().UTC()
	id, err := s.messages.Append(ctx, message)
	if err != nil {
		return "", fmt.Errorf("Append: %w", err)
	}
	view.ID = id
	view.CreatedAt = message.CreatedAt

	e, err := NewEvent(MessageNewEvent, MessageNewPayload{RoomKey: roomKey, Message: view})
	if err != nil {
		return "", err
	}
	s.rooms.BroadcastToRoom(roomKey, e)

	return roomKey, nil
}

// Delete removes a message permanently and broadcasts the deletion. The
// original sender may always delete; for group messages the current group
// admin may too, checked live against the directory.
func (s *ChatService) Delete(ctx context.Context, caller string, messageID int) error {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("GetByID: %w", err)
	}
	if message == nil {
		return fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}

	if message.Sender != caller {
		if message.Kind != KindGroup {
			return fmt.Errorf("%w: only the sender may delete a direct message", ErrForbidden)
		}
		group, err := s.dir.GetGroup(ctx, message.Group)
		if err != nil {
			return fmt.Errorf("GetGroup: %w", err)
		}
		if group == nil || group.Admin != caller {
			return fmt.Errorf("%w: only the sender or the group admin may delete", ErrForbidden)
		}
	}

	lock := s.roomLock(message.RoomKey)
	lock.Lock()
	defer lock.Unlock()

	if err := s.messages.DeleteByID(ctx, messageID); err != nil {
		return err
	}

	e, err := NewEvent(MessageDeletedEvent,
		MessageDeletedPayload{RoomKey: message.RoomKey, MessageID: messageID})
	if err != nil {
		return err
	}
	s.rooms.BroadcastToRoom(message.RoomKey, e)

	return nil
}

// DirectHistory returns the direct room's messages ascending by persistence
// time, under the same authorization as JoinDirect.
func (s *ChatService) DirectHistory(ctx context.Context, userID, otherID string) (string, []MessageView, error) {
	roomKey, err := s.authorizeDirect(ctx, userID, otherID)
	if err != nil {
		return "", nil, err
	}
	views, err := s.history(ctx, roomKey)
	if err != nil {
		return "", nil, err
	}
	return roomKey, views, nil
}

// GroupHistory returns the group room's messages ascending by persistence
// time, under the same authorization as JoinGroup.
func (s *ChatService) GroupHistory(ctx context.Context, userID, groupID string) (string, []MessageView, error) {
	roomKey, err := s.authorizeGroup(ctx, userID, groupID)
	if err != nil {
		return "", nil, err
	}
	views, err := s.history(ctx, roomKey)
	if err != nil {
		return "", nil, err
	}
	return roomKey, views, nil
}

func (s *ChatService) history(ctx context.Context, roomKey string) ([]MessageView, error) {
	messages, err := s.messages.ListByRoom(ctx, roomKey)
	if err != nil {
		return nil, fmt.Errorf("ListByRoom: %w", err)
	}

	senders := make(map[string]MessageSender)
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		info, ok := senders[m.Sender]
		if !ok {
			var err error
			info, err = s.senderInfo(ctx, m.Sender)
			if err != nil {
				return nil, err
			}
			senders[m.Sender] = info
		}
		views = append(views, MessageView{Message: m, Sender: info})
	}
	return views, nil
}

func (s *ChatService) enrich(ctx context.Context, message Message) (MessageView, error) {
	info, err := s.senderInfo(ctx, message.Sender)
	if err != nil {
		return MessageView{}, err
	}
	return MessageView{Message: message, Sender: info}, nil
}

// senderInfo resolves the sender's display attributes, suppressing embedded
// data-URL avatars. This is delivery-only sanitization; the stored avatar is
// untouched.
func (s *ChatService) senderInfo(ctx context.Context, userID string) (MessageSender, error) {
	user, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return MessageSender{}, fmt.Errorf("GetUser: %w", err)
	}
	info := MessageSender{ID: userID}
	if user != nil {
		info.Name = user.Name
		if !strings.HasPrefix(user.Avatar, imageDataPrefix) {
			info.Avatar = user.Avatar
		}
	}
	return info, nil
}
