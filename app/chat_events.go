package circle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/circlechat/circle/core"
)

const (
	JoinDirectEvent    = "dm:join"
	JoinGroupEvent     = "group:join"
	SendMessageEvent   = "message:send"
	DeleteMessageEvent = "message:delete"
	AckEvent           = "ack"
)

const (
	AckCodeNotFound  = "not_found"
	AckCodeForbidden = "forbidden"
	AckCodeInvalid   = "invalid"
	AckCodeInternal  = "internal"
)

type JoinDirectPayload struct {
	OtherUserID string `json:"other_user_id"`
}

type JoinGroupPayload struct {
	GroupID string `json:"group_id"`
}

type SendMessagePayload struct {
	Kind        string `json:"kind"`
	OtherUserID string `json:"other_user_id,omitempty"`
	GroupID     string `json:"group_id,omitempty"`
	Text        string `json:"text"`
	Image       string `json:"image"`
}

type DeleteMessagePayload struct {
	MessageID int `json:"message_id"`
}

// AckPayload is the per-event acknowledgment returned to the dispatching
// connection only. It is never broadcast.
type AckPayload struct {
	OK      bool   `json:"ok"`
	RoomKey string `json:"room_id,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ackCode maps the error taxonomy to wire codes. Anything outside the
// taxonomy is an internal failure and reported generically.
func ackCode(err error) (string, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return AckCodeNotFound, err.Error()
	case errors.Is(err, core.ErrForbidden):
		return AckCodeForbidden, err.Error()
	case errors.Is(err, core.ErrInvalid):
		return AckCodeInvalid, err.Error()
	default:
		return AckCodeInternal, "something went wrong"
	}
}

func (app *App) ack(conn *core.Conn, e *core.Event, roomKey string) {
	app.deliverAck(conn, e, AckPayload{OK: true, RoomKey: roomKey})
}

// nack reports a failed event to its caller. It returns the error when it is
// internal so the event router logs it; taxonomy errors are the caller's
// problem, not the log's.
func (app *App) nack(conn *core.Conn, e *core.Event, err error) error {
	code, message := ackCode(err)
	app.deliverAck(conn, e, AckPayload{OK: false, Code: code, Message: message})
	if code == AckCodeInternal {
		return err
	}
	return nil
}

func (app *App) deliverAck(conn *core.Conn, e *core.Event, payload AckPayload) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	conn.Deliver(&core.Event{ID: e.ID, Type: AckEvent, Payload: b})
}

// UnknownEventHandler answers events with an unrecognized type. The caller's
// correlated acknowledgment must arrive even when the type means nothing to
// the server.
func (app *App) UnknownEventHandler(ctx context.Context, conn *core.Conn, e *core.Event) error {
	return app.nack(conn, e, fmt.Errorf("%w: unknown event type %q", core.ErrInvalid, e.Type))
}

func (app *App) JoinDirectHandler(ctx context.Context, conn *core.Conn, e *core.Event) error {
	var payload JoinDirectPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		app.nack(conn, e, core.ErrInvalid)
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}

	roomKey, err := app.chat.JoinDirect(ctx, conn.UserID(), payload.OtherUserID, conn)
	if err != nil {
		return app.nack(conn, e, err)
	}

	app.ack(conn, e, roomKey)
	return nil
}

func (app *App) JoinGroupHandler(ctx context.Context, conn *core.Conn, e *core.Event) error {
	var payload JoinGroupPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		app.nack(conn, e, core.ErrInvalid)
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}

	roomKey, err := app.chat.JoinGroup(ctx, conn.UserID(), payload.GroupID, conn)
	if err != nil {
		return app.nack(conn, e, err)
	}

	app.ack(conn, e, roomKey)
	return nil
}

func (app *App) SendMessageHandler(ctx context.Context, conn *core.Conn, e *core.Event) error {
	var payload SendMessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		app.nack(conn, e, core.ErrInvalid)
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}

	// the sender is always the connection's bound identity
	input := core.SendInput{
		Kind:      payload.Kind,
		Recipient: payload.OtherUserID,
		Group:     payload.GroupID,
		Text:      payload.Text,
		Image:     payload.Image,
	}
	roomKey, err := app.chat.Send(ctx, conn.UserID(), input)
	if err != nil {
		return app.nack(conn, e, err)
	}

	app.ack(conn, e, roomKey)
	return nil
}

func (app *App) DeleteMessageHandler(ctx context.Context, conn *core.Conn, e *core.Event) error {
	var payload DeleteMessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		app.nack(conn, e, core.ErrInvalid)
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}

	if err := app.chat.Delete(ctx, conn.UserID(), payload.MessageID); err != nil {
		return app.nack(conn, e, err)
	}

	app.ack(conn, e, "")
	return nil
}
