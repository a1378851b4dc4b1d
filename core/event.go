package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// Event is one frame of the websocket protocol. Client events carry an ID
// that is echoed back on the acknowledgment; server broadcasts leave it zero.
type Event struct {
	ID         int             `json:"id,omitempty"`
	Dispatcher string          `json:"-"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{ID: %d, Dispatcher: %s, Type: %s, Payload.Size: %d}",
		e.ID, e.Dispatcher, e.Type, len(e.Payload))
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

// NewEvent marshals a payload into an event frame.
func NewEvent(t string, payload interface{}) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{Type: t, Payload: b}, nil
}

// EventHandler processes one inbound event on behalf of the dispatching
// connection. Handlers run inline on the connection's read loop, so events
// from one session are processed strictly in arrival order while different
// sessions stay concurrent.
type EventHandler func(ctx context.Context, conn *Conn, e *Event) error

// EventRouter maps event types to handlers. A returned error is logged but
// never terminates the connection; per-event failures are reported to the
// caller only, through acknowledgments sent by the handlers themselves.
type EventRouter struct {
	handlers map[string]EventHandler
	unknown  EventHandler
	ctx      context.Context
	logger   *slog.Logger
}

func NewEventRouter(ctx context.Context, logger *slog.Logger) *EventRouter {
	return &EventRouter{
		handlers: make(map[string]EventHandler),
		ctx:      ctx,
		logger:   logger,
	}
}

func (r *EventRouter) On(eventType string, handler EventHandler) {
	if _, ok := r.handlers[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already registered", eventType))
	}
	r.handlers[eventType] = handler
}

// OnUnknown installs the fallback handler for event types with no registered
// handler, so a client waiting on a correlated acknowledgment gets an answer
// instead of silence.
func (r *EventRouter) OnUnknown(handler EventHandler) {
	r.unknown = handler
}

func (r *EventRouter) Dispatch(conn *Conn, e *Event) {
	handler, ok := r.handlers[e.Type]
	if !ok {
		if r.unknown == nil {
			r.logger.Error(fmt.Sprintf("no handler for %s", e.Type))
			return
		}
		handler = r.unknown
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(fmt.Sprintf("handler(%s): panic: %v", e.Type, rec))
		}
	}()

	if err := handler(r.ctx, conn, e); err != nil {
		r.logger.Error(fmt.Sprintf("handler(%s): %v", e.Type, err))
	}
}
