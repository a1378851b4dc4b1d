package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnManager owns the live connection set and the room registry: the shared
// mutable map of room key to currently-subscribed sessions. Rooms are not
// entities; a room exists exactly while at least one subscriber is joined to
// its key. All mutation goes through Join/LeaveAll/disconnect under one lock,
// so concurrent joins, leaves and broadcasts never race into an inconsistent
// subscriber set.
type ConnManager struct {
	conns map[string][]*Conn
	// connSeq is a per-user monotonic id counter, so ids stay unique for the
	// manager's lifetime even after disconnects.
	connSeq map[string]int

	rooms  map[string]map[Subscriber]struct{}
	joined map[Subscriber]map[string]struct{}

	mu      sync.RWMutex
	connWg  *sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	onEvent func(*Conn, *Event)

	onConnectionOpened func(string, int)
	onConnectionClosed func(string, int)

	upgrader        websocket.Upgrader
	WriteStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func NewConnManager(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		conns:              make(map[string][]*Conn),
		connSeq:            make(map[string]int),
		rooms:              make(map[string]map[Subscriber]struct{}),
		joined:             make(map[Subscriber]map[string]struct{}),
		connWg:             wg,
		context:            ctx,
		logger:             logger,
		upgrader:           defaultUpgrader,
		WriteStreamSize:    100,
		onEvent:            func(*Conn, *Event) {},
		onConnectionOpened: func(string, int) {},
		onConnectionClosed: func(string, int) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// OnEvent installs the inbound event dispatcher. It must be set before the
// first connection is accepted.
func (m *ConnManager) OnEvent(f func(*Conn, *Event)) {
	m.onEvent = f
}

func (m *ConnManager) OnConnectionOpened(f func(string, int)) {
	m.onConnectionOpened = f
}

func (m *ConnManager) OnConnectionClosed(f func(string, int)) {
	m.onConnectionClosed = f
}

// Connect upgrades the request and binds the authenticated identity to the
// new connection for its lifetime.
func (m *ConnManager) Connect(userID string, w http.ResponseWriter, r *http.Request) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conns := m.conns[userID]
	m.connSeq[userID]++
	id := m.connSeq[userID]
	wsConn := &Conn{
		userID:      userID,
		id:          id,
		conn:        conn,
		context:     m.context,
		writeStream: make(chan *Event, m.WriteStreamSize),
		done:        make(chan struct{}),
		onEvent:     m.onEvent,
		ticker:      time.NewTicker(pingPeriod),
		logger:      m.logger.With(slog.String("connection", fmt.Sprintf("%s:%d", userID, id))),
	}
	wsConn.notifyDisconnect = func() {
		m.disconnect(wsConn)
	}
	m.conns[userID] = append(conns, wsConn)
	m.mu.Unlock()

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()

	m.onConnectionOpened(userID, id)

	return nil
}

// disconnect is the single cleanup path for a connection: it is reached the
// same way whether the peer closed, the read loop failed or a stalled write
// forced the drop. Room registrations are released atomically with the
// connection itself.
func (m *ConnManager) disconnect(conn *Conn) {
	m.mu.Lock()
	conns, ok := m.conns[conn.userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	idx := slices.Index(conns, conn)
	if idx == -1 {
		m.mu.Unlock()
		return
	}
	conns = slices.Delete(conns, idx, idx+1)
	if len(conns) == 0 {
		delete(m.conns, conn.userID)
	} else {
		m.conns[conn.userID] = conns
	}
	m.leaveAllLocked(conn)
	m.mu.Unlock()

	conn.close()
	m.onConnectionClosed(conn.userID, conn.id)
}

// JoinRoom registers a subscriber under a room key. Authorization is the
// caller's concern; the registry only tracks live membership for fan-out.
func (m *ConnManager) JoinRoom(roomKey string, sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.rooms[roomKey]
	if !ok {
		subs = make(map[Subscriber]struct{})
		m.rooms[roomKey] = subs
	}
	subs[sub] = struct{}{}

	keys, ok := m.joined[sub]
	if !ok {
		keys = make(map[string]struct{})
		m.joined[sub] = keys
	}
	keys[roomKey] = struct{}{}
}

// LeaveAllRooms drops every room registration of a subscriber. Empty rooms
// simply disappear from the map.
func (m *ConnManager) LeaveAllRooms(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveAllLocked(sub)
}

func (m *ConnManager) leaveAllLocked(sub Subscriber) {
	for roomKey := range m.joined[sub] {
		subs := m.rooms[roomKey]
		delete(subs, sub)
		if len(subs) == 0 {
			delete(m.rooms, roomKey)
		}
	}
	delete(m.joined, sub)
}

// BroadcastToRoom delivers an event to every subscriber currently joined to
// the room key, including the dispatching session's own connection. Delivery
// is bounded and non-blocking per subscriber: one stalled peer is dropped
// rather than stalling the room.
func (m *ConnManager) BroadcastToRoom(roomKey string, e *Event) {
	m.mu.RLock()
	subs := make([]Subscriber, 0, len(m.rooms[roomKey]))
	for sub := range m.rooms[roomKey] {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var stalled []Subscriber
	for _, sub := range subs {
		if !sub.Deliver(e) {
			stalled = append(stalled, sub)
		}
	}

	for _, sub := range stalled {
		if conn, ok := sub.(*Conn); ok {
			m.logger.Info("dropping stalled connection",
				slog.String("user", conn.userID), slog.String("room", roomKey))
			m.disconnect(conn)
		} else {
			m.LeaveAllRooms(sub)
		}
	}
}

// Close disconnects every live connection. It is called once at shutdown.
func (m *ConnManager) Close() {
	m.mu.RLock()
	var all []*Conn
	for _, conns := range m.conns {
		all = append(all, conns...)
	}
	m.mu.RUnlock()

	for _, conn := range all {
		m.disconnect(conn)
	}
}
