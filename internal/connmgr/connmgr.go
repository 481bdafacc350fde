// Package connmgr implements §4.F, the Connection Manager: the registry of live, authenticated duplex
// channels, the inverted room -> connections index used for fan-out, and presence derived from it.
//
// This is a single-node, in-process design: there is no cross-node pub/sub layer, because one
// Campfire server owns every live connection (see SPEC_FULL.md's single-node decision). A multi-node
// deployment would need to replace the in-memory roomIndex with a shared broker, but nothing in this
// package assumes that shape so the swap is local to this file.
package connmgr

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/authz"
)

// Manager owns every live Connection and the room -> connection-set inverted index used to fan out
// room-scoped events in enqueue order (§4.F).
type Manager struct {
	authz *authz.Authorizer
	log   zerolog.Logger

	mu        sync.RWMutex
	conns     map[uuid.UUID]*Connection
	roomIndex map[uuid.UUID]map[uuid.UUID]*Connection
}

func New(az *authz.Authorizer, logger zerolog.Logger) *Manager {
	return &Manager{
		authz:     az,
		log:       logger,
		conns:     make(map[uuid.UUID]*Connection),
		roomIndex: make(map[uuid.UUID]map[uuid.UUID]*Connection),
	}
}

// Register allocates a Connection for an already-authenticated user's upgraded WebSocket and starts its
// read, write, and ping goroutines. The connection removes itself from the Manager when its read loop
// exits; the caller waits on Done to learn when that teardown has happened.
func (m *Manager) Register(userID uuid.UUID, conn *websocket.Conn) *Connection {
	c := newConnection(m, userID, conn, m.log)

	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()

	go c.writePump()
	go c.pingLoop()
	go c.readPump()

	return c
}

// Subscribe authorizes userID to read roomID and, if allowed, inserts conn into the inverted index.
// Subscribing to a room the connection already subscribes to is a no-op.
func (m *Manager) Subscribe(c *Connection, roomID uuid.UUID) error {
	ok, err := m.authz.CanRead(context.Background(), roomID, c.userID)
	if err != nil {
		return err
	}
	if !ok {
		return authz.ErrForbidden
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, exists := m.roomIndex[roomID]
	if !exists {
		set = make(map[uuid.UUID]*Connection)
		m.roomIndex[roomID] = set
	}
	set[c.id] = c

	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()

	return nil
}

// Unsubscribe removes conn from roomID's subscriber set. Idempotent.
func (m *Manager) Unsubscribe(c *Connection, roomID uuid.UUID) {
	m.mu.Lock()
	if set, ok := m.roomIndex[roomID]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(m.roomIndex, roomID)
		}
	}
	m.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// Publish encodes the event once and enqueues it on every connection currently subscribed to roomID.
// A send error or full outbox on any one connection never blocks or fails delivery to the others
// (§4.F failure semantics). Ordering guarantee: events published to the same room by the same caller
// goroutine arrive at any surviving connection in this call order; across rooms or goroutines no
// ordering is guaranteed, matching §4.F.
func (m *Manager) Publish(roomID uuid.UUID, eventType EventType, payload any) {
	msg, err := encodeEvent(eventType, payload)
	if err != nil {
		m.log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to encode event")
		return
	}

	m.mu.RLock()
	set := m.roomIndex[roomID]
	targets := make([]*Connection, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// Presence returns the distinct set of user ids with at least one live connection subscribed to roomID
// (§4.F).
func (m *Manager) Presence(roomID uuid.UUID) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	for _, c := range m.roomIndex[roomID] {
		seen[c.userID] = struct{}{}
	}

	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Close removes conn from every index and stops its goroutines. Idempotent: closing an already-closed
// or already-removed connection is a no-op.
func (m *Manager) Close(c *Connection) {
	m.mu.Lock()
	if _, ok := m.conns[c.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, c.id)
	m.mu.Unlock()

	for _, roomID := range c.subscribedRooms() {
		m.mu.Lock()
		if set, ok := m.roomIndex[roomID]; ok {
			delete(set, c.id)
			if len(set) == 0 {
				delete(m.roomIndex, roomID)
			}
		}
		m.mu.Unlock()
	}

	c.closeSend()
}

// ConnectionCount returns the number of currently registered connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Shutdown broadcasts a server.shutdown frame to every live connection and closes each one, giving
// writePump a brief window to flush the frame before the socket is torn down (§6 graceful shutdown).
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(shutdownFrame)
	}

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
	}

	for _, c := range targets {
		m.Close(c)
	}
}
