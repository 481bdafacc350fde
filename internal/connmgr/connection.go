package connmgr

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound Client -> Server frame.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pingInterval is how often the server sends a ping frame (§6).
	pingInterval = 30 * time.Second

	// maxMissedPongs is the number of consecutive missed pongs that closes the connection (§6).
	maxMissedPongs = 3

	// readTimeout bounds the wait for the next inbound frame. It outlasts maxMissedPongs+1 ping
	// intervals so that pingLoop, not the read deadline, closes a connection whose pongs stop.
	readTimeout = pingInterval*(maxMissedPongs+1) + pingInterval/2

	// outboxCapacity is the default per-connection bounded outbox size (§4.F).
	outboxCapacity = 256
)

// Connection is a single live duplex channel: one authenticated user's WebSocket, its ordered outbox,
// and the set of rooms it is currently subscribed to. Each Connection runs readPump and writePump in
// their own goroutines plus a ping ticker goroutine.
type Connection struct {
	id     uuid.UUID
	userID uuid.UUID
	conn   *websocket.Conn
	mgr    *Manager
	log    zerolog.Logger

	outbox chan []byte

	// done is closed exactly once to tear down the connection's goroutines. Never send on outbox after
	// checking done; enqueue selects on both to avoid a send-on-closed-channel panic.
	done      chan struct{}
	closeOnce sync.Once

	missedPongs atomic.Int32

	mu    sync.RWMutex
	rooms map[uuid.UUID]struct{}
}

// ID returns the connection's identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// UserID returns the authenticated user this connection belongs to.
func (c *Connection) UserID() uuid.UUID { return c.userID }

// Done returns a channel closed once the connection has been torn down. The upgrade handler blocks on
// this so the underlying fasthttp WebSocket handler does not return (and close the socket out from
// under readPump/writePump) while the connection is still live.
func (c *Connection) Done() <-chan struct{} { return c.done }

func newConnection(mgr *Manager, userID uuid.UUID, conn *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		mgr:    mgr,
		log:    logger,
		outbox: make(chan []byte, outboxCapacity),
		done:   make(chan struct{}),
		rooms:  make(map[uuid.UUID]struct{}),
	}
}

// closeSend signals writePump and the ping loop to stop. Safe to call more than once or concurrently.
func (c *Connection) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// subscribedRooms returns a snapshot of the rooms this connection currently subscribes to.
func (c *Connection) subscribedRooms() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// enqueue places msg on the outbox in non-blocking fashion. A full outbox is a SlowConsumer: the
// connection is closed and the frame dropped (§4.F drop policy). enqueue never blocks publish.
func (c *Connection) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.outbox <- msg:
	case <-c.done:
	default:
		c.log.Warn().Stringer("connection_id", c.id).Msg("Outbox full, closing connection (SlowConsumer)")
		c.closeWithCode(CloseSlowConsumer, "slow consumer")
		c.mgr.Close(c)
	}
}

// readPump reads Client -> Server frames and routes subscribe/unsubscribe/pong control messages. It
// owns tearing down the connection from the Manager when the read loop exits for any reason.
func (c *Connection) readPump() {
	defer func() {
		c.mgr.Close(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Stringer("connection_id", c.id).Msg("WebSocket read error")
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.closeWithCode(CloseDecodeError, "invalid JSON")
			return
		}

		switch frame.Type {
		case ClientFrameSubscribe:
			if frame.RoomID == nil {
				c.closeWithCode(CloseDecodeError, "room_id required")
				return
			}
			if err := c.mgr.Subscribe(c, *frame.RoomID); err != nil {
				c.closeWithCode(CloseNotSubscribed, "subscribe denied")
				return
			}
		case ClientFrameUnsubscribe:
			if frame.RoomID == nil {
				c.closeWithCode(CloseDecodeError, "room_id required")
				return
			}
			c.mgr.Unsubscribe(c, *frame.RoomID)
		case ClientFramePong:
			c.missedPongs.Store(0)
			_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		default:
			c.closeWithCode(CloseUnknownType, "unknown frame type")
			return
		}
	}
}

// writePump drains the outbox to the socket. It exits when done is closed, draining any frames already
// buffered so the peer receives them (notably the server.shutdown frame) before the connection closes.
func (c *Connection) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Stringer("connection_id", c.id).Msg("WebSocket write error")
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.outbox:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// pingLoop sends a ping frame every pingInterval and closes the connection after maxMissedPongs
// consecutive pings go unanswered (§6).
func (c *Connection) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if c.missedPongs.Add(1) > maxMissedPongs {
				c.closeWithCode(CloseSlowConsumer, "ping timeout")
				c.mgr.Close(c)
				return
			}
			c.enqueue(pingFrame)
		case <-c.done:
			return
		}
	}
}

// closeWithCode writes a WebSocket close frame with the given code and reason, then closes the socket.
func (c *Connection) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.closeSend()
}
