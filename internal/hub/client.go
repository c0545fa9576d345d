package hub

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/auth"
	"github.com/bspark23/chatsphere-pro/internal/event"
)

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a message to the peer
	pongWait           = 20 * time.Second       // time allowed to read the next pong message from the peer
	pingInterval       = (pongWait * 9) / 10    // send pings to peer with this period
	maxMessageSize     = 64 * 1024              // max inbound message size (64KB)
	sendBufSize        = 256                    // per-connection outbound buffer size
	workerPoolSize     = 16                     // number of workers to process inbound events
	sendTimeout        = 2 * time.Second        // write budget before a connection is treated as failed
	registerTimeout    = 5 * time.Second        // timeout for client registration
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for sending to inbound channel
)

// Client is one live authenticated connection. Owned by the Hub from
// register to deregister; never persisted.
type Client struct {
	ID       string
	identity auth.Identity
	conn     *websocket.Conn
	hub      *Hub
	egress   chan event.WsEvent

	// joined rooms, reverse index for deregistration
	rooms   map[string]event.RoomID
	roomsMu sync.Mutex

	// cancel or stop goroutines
	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
	closed         bool
	closedMu       sync.RWMutex
}

// RegisterClient admits an authenticated connection to the hub and
// starts its read and write pumps. The hub auto-joins the client to its
// identity's personal room.
func RegisterClient(identity auth.Identity, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		ID:         uuid.New().String(),
		identity:   identity,
		conn:       conn,
		hub:        h,
		egress:     make(chan event.WsEvent, sendBufSize),
		rooms:      make(map[string]event.RoomID),
		cancel:     cancel,
		ctx:        ctx,
		connClosed: make(chan struct{}),
	}

	select {
	case h.register <- client:
		go client.readPump()
		go client.writePump()
		h.logger.Info("client registered",
			zap.String("client_id", client.ID),
			zap.String("user_id", identity.ID),
		)
		return client
	case <-time.After(registerTimeout):
		h.logger.Error("client registration timed out", zap.String("client_id", client.ID))
		cancel()
		conn.Close()
		return nil
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(unregisterTimeout):
			c.hub.logger.Error("failed to unregister client: timeout", zap.String("client_id", c.ID))
		}
		c.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			var ev event.WsEvent

			if err := c.conn.ReadJSON(&ev); err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					c.hub.logger.Info("client disconnected", zap.String("client_id", c.ID))
					return
				}

				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseInternalServerErr,
					websocket.CloseProtocolError,
				) {
					c.hub.logger.Warn("unexpected close", zap.String("client_id", c.ID), zap.Error(err))
				}

				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					c.hub.logger.Info("client timed out, closing connection", zap.String("client_id", c.ID))
					return
				}

				c.hub.logger.Warn("read error", zap.String("client_id", c.ID), zap.Error(err))
				return
			}

			if !event.IsClientKind(ev.Kind) {
				c.sendError("unknown_event", "event kind is not accepted from clients")
				continue
			}

			// Non-blocking handoff to the inbound queue so a slow worker
			// pool cannot stall the reader.
			select {
			case c.hub.inbound <- inboundEvent{client: c, event: ev}:
			case <-time.After(inboundSendTimeout):
				c.hub.logger.Warn("inbound queue full, dropping client", zap.String("client_id", c.ID))
				c.cancel()
				c.conn.Close()
			case <-c.ctx.Done():
				return
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()

		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})
	}()

	for {
		select {
		case <-c.ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				c.hub.logger.Debug("close write failed", zap.Error(err))
			}
			return
		case ev := <-c.egress:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.hub.logger.Warn("write error", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Warn("ping failed", zap.String("client_id", c.ID), zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) pongHandler(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// Close is idempotent. Cancels pending writes for this connection only;
// other connections in the same rooms are unaffected. The egress channel
// is never closed: senders racing with Close observe the cancelled
// context instead, so a concurrent trySend can never hit a closed
// channel.
func (c *Client) Close() {
	c.once.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()

		c.cancel()

		// Wait for writePump to close conn, or force close after timeout
		go func() {
			select {
			case <-c.connClosed:
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
			}
		}()
	})
}

// IsClosed returns true if the client has been closed
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// trySend attempts to enqueue an event within the write budget.
// Returns false if the client is closed or the budget is exceeded.
func (c *Client) trySend(ev event.WsEvent, timeout time.Duration) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- ev:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (c *Client) sendError(code, message string) {
	ev, err := event.New(event.KindError, event.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.trySend(ev, sendTimeout)
}

func (c *Client) joinedRooms() []event.RoomID {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()

	rooms := make([]event.RoomID, 0, len(c.rooms))
	for _, room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (c *Client) trackRoom(room event.RoomID) {
	c.roomsMu.Lock()
	c.rooms[room.Key()] = room
	c.roomsMu.Unlock()
}

func (c *Client) untrackRoom(room event.RoomID) {
	c.roomsMu.Lock()
	delete(c.rooms, room.Key())
	c.roomsMu.Unlock()
}
