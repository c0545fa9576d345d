package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/auth"
	"github.com/bspark23/chatsphere-pro/internal/bridge"
	"github.com/bspark23/chatsphere-pro/internal/event"
	"github.com/bspark23/chatsphere-pro/internal/repo"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundEvent struct {
	event  event.WsEvent
	client *Client
}

type roomBucket struct {
	sync.RWMutex
	rooms map[string]map[string]*Client
}

// Hub is the connection registry and local room router. It owns every
// Client from register to deregister, keeps room membership in sharded
// buckets so contention stays scoped per room, and fans events out to
// local members only; cross-instance fan-out goes through the bridge.
type Hub struct {
	shards [shardCount]*roomBucket

	clients   map[string]*Client
	clientsMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent

	bridge   bridge.Broadcaster
	presence *PresenceTracker
	messages repo.MessageRepository
	logger   *zap.Logger

	allowedOrigins map[string]bool

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewHub(messages repo.MessageRepository, presence *PresenceTracker, b bridge.Broadcaster, allowedOrigins []string, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:        make(map[string]*Client),
		register:       make(chan *Client, 1024),
		unregister:     make(chan *Client, 1024),
		inbound:        make(chan inboundEvent, 4096), // buffer for burst handling
		bridge:         b,
		presence:       presence,
		messages:       messages,
		logger:         logger,
		allowedOrigins: make(map[string]bool, len(allowedOrigins)),
		ctx:            ctx,
		cancel:         cancel,
	}

	for _, origin := range allowedOrigins {
		h.allowedOrigins[origin] = true
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &roomBucket{
			rooms: make(map[string]map[string]*Client),
		}
	}

	// run manager loop
	go h.run()

	// start worker loop
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}

					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func getShard(roomKey string) uint32 {
	if roomKey == "" {
		return 0
	}

	sum := sha1.Sum([]byte(roomKey))
	return binary.BigEndian.Uint32(sum[:4]) % shardCount
}

func (h *Hub) addClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c.ID] = c
	h.clientsMu.Unlock()

	// every connection lives in its identity's personal room
	h.JoinRoom(c, event.Direct(c.identity.ID))

	h.presence.Connect(h.ctx, c.identity)
}

// removeClient deregisters a connection: out of every room, then the
// presence tracker. Safe to call more than once; only the first call
// does anything, so presence sees exactly one disconnect per client.
func (h *Hub) removeClient(c *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	h.clientsMu.Unlock()

	for _, room := range c.joinedRooms() {
		h.LeaveRoom(c, room)
	}

	c.Close()
	h.presence.Disconnect(h.ctx, c.identity)

	h.logger.Info("client removed",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.identity.ID),
	)
}

// JoinRoom is idempotent; joining twice is a no-op.
func (h *Hub) JoinRoom(c *Client, room event.RoomID) {
	if room.IsZero() || room.IsBroadcast() {
		return
	}

	key := room.Key()
	b := h.shards[getShard(key)]

	b.Lock()
	members, ok := b.rooms[key]
	if !ok {
		members = make(map[string]*Client)
		b.rooms[key] = members
	}
	members[c.ID] = c
	b.Unlock()

	c.trackRoom(room)
}

// LeaveRoom is idempotent; leaving a non-member room is a no-op.
func (h *Hub) LeaveRoom(c *Client, room event.RoomID) {
	key := room.Key()
	b := h.shards[getShard(key)]

	b.Lock()
	if members, ok := b.rooms[key]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(b.rooms, key)
		}
	}
	b.Unlock()

	c.untrackRoom(room)
}

// Deliver fans ev out to every local member of room. The broadcast
// pseudo-room reaches every local connection. A connection that cannot
// take the event within its write budget is treated as failed and
// deregistered; the rest of the room is unaffected.
func (h *Hub) Deliver(room event.RoomID, ev event.WsEvent) {
	for _, c := range h.roomMembers(room) {
		if c.trySend(ev, sendTimeout) {
			continue
		}

		h.logger.Warn("write budget exceeded, dropping client",
			zap.String("client_id", c.ID),
			zap.String("room", room.Key()),
		)
		select {
		case h.unregister <- c:
		default:
			// unregister queue full; reader teardown will retry
		}
	}
}

func (h *Hub) roomMembers(room event.RoomID) []*Client {
	if room.IsBroadcast() {
		h.clientsMu.RLock()
		defer h.clientsMu.RUnlock()

		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		return clients
	}

	key := room.Key()
	b := h.shards[getShard(key)]

	b.RLock()
	defer b.RUnlock()

	members, ok := b.rooms[key]
	if !ok || len(members) == 0 {
		return nil
	}

	clients := make([]*Client, 0, len(members))
	for _, c := range members {
		clients = append(clients, c)
	}
	return clients
}

// Stop tears the hub down: all connections closed, workers drained.
// Idempotent; both the server shutdown sequence and the container
// teardown call it.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()

		h.clientsMu.RLock()
		for _, c := range h.clients {
			c.Close()
		}
		h.clientsMu.RUnlock()

		close(h.inbound)
		h.wg.Wait()
	})
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	return h.allowedOrigins[origin]
}

// ServeWS upgrades an already-authenticated request and registers the
// connection. Auth happens before the upgrade; an unauthenticated
// request never reaches this point.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	upgrader := websocketUpgrader
	upgrader.CheckOrigin = h.checkOrigin

	// echo the bearer subprotocol when the credential came in that way
	var respHeader http.Header
	if strings.HasPrefix(strings.TrimSpace(r.Header.Get("Sec-WebSocket-Protocol")), "bearer") {
		respHeader = http.Header{"Sec-WebSocket-Protocol": []string{"bearer"}}
	}

	conn, err := upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(identity, conn, h)
}
