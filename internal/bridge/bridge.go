package bridge

import (
	"context"

	"github.com/bspark23/chatsphere-pro/internal/event"
)

// Envelope is the serialized form of an event crossing instances.
type Envelope struct {
	Room  string        `json:"room"`
	Event event.WsEvent `json:"event"`
}

// Deliverer is the receive side of the local room router: it fans an
// event out to the room's members on this instance only.
type Deliverer interface {
	Deliver(room event.RoomID, ev event.WsEvent)
}

// Broadcaster makes delivery consistent across stateless instances.
// Implementations publish unconditionally; receivers filter by local
// room membership.
type Broadcaster interface {
	// Broadcast fans ev out to every member of room, fleet-wide.
	// Failures degrade to local-only delivery and are never returned
	// to the emitting client.
	Broadcast(ctx context.Context, room event.RoomID, ev event.WsEvent)

	// Start wires the local deliverer and begins the subscribe loop.
	// Called once per instance at startup.
	Start(ctx context.Context, local Deliverer) error

	Close() error
}
