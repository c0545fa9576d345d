package bridge

import (
	"context"
	"sync"

	"github.com/bspark23/chatsphere-pro/internal/event"
)

// Local is the single-instance broadcaster: every event goes straight
// to the local router. Used when no Redis URL is configured and in
// tests; it is also what a RedisBridge degrades to per event when the
// shared channel is down.
type Local struct {
	mu    sync.RWMutex
	local Deliverer
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Start(_ context.Context, local Deliverer) error {
	l.mu.Lock()
	l.local = local
	l.mu.Unlock()
	return nil
}

func (l *Local) Broadcast(_ context.Context, room event.RoomID, ev event.WsEvent) {
	l.mu.RLock()
	local := l.local
	l.mu.RUnlock()

	if local != nil {
		local.Deliver(room, ev)
	}
}

func (l *Local) Close() error { return nil }
