package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/auth"
	"github.com/bspark23/chatsphere-pro/internal/bridge"
	"github.com/bspark23/chatsphere-pro/internal/event"
	"github.com/bspark23/chatsphere-pro/internal/repo"
)

// PresenceTracker keeps a per-identity connection count for this
// instance. Online is entered on the first register, offline on the
// last deregister; both transitions are published through the bridge
// and written to the identity store. Cross-instance accuracy is best
// effort: a single shared store absorbs the benign race of
// near-simultaneous multi-device disconnects (last write wins).
//
// Status changes are broadcast to every connection rather than to the
// identity's contacts only. That mirrors the upstream behavior and is a
// known scaling limitation, not an invariant worth preserving at scale.
type PresenceTracker struct {
	mu    sync.Mutex
	conns map[string]int

	users  repo.UserRepository
	bridge bridge.Broadcaster
	logger *zap.Logger
}

func NewPresenceTracker(users repo.UserRepository, b bridge.Broadcaster, logger *zap.Logger) *PresenceTracker {
	return &PresenceTracker{
		conns:  make(map[string]int),
		users:  users,
		bridge: b,
		logger: logger,
	}
}

// Connect records one more live connection for the identity. The first
// connection flips the identity online.
func (p *PresenceTracker) Connect(ctx context.Context, identity auth.Identity) {
	p.mu.Lock()
	p.conns[identity.ID]++
	first := p.conns[identity.ID] == 1
	p.mu.Unlock()

	if !first {
		return
	}

	if err := p.users.SetStatus(ctx, identity.ID, event.StatusOnline); err != nil {
		p.logger.Warn("online status persist failed",
			zap.Error(err),
			zap.String("user_id", identity.ID),
		)
	}

	p.publishStatus(ctx, identity.ID, event.StatusOnline)
}

// Disconnect records one connection gone. Only the last connection
// flips the identity offline, so two devices closing in sequence
// produce exactly one offline broadcast.
func (p *PresenceTracker) Disconnect(ctx context.Context, identity auth.Identity) {
	p.mu.Lock()
	if p.conns[identity.ID] == 0 {
		p.mu.Unlock()
		return
	}
	p.conns[identity.ID]--
	last := p.conns[identity.ID] == 0
	if last {
		delete(p.conns, identity.ID)
	}
	p.mu.Unlock()

	if !last {
		return
	}

	if err := p.users.SetOffline(ctx, identity.ID, time.Now().UTC()); err != nil {
		p.logger.Warn("last-seen persist failed",
			zap.Error(err),
			zap.String("user_id", identity.ID),
		)
	}

	p.publishStatus(ctx, identity.ID, event.StatusOffline)
}

// Online reports whether the identity has at least one live connection
// on this instance.
func (p *PresenceTracker) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[userID] > 0
}

// OnlineCount returns the number of identities with a live connection
// on this instance.
func (p *PresenceTracker) OnlineCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *PresenceTracker) publishStatus(ctx context.Context, userID, status string) {
	ev, err := event.New(event.KindUserStatus, event.UserStatusPayload{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		p.logger.Error("user-status encode failed", zap.Error(err))
		return
	}

	p.bridge.Broadcast(ctx, event.Broadcast(), ev)
}
