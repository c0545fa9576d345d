package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/event"
)

// DefaultChannel carries all chat fan-out between instances.
const DefaultChannel = "chat-messages"

// RedisBridge broadcasts events over a shared Redis pub/sub channel.
// Every instance subscribes to the same channel and receives every
// publication, its own included; the local router filters by room
// membership on receive.
type RedisBridge struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu     sync.RWMutex
	local  Deliverer
	pubsub *redis.PubSub

	// when set, the subscribe loop is not running and Broadcast goes
	// straight to the local router
	degraded atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisBridge(client *redis.Client, channel string, logger *zap.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start begins the single subscribe loop for this instance. The loop
// stays up until Close or ctx cancellation. If the subscription cannot
// be established the bridge runs degraded: local delivery keeps working,
// cross-instance fan-out silently stops.
func (b *RedisBridge) Start(ctx context.Context, local Deliverer) error {
	b.mu.Lock()
	b.local = local
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		b.degraded.Store(true)
		return err
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.cancel = cancel
	b.mu.Unlock()

	go b.subscribeLoop(ctx, pubsub.Channel())

	b.logger.Info("bridge subscribed", zap.String("channel", b.channel))
	return nil
}

func (b *RedisBridge) subscribeLoop(ctx context.Context, ch <-chan *redis.Message) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("bridge received malformed envelope", zap.Error(err))
				continue
			}

			room, err := event.ParseRoomKey(env.Room)
			if err != nil {
				b.logger.Warn("bridge received bad room key",
					zap.Error(err),
					zap.String("room", env.Room),
				)
				continue
			}

			b.deliverLocal(room, env.Event)
		}
	}
}

// Broadcast publishes the envelope for every instance, this one
// included; delivery to local members happens through the subscribe
// loop. If the channel is down the event is handed to the local router
// directly, so single-instance delivery keeps working while the fleet
// view silently degrades.
func (b *RedisBridge) Broadcast(ctx context.Context, room event.RoomID, ev event.WsEvent) {
	if b.degraded.Load() {
		b.deliverLocal(room, ev)
		return
	}

	env := Envelope{Room: room.Key(), Event: ev}

	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("bridge envelope marshal failed", zap.Error(err))
		return
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Warn("bridge publish failed, delivering locally only",
			zap.Error(err),
			zap.String("room", env.Room),
			zap.String("event", string(ev.Kind)),
		)
		b.deliverLocal(room, ev)
	}
}

func (b *RedisBridge) deliverLocal(room event.RoomID, ev event.WsEvent) {
	b.mu.RLock()
	local := b.local
	b.mu.RUnlock()

	if local != nil {
		local.Deliver(room, ev)
	}
}

func (b *RedisBridge) Close() error {
	b.mu.Lock()
	cancel := b.cancel
	pubsub := b.pubsub
	b.cancel = nil
	b.pubsub = nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	err := pubsub.Close()
	<-b.done
	return err
}
