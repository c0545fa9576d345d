package hub

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/event"
)

// handleCallSignal relays call lifecycle events between exactly two
// identities. The signal blob is opaque negotiation data owned by the
// endpoints; it passes through unmodified and is never persisted.
//
// If the target has no connection anywhere in the fleet the event lands
// in an empty room; the caller applies its own ring timeout. That is a
// documented limitation of the relay, not something it papers over.
func (h *Hub) handleCallSignal(ev event.WsEvent, c *Client) {
	var p event.CallSignalPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		c.sendError("bad_payload", "failed to parse call signal payload")
		return
	}

	if p.To == "" {
		c.sendError("bad_payload", "call signal requires a target identity")
		return
	}

	out, err := h.callReply(ev.Kind, p, c)
	if err != nil {
		h.logger.Error("call signal encode failed",
			zap.Error(err),
			zap.String("kind", string(ev.Kind)),
		)
		return
	}

	h.bridge.Broadcast(h.ctx, event.Direct(p.To), out)
}

func (h *Hub) callReply(kind event.Kind, p event.CallSignalPayload, c *Client) (event.WsEvent, error) {
	switch kind {
	case event.KindCallInitiate:
		return event.New(event.KindIncomingCall, event.IncomingCallPayload{
			From:     c.identity.ID,
			Username: c.identity.Username,
			Signal:   p.Signal,
			CallType: p.CallType,
		})
	case event.KindCallAccept:
		return event.New(event.KindCallAccepted, event.CallAcceptedPayload{
			From:   c.identity.ID,
			Signal: p.Signal,
		})
	case event.KindCallReject:
		return event.New(event.KindCallRejected, event.CallRejectedPayload{
			From: c.identity.ID,
		})
	default: // event.KindCallEnd
		return event.New(event.KindCallEnded, event.CallEndedPayload{
			From: c.identity.ID,
		})
	}
}
