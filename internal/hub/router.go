package hub

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/event"
	"github.com/bspark23/chatsphere-pro/internal/model"
)

// handleEvent is the single dispatch point for client events. The switch
// is exhaustive over the closed client kind set; readPump already
// filtered everything else.
func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	switch ev.Kind {
	case event.KindSendMessage:
		h.handleSendMessage(ev, c)
	case event.KindTyping:
		h.handleTyping(ev, c)
	case event.KindMarkRead:
		h.handleMarkRead(ev, c)
	case event.KindJoinGroup:
		h.handleJoinGroup(ev, c)
	case event.KindLeaveGroup:
		h.handleLeaveGroup(ev, c)
	case event.KindCallInitiate, event.KindCallAccept, event.KindCallReject, event.KindCallEnd:
		h.handleCallSignal(ev, c)
	default:
		h.logger.Warn("unhandled event kind", zap.String("kind", string(ev.Kind)))
		c.sendError("unknown_event", "event kind is not accepted from clients")
	}
}

// handleSendMessage persists the message, then fans the stored record
// out to the target room through the bridge. A persistence failure is
// acknowledged to the sender only; nothing is delivered.
func (h *Hub) handleSendMessage(ev event.WsEvent, c *Client) {
	var p event.SendMessagePayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		c.sendError("bad_payload", "failed to parse send-message payload")
		return
	}

	room, err := p.Room()
	if err != nil {
		c.sendError("bad_payload", err.Error())
		return
	}

	msgType := p.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}

	msg := &model.Message{
		SenderID:     c.identity.ID,
		SenderName:   c.identity.Username,
		SenderAvatar: c.identity.Avatar,
		Content:      p.Content,
		Type:         msgType,
		ChatType:     p.ChatType,
		Recipient:    p.Recipient,
		Group:        p.Group,
	}

	if _, err := h.messages.InsertMessage(h.ctx, msg); err != nil {
		h.logger.Error("message persist failed",
			zap.Error(err),
			zap.String("sender_id", c.identity.ID),
		)
		c.sendError("persist_failed", "message could not be stored")
		return
	}

	out, err := event.New(event.KindNewMessage, msg)
	if err != nil {
		h.logger.Error("new-message encode failed", zap.Error(err))
		return
	}

	h.bridge.Broadcast(h.ctx, room, out)

	// in a direct chat the sender is not a member of the recipient's
	// personal room, so its own connections get a copy through its own
	if room.Kind() == event.RoomDirect && room.Target() != c.identity.ID {
		h.bridge.Broadcast(h.ctx, event.Direct(c.identity.ID), out)
	}
}

func (h *Hub) handleTyping(ev event.WsEvent, c *Client) {
	var p event.TypingPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		c.sendError("bad_payload", "failed to parse typing payload")
		return
	}

	room, err := p.Room()
	if err != nil {
		c.sendError("bad_payload", err.Error())
		return
	}

	out, err := event.New(event.KindUserTyping, event.UserTypingPayload{
		UserID:   c.identity.ID,
		Username: c.identity.Username,
		IsTyping: p.IsTyping,
	})
	if err != nil {
		h.logger.Error("user-typing encode failed", zap.Error(err))
		return
	}

	// relayed only, never persisted
	h.bridge.Broadcast(h.ctx, room, out)
}

func (h *Hub) handleMarkRead(ev event.WsEvent, c *Client) {
	var p event.MarkReadPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		c.sendError("bad_payload", "failed to parse mark-read payload")
		return
	}

	room, err := event.ParseRoomKey(p.Room)
	if err != nil || room.IsBroadcast() {
		c.sendError("bad_payload", "mark-read requires a direct or group room")
		return
	}

	if err := h.messages.MarkRead(h.ctx, p.MessageIDs, c.identity.ID); err != nil {
		c.sendError("mark_read_failed", "read state could not be updated")
		return
	}

	out, err := event.New(event.KindMessagesRead, event.MessagesReadPayload{
		MessageIDs: p.MessageIDs,
		UserID:     c.identity.ID,
	})
	if err != nil {
		h.logger.Error("messages-read encode failed", zap.Error(err))
		return
	}

	h.bridge.Broadcast(h.ctx, room, out)
}

func (h *Hub) handleJoinGroup(ev event.WsEvent, c *Client) {
	groupID, ok := h.groupFrom(ev, c)
	if !ok {
		return
	}
	h.JoinRoom(c, event.Group(groupID))
}

func (h *Hub) handleLeaveGroup(ev event.WsEvent, c *Client) {
	groupID, ok := h.groupFrom(ev, c)
	if !ok {
		return
	}
	h.LeaveRoom(c, event.Group(groupID))
}

func (h *Hub) groupFrom(ev event.WsEvent, c *Client) (string, bool) {
	var p event.GroupPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil || p.GroupID == "" {
		c.sendError("bad_payload", "a group id is required")
		return "", false
	}
	return p.GroupID, true
}
