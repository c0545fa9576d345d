package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a websocket event. The set is closed: the hub dispatches
// with an exhaustive switch and rejects anything it does not know.
type Kind string

// Client to server
const (
	KindSendMessage Kind = "send-message"
	KindTyping      Kind = "typing"
	KindMarkRead    Kind = "mark-read"
	KindJoinGroup   Kind = "join-group"
	KindLeaveGroup  Kind = "leave-group"
)

// Server to client
const (
	KindNewMessage   Kind = "new-message"
	KindUserTyping   Kind = "user-typing"
	KindMessagesRead Kind = "messages-read"
	KindUserStatus   Kind = "user-status"
	KindError        Kind = "error"
)

// Chat types
const (
	ChatTypeDirect = "direct"
	ChatTypeGroup  = "group"
)

// Presence status values
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

var ErrUnknownKind = errors.New("unknown event kind")

var clientKinds = map[Kind]bool{
	KindSendMessage:  true,
	KindTyping:       true,
	KindMarkRead:     true,
	KindJoinGroup:    true,
	KindLeaveGroup:   true,
	KindCallInitiate: true,
	KindCallAccept:   true,
	KindCallReject:   true,
	KindCallEnd:      true,
}

// IsClientKind reports whether k is something a client is allowed to send.
func IsClientKind(k Kind) bool {
	return clientKinds[k]
}

// WsEvent is the wire envelope for every event in both directions.
// Payload stays raw until the dispatcher knows what to decode it into.
type WsEvent struct {
	Kind    Kind            `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// New builds a WsEvent from a payload struct.
func New(kind Kind, payload any) (WsEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WsEvent{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return WsEvent{Kind: kind, Payload: raw}, nil
}

// -----------------------------------------------------------------
// Room identifiers
// -----------------------------------------------------------------

// RoomKind tags the two room flavours plus the broadcast pseudo-room.
type RoomKind uint8

const (
	RoomDirect RoomKind = iota + 1
	RoomGroup
	RoomBroadcast
)

var ErrBadRoomKey = errors.New("malformed room key")

// RoomID is a tagged room identifier: the personal room of one identity,
// a group's shared room, or the broadcast pseudo-room reaching every
// connection. Tagging removes the collision risk of bare string rooms.
type RoomID struct {
	kind   RoomKind
	target string
}

func Direct(userID string) RoomID { return RoomID{kind: RoomDirect, target: userID} }
func Group(groupID string) RoomID { return RoomID{kind: RoomGroup, target: groupID} }
func Broadcast() RoomID           { return RoomID{kind: RoomBroadcast} }

func (r RoomID) Kind() RoomKind    { return r.kind }
func (r RoomID) Target() string    { return r.target }
func (r RoomID) IsZero() bool      { return r.kind == 0 }
func (r RoomID) IsBroadcast() bool { return r.kind == RoomBroadcast }

// Key returns the canonical map/wire key for the room.
func (r RoomID) Key() string {
	switch r.kind {
	case RoomDirect:
		return "d:" + r.target
	case RoomGroup:
		return "g:" + r.target
	case RoomBroadcast:
		return "*"
	default:
		return ""
	}
}

func (r RoomID) String() string { return r.Key() }

// ParseRoomKey is the inverse of Key; used when rooms cross the bridge.
func ParseRoomKey(key string) (RoomID, error) {
	if key == "*" {
		return Broadcast(), nil
	}
	kind, target, ok := strings.Cut(key, ":")
	if !ok || target == "" {
		return RoomID{}, fmt.Errorf("%w: %q", ErrBadRoomKey, key)
	}
	switch kind {
	case "d":
		return Direct(target), nil
	case "g":
		return Group(target), nil
	default:
		return RoomID{}, fmt.Errorf("%w: %q", ErrBadRoomKey, key)
	}
}

// -----------------------------------------------------------------
// Payloads
// -----------------------------------------------------------------

// SendMessagePayload is emitted by a client to post a chat message.
type SendMessagePayload struct {
	Content   string `json:"content"`
	Type      string `json:"type"` // "text", "image", ...
	ChatType  string `json:"chatType"`
	Recipient string `json:"recipient,omitempty"`
	Group     string `json:"group,omitempty"`
}

// Room derives the delivery room from the chat type.
func (p SendMessagePayload) Room() (RoomID, error) {
	return chatRoom(p.ChatType, p.Recipient, p.Group)
}

// TypingPayload is emitted by a client toggling its typing indicator.
type TypingPayload struct {
	ChatType  string `json:"chatType"`
	Recipient string `json:"recipient,omitempty"`
	Group     string `json:"group,omitempty"`
	IsTyping  bool   `json:"isTyping"`
}

func (p TypingPayload) Room() (RoomID, error) {
	return chatRoom(p.ChatType, p.Recipient, p.Group)
}

// UserTypingPayload is fanned out to the room when someone types.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// MarkReadPayload is emitted by a client acknowledging messages.
type MarkReadPayload struct {
	MessageIDs []string `json:"messageIds"`
	Room       string   `json:"room"`
}

// MessagesReadPayload notifies room members of a read receipt.
type MessagesReadPayload struct {
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

// GroupPayload carries the group id for join-group / leave-group.
type GroupPayload struct {
	GroupID string `json:"groupId"`
}

// UserStatusPayload announces a presence transition.
type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// ErrorPayload is returned to the originating connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func chatRoom(chatType, recipient, group string) (RoomID, error) {
	switch chatType {
	case ChatTypeDirect:
		if recipient == "" {
			return RoomID{}, errors.New("direct chat requires a recipient")
		}
		return Direct(recipient), nil
	case ChatTypeGroup:
		if group == "" {
			return RoomID{}, errors.New("group chat requires a group id")
		}
		return Group(group), nil
	default:
		return RoomID{}, fmt.Errorf("unknown chat type %q", chatType)
	}
}
