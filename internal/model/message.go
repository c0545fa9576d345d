package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message types
const (
	MessageTypeText     = "text"
	MessageTypePoll     = "poll"
	MessageTypeGame     = "game"
	MessageTypeLocation = "location"
)

// Message represents a chat message document in MongoDB. The relay writes
// it once on send-message and updates readBy on mark-read; querying and
// everything else belongs to the REST layer.
type Message struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SenderID     string             `json:"senderId" bson:"sender_id"`
	SenderName   string             `json:"senderName" bson:"sender_name"`
	SenderAvatar string             `json:"senderAvatar,omitempty" bson:"sender_avatar,omitempty"`
	Content      string             `json:"content" bson:"content"`
	Type         string             `json:"type" bson:"type"`
	ChatType     string             `json:"chatType" bson:"chat_type"`
	Recipient    string             `json:"recipient,omitempty" bson:"recipient,omitempty"`
	Group        string             `json:"group,omitempty" bson:"group,omitempty"`
	ReadBy       []ReadReceipt      `json:"readBy" bson:"read_by"`
	Deleted      bool               `json:"deleted" bson:"deleted"`
	CreatedAt    time.Time          `json:"createdAt" bson:"created_at"`
}

// ReadReceipt marks one reader of a message.
type ReadReceipt struct {
	UserID string    `json:"user" bson:"user"`
	ReadAt time.Time `json:"readAt" bson:"read_at"`
}
