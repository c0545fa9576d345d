package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents a user document in MongoDB. The relay only reads it at
// authentication time and writes status / last-seen on presence changes;
// account management lives with the persistence collaborator.
type User struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Username    string             `json:"username" bson:"username"`
	PhoneNumber string             `json:"phoneNumber,omitempty" bson:"phone_number,omitempty"`
	Avatar      string             `json:"avatar,omitempty" bson:"avatar,omitempty"`
	Status      string             `json:"status" bson:"status"`
	LastSeen    *time.Time         `json:"lastSeen,omitempty" bson:"last_seen,omitempty"`
	CreatedAt   time.Time          `json:"createdAt" bson:"created_at"`
}
