package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatMessage is one direct message in the ledger. Content never changes after
// insert; only Read flips, and only from the recipient side.
type ChatMessage struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	SenderID    string             `json:"senderId" bson:"sender_id"`
	RecipientID string             `json:"recipientId" bson:"recipient_id"`
	Text        string             `json:"text" bson:"text"`
	CreatedAt   time.Time          `json:"createdAt" bson:"created_at"`
	Read        bool               `json:"read" bson:"read"`
}

// Counterpart returns the other participant of the message as seen by userID.
func (m ChatMessage) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// SendMessageRequest is the body of the non-realtime send endpoint
type SendMessageRequest struct {
	ToUserID string `json:"toUserId" binding:"required"`
	Text     string `json:"text"`
}
