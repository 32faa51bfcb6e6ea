package model

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is a directory entry. Registration and profile editing live outside
// this service; the messaging side only reads it.
type User struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name        string             `json:"name" bson:"name"`
	PhoneNumber string             `json:"phoneNumber" bson:"phoneNumber"`
	Email       string             `json:"email" bson:"email"`
}
