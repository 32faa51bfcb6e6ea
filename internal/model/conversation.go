package model

import "time"

// ConversationSummary is one row of the conversation list: the latest message
// exchanged with a counterpart.
type ConversationSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phoneNumber"`
	LastMessage string    `json:"lastMessage"`
	Timestamp   time.Time `json:"timestamp"`
	Unread      bool      `json:"unread"`
}
