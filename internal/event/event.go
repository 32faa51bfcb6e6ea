package event

import (
	"Saathi/internal/model"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Inbound frame types
const (
	TypeSendMessage = "send_message"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
)

// Outbound frame types
const (
	TypeConnected   = "connected"
	TypeMessageSent = "message_sent"
	TypeNewMessage  = "new_message"
	TypeTyping      = "typing"
)

const connectedGreeting = "WebSocket connected successfully"

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown frame type")
)

var validate = validator.New()

// Frame is a decoded inbound frame. Text is only meaningful for send_message.
type Frame struct {
	Type     string `json:"type" validate:"required"`
	ToUserID string `json:"toUserId" validate:"required"`
	Text     string `json:"text"`
}

// Decode parses one text message from a client. Unknown types come back as
// ErrUnknownType so the caller can ignore them without treating the frame as
// malformed.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Type {
	case TypeSendMessage, TypeTypingStart, TypeTypingStop:
	default:
		return f, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}

	if err := validate.Struct(f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// Connected acknowledges a successful handshake.
type Connected struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WireMessage is a persisted message as sent to clients. FromUserName is only
// filled on deliveries.
type WireMessage struct {
	model.ChatMessage
	FromUserName string `json:"fromUserName,omitempty"`
}

// MessageEvent carries a persisted message, either as the sender's echo
// (message_sent) or as a delivery to the recipient (new_message).
type MessageEvent struct {
	Type    string      `json:"type"`
	Message WireMessage `json:"message"`
}

// Typing is the presence signal relayed to the recipient. Never persisted.
type Typing struct {
	Type       string `json:"type"`
	FromUserID string `json:"fromUserId"`
	IsTyping   bool   `json:"isTyping"`
}

func NewConnected() Connected {
	return Connected{Type: TypeConnected, Message: connectedGreeting}
}

func NewMessageSent(msg model.ChatMessage) MessageEvent {
	return MessageEvent{Type: TypeMessageSent, Message: WireMessage{ChatMessage: msg}}
}

func NewMessageDelivered(msg model.ChatMessage, fromUserName string) MessageEvent {
	return MessageEvent{
		Type:    TypeNewMessage,
		Message: WireMessage{ChatMessage: msg, FromUserName: fromUserName},
	}
}

func NewTyping(fromUserID string, isTyping bool) Typing {
	return Typing{Type: TypeTyping, FromUserID: fromUserID, IsTyping: isTyping}
}
