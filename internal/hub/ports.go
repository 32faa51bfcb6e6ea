package hub

import (
	"Saathi/internal/model"
	"context"
)

//go:generate mockgen -source=ports.go -destination=../mocks/mock_hub.go -package=mocks

// Ledger is the durable append-only message store. AppendMessage assigns
// msg.ID on success and must not mutate any other field.
type Ledger interface {
	AppendMessage(ctx context.Context, msg *model.ChatMessage) error
}

// CredentialVerifier turns an opaque bearer credential into a user identity.
type CredentialVerifier interface {
	Verify(token string) (string, error)
}

// UserDirectory resolves a sender's display name for delivered messages.
// FindByID returns nil, nil when the user is unknown.
type UserDirectory interface {
	FindByID(ctx context.Context, userID string) (*model.User, error)
}
