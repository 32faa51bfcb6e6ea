package service

import (
	"Saathi/internal/model"
	"Saathi/internal/repo"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var ErrEmptyText = errors.New("message text required")

const minSearchLength = 2

//go:generate mockgen -destination=../mocks/mock_service.go -package=mocks Saathi/internal/service MessageService

// MessageService backs the REST collaborators around the realtime core.
type MessageService interface {
	Conversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	History(ctx context.Context, userID, otherUserID string) ([]model.ChatMessage, error)
	Send(ctx context.Context, userID, toUserID, text string) (*model.ChatMessage, error)
	SearchUsers(ctx context.Context, userID, query string) ([]model.User, error)
}

// Clock stamps new messages. Sharing the hub's clock keeps REST and
// realtime timestamps on one monotonic sequence.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

type messageService struct {
	messageRepo repo.MessageRepository
	userRepo    repo.UserRepository
	clock       Clock
	logger      *zap.Logger
}

// NewMessageService wires the service. A nil clock falls back to wall time.
func NewMessageService(messageRepo repo.MessageRepository, userRepo repo.UserRepository, clock Clock, logger *zap.Logger) MessageService {
	if clock == nil {
		clock = wallClock{}
	}
	return &messageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		clock:       clock,
		logger:      logger,
	}
}

// Conversations lists one entry per counterpart, most recent first.
// Counterparts missing from the user directory are left out.
func (s *messageService) Conversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	msgs, err := s.messageRepo.RecentForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// msgs is newest first, so the first hit per counterpart is its latest
	latest := make(map[string]model.ChatMessage)
	for _, msg := range msgs {
		other := msg.Counterpart(userID)
		if _, seen := latest[other]; !seen {
			latest[other] = msg
		}
	}
	if len(latest) == 0 {
		return []model.ConversationSummary{}, nil
	}

	users, err := s.userRepo.FindByIDs(ctx, lo.Keys(latest))
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ConversationSummary, 0, len(users))
	for _, u := range users {
		msg, ok := latest[u.ID.Hex()]
		if !ok {
			continue
		}
		summaries = append(summaries, model.ConversationSummary{
			ID:          u.ID.Hex(),
			Name:        u.Name,
			PhoneNumber: u.PhoneNumber,
			LastMessage: msg.Text,
			Timestamp:   msg.CreatedAt,
			Unread:      msg.RecipientID == userID && !msg.Read,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})

	s.logger.Debug("conversations built",
		zap.String("user_id", userID),
		zap.Int("counterparts", len(latest)),
		zap.Int("returned", len(summaries)),
	)
	return summaries, nil
}

// History returns the conversation oldest first and then marks the
// counterpart's messages as read. The returned flags are as they were before.
func (s *messageService) History(ctx context.Context, userID, otherUserID string) ([]model.ChatMessage, error) {
	msgs, err := s.messageRepo.Conversation(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}

	if _, err := s.messageRepo.MarkRead(ctx, otherUserID, userID); err != nil {
		s.logger.Warn("failed to mark conversation read",
			zap.String("user_id", userID),
			zap.String("other_user_id", otherUserID),
			zap.Error(err),
		)
	}
	return msgs, nil
}

// Send persists a message without realtime delivery; the recipient sees it
// on the next history fetch.
func (s *messageService) Send(ctx context.Context, userID, toUserID, text string) (*model.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	msg := &model.ChatMessage{
		SenderID:    userID,
		RecipientID: toUserID,
		Text:        text,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.messageRepo.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// SearchUsers finds other users by name or phone; short queries match nothing.
func (s *messageService) SearchUsers(ctx context.Context, userID, query string) ([]model.User, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minSearchLength {
		return []model.User{}, nil
	}
	return s.userRepo.Search(ctx, query, userID)
}
