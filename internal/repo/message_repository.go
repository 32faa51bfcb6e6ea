package repo

import (
	"Saathi/internal/db"
	"Saathi/internal/model"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	ErrInvalidMessage     = errors.New("invalid message")
	ErrInvalidUserID      = errors.New("invalid user ID: cannot be empty")
	ErrOperationTimeout   = errors.New("operation timeout exceeded")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

type messageRepository struct {
	mongoRepo *db.Repository[model.ChatMessage]
	logger    *zap.Logger
}

//go:generate mockgen -destination=../mocks/mock_repo.go -package=mocks Saathi/internal/repo MessageRepository,UserRepository

// MessageRepository is the message ledger: append-only writes plus the read
// paths behind the REST history endpoints.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg *model.ChatMessage) error
	Conversation(ctx context.Context, userID, otherUserID string) ([]model.ChatMessage, error)
	MarkRead(ctx context.Context, fromUserID, toUserID string) (int64, error)
	RecentForUser(ctx context.Context, userID string) ([]model.ChatMessage, error)
	EnsureIndexes(ctx context.Context) error
}

func NewMessageRepository(repo *db.Repository[model.ChatMessage], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

// -----------------------------------------------------------------------------
// AppendMessage
// -----------------------------------------------------------------------------

// AppendMessage inserts msg and sets msg.ID. The id is chosen before the
// first attempt, so a retry after an ambiguous network failure either inserts
// the document or hits a duplicate key, which means the earlier attempt won.
func (m *messageRepository) AppendMessage(ctx context.Context, msg *model.ChatMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return err
			}
		}

		_, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil || (attempt > 0 && mongo.IsDuplicateKeyError(err)) {
			m.logger.Info("message inserted successfully",
				zap.String("message_id", msg.ID.Hex()),
				zap.String("sender_id", msg.SenderID),
				zap.String("recipient_id", msg.RecipientID),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}

		lastErr = err

		// Don't retry on context cancellation or non-retryable errors
		if !isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message",
		zap.Error(lastErr),
		zap.String("sender_id", msg.SenderID),
		zap.String("recipient_id", msg.RecipientID),
	)

	msg.ID = primitive.NilObjectID
	if isRetryableError(lastErr) {
		return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
	}
	return fmt.Errorf("insert message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Conversation returns every message exchanged between the two users,
// oldest first.
func (m *messageRepository) Conversation(ctx context.Context, userID, otherUserID string) ([]model.ChatMessage, error) {
	if userID == "" || otherUserID == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := conversationFilter(userID, otherUserID)
	msgs, err := m.mongoRepo.FindAll(ctx, filter, db.Sorted("created_at", false))
	if err != nil {
		return nil, m.handleReadError(err, userID)
	}

	m.logger.Debug("conversation loaded",
		zap.String("user_id", userID),
		zap.String("other_user_id", otherUserID),
		zap.Int("count", len(msgs)),
	)
	return msgs, nil
}

// MarkRead flags every unread message from fromUserID to toUserID as read.
func (m *messageRepository) MarkRead(ctx context.Context, fromUserID, toUserID string) (int64, error) {
	if fromUserID == "" || toUserID == "" {
		return 0, ErrInvalidUserID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("sender_id", fromUserID).
		Eq("recipient_id", toUserID).
		Eq("read", false).
		Build()

	result, err := m.mongoRepo.UpdateMany(ctx, filter, bson.M{"read": true})
	if err != nil {
		m.logger.Error("failed to mark messages read", zap.Error(err), zap.String("user_id", toUserID))
		return 0, fmt.Errorf("mark read failed: %w", err)
	}
	return result.ModifiedCount, nil
}

// RecentForUser returns every message the user sent or received, newest first.
func (m *messageRepository) RecentForUser(ctx context.Context, userID string) ([]model.ChatMessage, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Or(
		bson.M{"sender_id": userID},
		bson.M{"recipient_id": userID},
	).Build()

	msgs, err := m.mongoRepo.FindAll(ctx, filter, db.Sorted("created_at", true))
	if err != nil {
		return nil, m.handleReadError(err, userID)
	}
	return msgs, nil
}

// EnsureIndexes creates the indexes the conversation and unread queries use.
func (m *messageRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := m.mongoRepo.CreateIndexes(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "recipient_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("pair_created_at"),
		},
		{
			Keys:    bson.D{{Key: "recipient_id", Value: 1}, {Key: "read", Value: 1}},
			Options: options.Index().SetName("recipient_read"),
		},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func conversationFilter(userID, otherUserID string) bson.M {
	return db.NewFilter().Or(
		bson.M{"sender_id": userID, "recipient_id": otherUserID},
		bson.M{"sender_id": otherUserID, "recipient_id": userID},
	).Build()
}

func validateMessage(msg *model.ChatMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: message cannot be nil", ErrInvalidMessage)
	}
	if msg.SenderID == "" || msg.RecipientID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrInvalidUserID)
	}
	if strings.TrimSpace(msg.Text) == "" {
		return fmt.Errorf("%w: text cannot be empty", ErrInvalidMessage)
	}
	return nil
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

func waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// MongoDB transient errors
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

func (m *messageRepository) handleReadError(err error, userID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("user_id", userID))
		return ErrOperationTimeout
	}

	if errors.Is(err, context.Canceled) {
		m.logger.Debug("read cancelled", zap.String("user_id", userID))
		return err
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("user_id", userID))
	return fmt.Errorf("read messages failed: %w", err)
}
