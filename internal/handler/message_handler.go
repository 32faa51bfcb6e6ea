package handler

import (
	"Saathi/internal/auth"
	"Saathi/internal/model"
	"Saathi/internal/service"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type MessageHandler interface {
	GetConversations(c *gin.Context)
	GetMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	SearchUsers(c *gin.Context)
}

type messageHandler struct {
	service service.MessageService
	logger  *zap.Logger
}

func NewMessageHandler(service service.MessageService, logger *zap.Logger) MessageHandler {
	return &messageHandler{
		service: service,
		logger:  logger,
	}
}

// GetConversations never fails the request; the client renders an empty list
// instead of an error state.
func (h *messageHandler) GetConversations(c *gin.Context) {
	userID := auth.UserID(c)

	cvs, err := h.service.Conversations(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load conversations", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusOK, []model.ConversationSummary{})
		return
	}

	c.JSON(http.StatusOK, cvs)
}

func (h *messageHandler) GetMessages(c *gin.Context) {
	userID := auth.UserID(c)
	otherUserID := c.Param("otherUserId")

	msgs, err := h.service.History(c.Request.Context(), userID, otherUserID)
	if err != nil {
		h.logger.Error("failed to fetch messages",
			zap.String("user_id", userID),
			zap.String("other_user_id", otherUserID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, msgs)
}

func (h *messageHandler) SendMessage(c *gin.Context) {
	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}

	msg, err := h.service.Send(c.Request.Context(), auth.UserID(c), req.ToUserID, req.Text)
	if errors.Is(err, service.ErrEmptyText) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Message text required"})
		return
	}
	if err != nil {
		h.logger.Error("failed to send message", zap.String("to_user_id", req.ToUserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to send message"})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *messageHandler) SearchUsers(c *gin.Context) {
	users, err := h.service.SearchUsers(c.Request.Context(), auth.UserID(c), c.Query("query"))
	if err != nil {
		h.logger.Error("failed to search users", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to search users"})
		return
	}

	c.JSON(http.StatusOK, users)
}
