package approuters

import (
	"Saathi/internal/auth"
	"Saathi/internal/configuration"

	"github.com/gin-gonic/gin"
)

// MessageRouters mounts the authenticated REST collaborators of the chat core.
func MessageRouters(router *gin.Engine, container *configuration.Container) {
	messageRoute := router.Group("/api/messages", auth.RequireAuth(container.Verifier))
	{
		messageRoute.GET("/conversations", container.MessageHandler.GetConversations)
		messageRoute.GET("/with/:otherUserId", container.MessageHandler.GetMessages)
		messageRoute.POST("/send", container.MessageHandler.SendMessage)
		messageRoute.GET("/search", container.MessageHandler.SearchUsers)
	}
}
