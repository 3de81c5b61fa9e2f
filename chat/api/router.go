package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the chat endpoints under the given group
// (conventionally /api).
func RegisterRoutes(group *gin.RouterGroup, handler *Handler) {
	chat := group.Group("/chat")
	{
		chat.POST("/threads", handler.CreateThread)
		chat.POST("/threads/:threadId/messages", handler.SendMessage)
		chat.POST("/threads/:threadId/messages/stream", handler.StreamMessage)
		chat.GET("/threads/:threadId/messages", handler.ListMessages)
		chat.GET("/threads/:threadId/ws", handler.StreamMessageWS)
	}
}
