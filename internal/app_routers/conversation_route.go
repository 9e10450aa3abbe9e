package approuters

import (
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/configuration"

	"github.com/gin-gonic/gin"
)

func ConversationRouters(router *gin.Engine, container *configuration.Container) {
	conversationRoute := router.Group("/messenger/api")
	{
		conversationRoute.GET("/conversations", container.ConversationHandler.GetConversations)
		conversationRoute.GET("/conversations/:conversationId/messages", container.ConversationHandler.GetConversationMessages)
		conversationRoute.POST("/conversations/:conversationId/invalidate-members", container.ConversationHandler.InvalidateMembership)
	}
}
