package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/hub"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/repo"
	"github.com/gaurav2731/v0-quantum-safe-messenger-sub001/internal/service"
	"github.com/gin-gonic/gin"
)

// ConversationHandler serves conversation listing, history, and the
// membership invalidation hook external collaborators call on membership
// changes.
type ConversationHandler interface {
	GetConversations(c *gin.Context)
	GetConversationMessages(c *gin.Context)
	InvalidateMembership(c *gin.Context)
}

type conversationHandler struct {
	history    service.HistoryService
	membership *hub.MembershipIndex
}

func NewConversationHandler(history service.HistoryService, membership *hub.MembershipIndex) ConversationHandler {
	return &conversationHandler{
		history:    history,
		membership: membership,
	}
}

func (h *conversationHandler) GetConversations(c *gin.Context) {
	convs, err := h.history.Conversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get conversations",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": convs,
	})
}

func (h *conversationHandler) GetConversationMessages(c *gin.Context) {
	conversationID := c.Param("conversationId")
	page := c.DefaultQuery("page", "1")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid page number",
		})
		return
	}

	msgs, err := h.history.ConversationMessages(c.Request.Context(), conversationID, pageNumber)
	if err != nil {
		if errors.Is(err, repo.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Conversation not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get messages",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
	})
}

// InvalidateMembership drops the cached membership for a conversation so
// the next fan-out resolves fresh from persistence.
func (h *conversationHandler) InvalidateMembership(c *gin.Context) {
	conversationID := c.Param("conversationId")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "conversationId is required",
		})
		return
	}

	h.membership.Invalidate(conversationID)
	c.Status(http.StatusNoContent)
}
