package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"social-service/internal/delivery"
	"social-service/internal/models"
)

// ConversationHandler manages conversation and message endpoints.
type ConversationHandler struct {
	coord *delivery.Coordinator
	log   *zap.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(coord *delivery.Coordinator, log *zap.Logger) *ConversationHandler {
	return &ConversationHandler{coord: coord, log: log.Named("conversations")}
}

// CreateConversation starts a direct or group conversation including the
// caller.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		ParticipantIDs []string                `json:"participant_ids" binding:"required"`
		Kind           models.ConversationKind `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.coord.CreateConversation(c.Request.Context(), userIDFromContext(c), req.ParticipantIDs, req.Kind)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// ListConversations returns the ids of the caller's conversations.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	ids, err := h.coord.ListConversations(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_ids": ids})
}

// GetConversation returns a conversation with its latest messages.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	view, err := h.coord.GetConversation(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// SendMessage posts a message to a conversation.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.coord.Send(c.Request.Context(), c.Param("conversation_id"), userIDFromContext(c), req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ConversationHandler) MarkDelivered(c *gin.Context) {
	msg, err := h.coord.MarkDelivered(c.Request.Context(), c.Param("message_id"), userIDFromContext(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *ConversationHandler) MarkRead(c *gin.Context) {
	msg, err := h.coord.MarkRead(c.Request.Context(), c.Param("message_id"), userIDFromContext(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// EditMessage replaces the content of the caller's message.
func (h *ConversationHandler) EditMessage(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.coord.Edit(c.Request.Context(), c.Param("message_id"), userIDFromContext(c), req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage deletes the caller's message for every participant.
func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	if err := h.coord.Delete(c.Request.Context(), c.Param("message_id"), userIDFromContext(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
