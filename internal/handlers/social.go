package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"social-service/internal/repositories"
	"social-service/internal/ws"
)

const defaultNotificationLimit = 50

// SocialHandler serves the follow graph, presence and stored notifications.
type SocialHandler struct {
	follows       repositories.FollowRepository
	notifications repositories.NotificationRepository
	registry      *ws.Registry
	log           *zap.Logger
}

// NewSocialHandler builds a SocialHandler.
func NewSocialHandler(follows repositories.FollowRepository, notifications repositories.NotificationRepository, registry *ws.Registry, log *zap.Logger) *SocialHandler {
	return &SocialHandler{follows: follows, notifications: notifications, registry: registry, log: log.Named("social")}
}

// Follow makes the caller follow :user_id.
func (h *SocialHandler) Follow(c *gin.Context) {
	if err := h.follows.Follow(c.Request.Context(), userIDFromContext(c), c.Param("user_id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SocialHandler) Unfollow(c *gin.Context) {
	if err := h.follows.Unfollow(c.Request.Context(), userIDFromContext(c), c.Param("user_id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Presence reports whether :user_id is online on this node.
func (h *SocialHandler) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Presence(c.Param("user_id")))
}

// Notifications lists the caller's stored notifications, newest first.
func (h *SocialHandler) Notifications(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultNotificationLimit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if limit <= 0 || limit > 200 {
		limit = defaultNotificationLimit
	}
	list, err := h.notifications.ListForRecipient(c.Request.Context(), userIDFromContext(c), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}
