package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"social-service/internal/feed"
)

// FeedHandler serves the caller's feed.
type FeedHandler struct {
	feed *feed.Service
	log  *zap.Logger
}

// NewFeedHandler builds a FeedHandler.
func NewFeedHandler(feedService *feed.Service, log *zap.Logger) *FeedHandler {
	return &FeedHandler{feed: feedService, log: log.Named("feed")}
}

// GetFeed returns post ids newest first.
func (h *FeedHandler) GetFeed(c *gin.Context) {
	limit, err := queryInt(c, "limit", feed.DefaultLimit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	seq, err := h.feed.GetFeed(c.Request.Context(), userIDFromContext(c), limit, offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	ids, err := feed.Collect(seq)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"post_ids": ids,
		"limit":    feed.ClampLimit(limit),
		"offset":   offset,
	})
}
