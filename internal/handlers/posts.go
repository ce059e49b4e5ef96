package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"social-service/internal/engagement"
	"social-service/internal/models"
	"social-service/internal/posts"
)

// PostHandler manages post, comment and like endpoints.
type PostHandler struct {
	posts *posts.Service
	likes *engagement.Service
	log   *zap.Logger
}

// NewPostHandler builds a PostHandler.
func NewPostHandler(postService *posts.Service, likes *engagement.Service, log *zap.Logger) *PostHandler {
	return &PostHandler{posts: postService, likes: likes, log: log.Named("posts")}
}

type contentRequest struct {
	Content string `json:"content" binding:"required"`
}

// CreatePost publishes a post for the authenticated user.
func (h *PostHandler) CreatePost(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.posts.Create(c.Request.Context(), userIDFromContext(c), req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *PostHandler) GetPost(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("post_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// EditPost replaces the content of the caller's post.
func (h *PostHandler) EditPost(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	post, err := h.posts.Edit(c.Request.Context(), c.Param("post_id"), userIDFromContext(c), req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, post)
}

// DeletePost removes the caller's post. Cached feeds no longer show it once
// the response is sent.
func (h *PostHandler) DeletePost(c *gin.Context) {
	if err := h.posts.Delete(c.Request.Context(), c.Param("post_id"), userIDFromContext(c)); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *PostHandler) AddComment(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	comment, err := h.posts.AddComment(c.Request.Context(), c.Param("post_id"), userIDFromContext(c), req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *PostHandler) ListComments(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	comments, err := h.posts.Comments(c.Request.Context(), c.Param("post_id"), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

// LikePost toggles the caller's like on a post.
func (h *PostHandler) LikePost(c *gin.Context) {
	h.toggle(c, c.Param("post_id"), models.TargetPost)
}

// LikeComment toggles the caller's like on a comment.
func (h *PostHandler) LikeComment(c *gin.Context) {
	h.toggle(c, c.Param("comment_id"), models.TargetComment)
}

// LikeStatus reports whether the caller likes a post and its like count.
func (h *PostHandler) LikeStatus(c *gin.Context) {
	res, err := h.likes.Status(c.Request.Context(), userIDFromContext(c), c.Param("post_id"), models.TargetPost)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *PostHandler) toggle(c *gin.Context, targetID string, targetType models.TargetType) {
	res, err := h.likes.Toggle(c.Request.Context(), userIDFromContext(c), targetID, targetType)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
