package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"social-service/internal/engagement"
	"social-service/internal/models"
)

// AdminHandler exposes maintenance operations.
type AdminHandler struct {
	reconciler *engagement.Reconciler
	log        *zap.Logger
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(reconciler *engagement.Reconciler, log *zap.Logger) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, log: log.Named("admin")}
}

// Reconcile recomputes like counters. With target_id and target_type query
// parameters only that target is checked.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	if targetID := c.Query("target_id"); targetID != "" {
		targetType := models.TargetType(c.DefaultQuery("target_type", string(models.TargetPost)))
		if !targetType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported target type"})
			return
		}
		fixed, err := h.reconciler.ReconcileTarget(c.Request.Context(), targetID, targetType)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		corrected := 0
		if fixed {
			corrected = 1
		}
		c.JSON(http.StatusOK, gin.H{"corrected": corrected})
		return
	}

	corrected, err := h.reconciler.ReconcileAll(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.log.Info("manual reconciliation finished", zap.Int("corrected", corrected), zap.String("user_id", userIDFromContext(c)))
	c.JSON(http.StatusOK, gin.H{"corrected": corrected})
}
