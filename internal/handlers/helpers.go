package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"social-service/internal/apperr"
	"social-service/internal/middleware"
	"social-service/internal/observability"
)

func userIDFromContext(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}

func requestIDFromContext(c *gin.Context) string {
	if id := observability.RequestID(c.Request.Context()); id != "" {
		return id
	}
	return observability.RequestIDFromRequest(c.Request)
}

// respondError writes err with the status its class maps to. Store and
// unexpected failures are logged and their details hidden.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		log.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("request_id", requestIDFromContext(c)),
			zap.Error(err))
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err), "code": apperr.Code(err)})
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return n, nil
}
