// Package middleware holds gin middleware shared by the HTTP routes.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"social-service/internal/auth"
	"social-service/internal/observability"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "userID"

// AuthMiddleware resolves the bearer token to a user id and stores it on
// both the gin context and the request context, so services and the request
// log see the caller.
func AuthMiddleware(authenticator auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "", "missing or malformed bearer token")
			return
		}

		userID, err := authenticator.Authenticate(token)
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			unauthorized(c, "invalid_token", "token expired")
			return
		case err != nil:
			unauthorized(c, "invalid_token", "invalid token")
			return
		}

		c.Set(UserIDKey, userID)
		c.Request = c.Request.WithContext(observability.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// unauthorized answers 401 with an RFC 6750 challenge.
func unauthorized(c *gin.Context, code, message string) {
	challenge := "Bearer"
	if code != "" {
		challenge += ` error="` + code + `"`
	}
	c.Header("WWW-Authenticate", challenge)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message, "code": "unauthenticated"})
}
