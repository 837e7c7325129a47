package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"roomhub-messaging/pkg/jwt"
	"roomhub-messaging/pkg/response"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID      = "user_id"
	ContextDisplayName = "display_name"
)

// AuthMiddleware creates a Gin middleware that validates bearer tokens.
// Identity is issued by the marketplace's account service; this service only
// verifies the shared-secret signature. On success user_id and display_name
// are set in the Gin context.
func AuthMiddleware(verifier *jwt.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			response.Unauthorized(c, "Authorization required")
			c.Abort()
			return
		}

		claims, err := verifier.ValidateToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextDisplayName, claims.DisplayName)
		c.Next()
	}
}

// extractToken reads the bearer token from the Authorization header, falling
// back to the access_token query parameter for WebSocket upgrades, where
// browsers cannot set headers.
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("access_token")
}

// GetUserID returns the authenticated user id from the Gin context
func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(ContextUserID)
	if !exists {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, false
	}
	return userID, true
}
