package middleware

import (
	"net/http"
	"strings"

	"github.com/fhecredit/backend/internal/auth"
	"github.com/gin-gonic/gin"
)

const (
	ContextIdentity = "identity"
	ContextRole     = "role"
)

func RequireAuth(jwt *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := jwt.Parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(ContextIdentity, claims.Identity)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}
