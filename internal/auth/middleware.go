package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextUserID is the gin context key holding the authenticated user id
const ContextUserID = "userId"

// RequireAuth rejects requests without a valid "Authorization: Bearer" token
// and stores the verified user id in the gin context.
func RequireAuth(v *JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required"})
			return
		}

		userID, err := v.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserID returns the id stored by RequireAuth.
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
