package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TenantMiddleware verifies the bearer token on every request and sets
// "tenant_id" in the gin context for downstream handlers.
func TenantMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthenticated.Error()})
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			c.Abort()
			return
		}

		claims, err := Validate(parts[1], secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("tenant_id", claims.TenantID)
		c.Next()
	}
}

// TenantID reads the tenant_id set by TenantMiddleware.
func TenantID(c *gin.Context) (string, bool) {
	v, ok := c.Get("tenant_id")
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
