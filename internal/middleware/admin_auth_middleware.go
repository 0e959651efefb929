package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"roombroker/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware guards the fleet administration routes with a
// static bearer token. An empty configured token disables the routes
// entirely rather than leaving them open.
func AdminAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := extractBearer(c)
		if token == "" || presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func extractBearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
