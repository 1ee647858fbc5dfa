package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
)

// AdminKeyMiddleware gates the operator API behind a static key carried in
// X-Admin-Key. The comparison is constant-time.
type AdminKeyMiddleware struct {
	log *logger.Logger
	key string
}

func NewAdminKeyMiddleware(baseLog *logger.Logger) *AdminKeyMiddleware {
	return &AdminKeyMiddleware{
		log: baseLog.With("middleware", "AdminKeyMiddleware"),
		key: strings.TrimSpace(os.Getenv("ADMIN_API_KEY")),
	}
}

func (m *AdminKeyMiddleware) RequireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.key == "" {
			m.log.Error("ADMIN_API_KEY not configured, rejecting admin request", "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "admin API not configured"}})
			return
		}
		provided := strings.TrimSpace(c.GetHeader("X-Admin-Key"))
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(m.key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "invalid admin key"}})
			return
		}
		c.Next()
	}
}
