package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gps-relay/internal/auth"
	"gps-relay/internal/metrics"
)

const (
	IngestSecretHeader = "X-Ingest-Secret"

	tokenDeviceContextKey = "tokenDeviceID"
)

// TokenDeviceFromContext returns the device a verified bearer token was
// minted for. Requests authorized by the shared secret carry none.
func TokenDeviceFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(tokenDeviceContextKey)
	if !ok {
		return "", false
	}
	value, ok := v.(string)
	return value, ok && value != ""
}

// RequireIngestSecret accepts either the shared secret header or a device
// token signed with it. With an empty secret every request passes.
func RequireIngestSecret(secret string, cfg auth.TokenConfig) gin.HandlerFunc {
	cfg.Secret = secret
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		if presented := c.GetHeader(IngestSecretHeader); presented != "" {
			if auth.VerifySecret(secret, presented) {
				c.Next()
				return
			}
			reject(c)
			return
		}

		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			reject(c)
			return
		}

		claims, err := auth.VerifyDeviceToken(strings.TrimSpace(parts[1]), cfg)
		if err != nil {
			reject(c)
			return
		}

		c.Set(tokenDeviceContextKey, claims.DeviceID)
		c.Next()
	}
}

func reject(c *gin.Context) {
	metrics.UploadsTotal.WithLabelValues("unauthorized").Inc()
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthorized"})
}
