package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/response"
)

// WebhookSecretHeader carries the shared secret on validator callbacks.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret requires callers to present secret. An empty secret accepts every caller.
func WebhookSecret(secret string) gin.HandlerFunc {
	expected := []byte(secret)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		provided := []byte(c.GetHeader(WebhookSecretHeader))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook secret"))
			c.Abort()
			return
		}
		c.Next()
	}
}
