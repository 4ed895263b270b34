package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"videodate-platform/internal/apperr"
	"videodate-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const signatureHeader = "X-Signature"

// maxWebhookBody bounds the payload read before signature verification.
const maxWebhookBody = 64 << 10

type webhookPayload struct {
	Ref    string `json:"ref"`
	Status Status `json:"status"`
}

// Sign returns the hex HMAC-SHA256 of body, as sent in X-Signature.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret []byte, body []byte, got string) bool {
	want := Sign(secret, body)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(got))))
}

// WebhookHandler consumes the checkout provider's settlement signal.
func WebhookHandler(svc *Service, secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if len(key) == 0 || !validSignature(key, body, c.GetHeader(signatureHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		var p webhookPayload
		if err := json.Unmarshal(body, &p); err != nil || p.Ref == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		a, err := svc.Settle(c.Request.Context(), p.Ref, p.Status)
		if err != nil {
			switch apperr.KindOf(err) {
			case apperr.KindNotFound:
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown ref"})
			case apperr.KindInvalid:
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			case apperr.KindConflict:
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "already settled"})
			default:
				logger.From(c.Request.Context()).Error("payment webhook failed", "ref", p.Ref, "err", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{"ref": a.Ref, "status": a.Status})
	}
}
