package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SignatureHeader header carrying keccak256(body || secret) from the indexer
const SignatureHeader = "x-signature"

const maxWebhookBody = 4 << 20

// WebhookSignature verifies indexer webhook signatures; an empty secret disables the check
func WebhookSignature(secret string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to read body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !ValidSignature(body, secret, c.GetHeader(SignatureHeader)) {
			logger.WithFields(logrus.Fields{
				"path":      c.Request.URL.Path,
				"client_ip": c.ClientIP(),
			}).Warn("⚠️ [Webhook] Rejected payload with invalid signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid signature",
				"code":    "INVALID_SIGNATURE",
			})
			return
		}
		c.Next()
	}
}

// SignPayload keccak256(body || secret) as 0x-prefixed hex
func SignPayload(body []byte, secret string) string {
	return hexutil.Encode(crypto.Keccak256(body, []byte(secret)))
}

// ValidSignature compares case-insensitively, with or without the 0x prefix
func ValidSignature(body []byte, secret, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	expected := SignPayload(body, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
