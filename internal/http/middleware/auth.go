// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the two caller checks of the reconciler: the shared
// secret the gateway presents on webhook deliveries, and the operator
// identity required on every operator action.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderOperatorID names the operator performing an action.
	HeaderOperatorID = "X-Operator-ID"
	// OperatorKey is the Gin context key an upstream authenticator may set
	// instead of the header.
	OperatorKey = "operatorID"

	maxOperatorIDLength = 64
)

// WebhookSecret rejects deliveries whose token header does not match
// secret, comparing in constant time. The token is read from X-Webhook-Token
// or, failing that, the gateway's own access-token header. An empty secret
// disables the check.
func WebhookSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := c.GetHeader(HeaderWebhookToken)
		if got == "" {
			got = c.GetHeader(HeaderGatewayToken)
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			LoggerFrom(c).Warn().Str("remote_ip", c.ClientIP()).Msg("webhook token mismatch")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  "error",
				"message": "invalid webhook token",
			})
			return
		}
		c.Next()
	}
}

// RequireOperator resolves the acting operator from the context key or the
// X-Operator-ID header and aborts with 401 when there is none.
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		op := Operator(c)
		if op == "" || len(op) > maxOperatorIDLength {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "operator identity required (" + HeaderOperatorID + ")",
			})
			return
		}
		c.Set(OperatorKey, op)
		c.Next()
	}
}

// Operator returns the acting operator id, or "" when unknown.
func Operator(c *gin.Context) string {
	if v, ok := c.Get(OperatorKey); ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if c.Request == nil {
		return ""
	}
	return strings.TrimSpace(c.GetHeader(HeaderOperatorID))
}
