// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the delivery replay hint for gateway webhooks. The
// gateway redelivers an event until it sees a 2xx, so a burst of retries for
// an already processed event is normal traffic and should not be throttled.
// DeliveryReplay peeks at the body, asks a lookup whether the delivery was
// already committed and, if so, marks the request so the rate limiter lets
// it through and the access log tags it.
//
// The hint is advisory: the processor performs the authoritative ledger
// check, so a false negative here only costs a token.
package middleware

import (
	"bytes"
	"context"
	"io"

	"github.com/gin-gonic/gin"
)

// Context keys used internally to stash replay state.
const (
	ctxKeyReplay     = "delivery.replay" // bool: ledger already holds this delivery
	ctxKeyRateBypass = "rate.bypass"     // bool: skip rate limiting
)

// ReplayLookup reports whether body is a delivery the ledger already
// committed. Implementations must not fail the request: lookup problems are
// answered with false.
type ReplayLookup func(ctx context.Context, body []byte) bool

// IsReplay reports whether DeliveryReplay recognised this request as a
// redelivery of a processed event.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// DeliveryReplay reads up to maxPeek bytes of the body, restores it for the
// handler and consults lookup. Bodies larger than maxPeek are passed through
// unchanged without a lookup. A nil lookup disables the middleware.
func DeliveryReplay(maxPeek int64, lookup ReplayLookup) gin.HandlerFunc {
	if maxPeek <= 0 {
		maxPeek = 1 << 20
	}
	return func(c *gin.Context) {
		if lookup == nil || c.Request.Body == nil {
			c.Next()
			return
		}

		peek, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeek+1))
		rest := c.Request.Body
		c.Request.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(peek), rest), Closer: rest}
		if err != nil || int64(len(peek)) > maxPeek || len(peek) == 0 {
			c.Next()
			return
		}

		if lookup(c.Request.Context(), peek) {
			c.Set(ctxKeyReplay, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}
