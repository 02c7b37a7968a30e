// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. It never logs
// bodies, and scrubs the identifiers that show up in billing traffic from
// query strings and header values before they reach the log:
//
//   - Brazilian taxpayer ids (CNPJ, CPF), formatted or bare
//   - email addresses
//   - phone numbers
//
// Authorization, cookies and the gateway webhook token headers are masked
// entirely. Extra headers can be masked through RedactOptions.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Headers carrying the gateway's shared webhook secret.
const (
	HeaderWebhookToken = "X-Webhook-Token"
	HeaderGatewayToken = "Asaas-Access-Token"
)

// RedactOptions configures additional scrub behavior for RedactingLogger.
// MaskHeaders are matched case-insensitively and merged with the built-in
// set.
type RedactOptions struct {
	MaskHeaders []string
}

var (
	// CNPJ before CPF, both before phone: the phone pattern would otherwise
	// swallow the digit runs.
	cnpjRE  = regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`)
	cpfRE   = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{4,5}[ .-]?\d{4}\b`)
)

// Redact scrubs taxpayer ids, emails and phone numbers from s.
func Redact(s string) string {
	if s == "" {
		return s
	}
	s = cnpjRE.ReplaceAllString(s, "[REDACTED:cnpj]")
	s = cpfRE.ReplaceAllString(s, "[REDACTED:cpf]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactingLogger returns a Gin middleware that writes one structured access
// log line per request through the request-scoped logger. Level follows the
// response: error for 5xx or collected gin errors, warn for 4xx, info
// otherwise. Replayed deliveries and operator ids are tagged.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization":                     {},
		"cookie":                            {},
		"set-cookie":                        {},
		strings.ToLower(HeaderWebhookToken): {},
		strings.ToLower(HeaderGatewayToken): {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := Redact(truncate(c.Request.URL.RawQuery, maxQueryLogLength))

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = Redact(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		lg := LoggerFrom(c)
		ev := lg.Info()
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = lg.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = lg.Warn()
		}
		if op := c.GetHeader(HeaderOperatorID); op != "" {
			ev = ev.Str("operator", op)
		}

		ev.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Str("remote_ip", c.ClientIP()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Bool("replay", IsReplay(c)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
