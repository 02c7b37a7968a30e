package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecurity(t *testing.T, opt SecurityOptions, pre gin.HandlerFunc, req *http.Request) http.Header {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.GET("/alerts", func(c *gin.Context) { c.String(http.StatusOK, "[]") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Defaults(t *testing.T) {
	h := serveSecurity(t, SecurityOptions{EnableHSTS: true}, nil, httptest.NewRequest(http.MethodGet, "/alerts", nil))

	for k, want := range map[string]string{
		"X-Content-Type-Options":            "nosniff",
		"X-Frame-Options":                   "DENY",
		"Referrer-Policy":                   "no-referrer",
		"X-Permitted-Cross-Domain-Policies": "none",
		"Cache-Control":                     "no-store",
		"Pragma":                            "no-cache",
	} {
		if got := h.Get(k); got != want {
			t.Fatalf("%s = %q; want %q", k, got, want)
		}
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS must not be sent over plain HTTP")
	}
	if h.Get("Access-Control-Expose-Headers") != "" {
		t.Fatalf("nothing to expose without a request id")
	}
}

func TestSecurityHeaders_AllowCache(t *testing.T) {
	h := serveSecurity(t, SecurityOptions{AllowCache: true}, nil, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	if h.Get("Cache-Control") != "" || h.Get("Pragma") != "" {
		t.Fatalf("unexpected cache headers: %#v", h)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	tlsReq := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	h := serveSecurity(t, SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour}, nil, tlsReq)
	if got := h.Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains" {
		t.Fatalf("HSTS = %q", got)
	}

	proxied := httptest.NewRequest(http.MethodGet, "/alerts", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")
	h = serveSecurity(t, SecurityOptions{EnableHSTS: true}, nil, proxied)
	if got := h.Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains" {
		t.Fatalf("default HSTS = %q", got)
	}
}

func TestSecurityHeaders_ExposeRequestID(t *testing.T) {
	cases := []struct {
		name     string
		existing string
		want     string
	}{
		{"fresh", "", "X-Request-ID"},
		{"append", "Retry-After", "Retry-After, X-Request-ID"},
		{"no duplicate", "x-request-id, Retry-After", "x-request-id, Retry-After"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pre := func(c *gin.Context) {
				c.Header(requestIDHeader, "rid-1")
				if tc.existing != "" {
					c.Header("Access-Control-Expose-Headers", tc.existing)
				}
				c.Next()
			}
			h := serveSecurity(t, SecurityOptions{}, pre, httptest.NewRequest(http.MethodGet, "/alerts", nil))
			if got := h.Get("Access-Control-Expose-Headers"); got != tc.want {
				t.Fatalf("expose = %q; want %q", got, tc.want)
			}
		})
	}
}
