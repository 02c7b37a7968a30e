package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"cpf=123.456.789-09", "cpf=[REDACTED:cpf]"},
		{"cpf=12345678909", "cpf=[REDACTED:cpf]"},
		{"doc=12.345.678/0001-95", "doc=[REDACTED:cnpj]"},
		{"doc=12345678000195", "doc=[REDACTED:cnpj]"},
		{"mail a.b+tag@example.com", "mail [REDACTED:email]"},
		{"tel 11 91234-5678", "tel [REDACTED:phone]"},
		{"payment=pay_080225913252", "payment=pay_080225913252"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Fatalf("Redact(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactingLogger_InfoAndRedactions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/customers/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/customers/cus_1?email=a@b.com&cpf=123.456.789-09", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set(HeaderWebhookToken, "whsec")
	req.Header.Set(HeaderGatewayToken, "gwsec")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Custom", "doc 12.345.678/0001-95")
	req.Header.Set(HeaderOperatorID, "ops-1")
	req.Header.Set("X-Request-ID", "rid-1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	logs := buf.String()
	for _, want := range []string{
		`"level":"info"`,
		`"path":"/customers/:id"`,
		`"request_id":"rid-1"`,
		`"operator":"ops-1"`,
		`"replay":false`,
		`[REDACTED:email]`,
		`[REDACTED:cpf]`,
		`"Authorization":"[REDACTED]"`,
		`"X-Webhook-Token":"[REDACTED]"`,
		`"Asaas-Access-Token":"[REDACTED]"`,
		`"X-Api-Key":"[REDACTED]"`,
		`"X-Custom":"doc [REDACTED:cnpj]"`,
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %s in log, got: %s", want, logs)
		}
	}
	for _, leaked := range []string{"whsec", "gwsec", "shhh", "a@b.com"} {
		if strings.Contains(logs, leaked) {
			t.Fatalf("%q leaked into log: %s", leaked, logs)
		}
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/error", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	r.GET("/ginerr", func(c *gin.Context) {
		_ = c.Error(http.ErrBodyNotAllowed)
		c.Status(http.StatusOK)
	})

	for _, p := range []string{"/warn", "/error", "/ginerr"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"level":"warn"`) {
		t.Fatalf("404 should log warn: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"error"`) {
		t.Fatalf("503 should log error: %s", lines[1])
	}
	if !strings.Contains(lines[2], `"level":"error"`) || !strings.Contains(lines[2], `"errors"`) {
		t.Fatalf("gin errors should log error: %s", lines[2])
	}
}
