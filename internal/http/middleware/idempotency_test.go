package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsReplay_Defaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}
	c.Set(ctxKeyReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false for non-bool")
	}
	c.Set(ctxKeyReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}
}

func replayRouter(t *testing.T, maxPeek int64, lookup ReplayLookup, seen *[]byte, replay *bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(DeliveryReplay(maxPeek, lookup))
	r.POST("/webhooks", func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			t.Fatalf("handler read: %v", err)
		}
		*seen = b
		*replay = IsReplay(c) && IsRateBypass(c)
		c.Status(http.StatusOK)
	})
	return r
}

func TestDeliveryReplay_HitMarksRequestAndKeepsBody(t *testing.T) {
	body := `{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_1"}}`
	var got []byte
	lookup := func(_ context.Context, b []byte) bool {
		got = b
		return true
	}

	var seen []byte
	var replay bool
	r := replayRouter(t, 0, lookup, &seen, &replay)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body)))

	if string(got) != body {
		t.Fatalf("lookup saw %q", got)
	}
	if string(seen) != body {
		t.Fatalf("handler saw %q; body must be restored", seen)
	}
	if !replay {
		t.Fatalf("expected replay + rate bypass flags")
	}
}

func TestDeliveryReplay_Miss(t *testing.T) {
	var seen []byte
	var replay bool
	r := replayRouter(t, 0, func(context.Context, []byte) bool { return false }, &seen, &replay)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(`{"event":"X"}`)))
	if replay {
		t.Fatalf("miss must not mark replay")
	}
	if string(seen) != `{"event":"X"}` {
		t.Fatalf("body not restored: %q", seen)
	}
}

func TestDeliveryReplay_OversizedBodySkipsLookup(t *testing.T) {
	called := false
	lookup := func(context.Context, []byte) bool {
		called = true
		return true
	}
	body := bytes.Repeat([]byte("x"), 64)

	var seen []byte
	var replay bool
	r := replayRouter(t, 16, lookup, &seen, &replay)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(body)))

	if called || replay {
		t.Fatalf("lookup must be skipped for oversized bodies")
	}
	if !bytes.Equal(seen, body) {
		t.Fatalf("handler must still see the whole body, got %d bytes", len(seen))
	}
}

func TestDeliveryReplay_NilLookupAndEmptyBody(t *testing.T) {
	var seen []byte
	var replay bool
	r := replayRouter(t, 0, nil, &seen, &replay)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader("{}")))
	if replay || string(seen) != "{}" {
		t.Fatalf("nil lookup should be a pass-through")
	}

	called := false
	r = replayRouter(t, 0, func(context.Context, []byte) bool { called = true; return true }, &seen, &replay)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks", http.NoBody))
	if called {
		t.Fatalf("lookup should not run on an empty body")
	}
}
