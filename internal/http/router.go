// Package httpapi wires the HTTP transport (Gin) to the reconciliation
// engine, middleware and route handlers. It centralizes cross-cutting
// concerns: tracing, correlation IDs, redacted logging, panic recovery,
// metrics, delivery replay hints, rate limiting, CORS and security headers.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-billing-reconciler/internal/config"
	"github.com/tbourn/go-billing-reconciler/internal/http/handlers"
	"github.com/tbourn/go-billing-reconciler/internal/http/middleware"
	"github.com/tbourn/go-billing-reconciler/internal/services"
	"github.com/tbourn/go-billing-reconciler/internal/webhook"
)

const (
	// operator requests never carry more than a resolution note
	operatorBodyLimit = 64 << 10
	webhookPath       = "/webhooks/gateway"
)

var allowedHeaders = []string{
	"Origin", "Content-Type", "Accept", "Authorization",
	middleware.HeaderOperatorID,
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Webhook secret, then the delivery replay hint (webhook route only)
//  7. Metrics
//  8. Rate limiter (per operator/IP, bypass on replay)
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, eng *services.Engine, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.Webhook.MaxBodyBytes))
	hook := apiPath(cfg.APIBasePath, webhookPath)
	r.Use(onPath(hook, middleware.WebhookSecret(cfg.Webhook.Secret)))
	r.Use(onPath(hook, middleware.DeliveryReplay(cfg.Webhook.MaxBodyBytes, replayLookup(eng.Ledger))))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByOperatorOrIP())
	r.Use(rl.Handler())

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowedHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowedHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(eng.Processor, eng.Conflicts, eng.Alerts, eng.Syncs, eng.Prober)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.POST(webhookPath, h.ReceiveWebhook)

	ops := api.Group("", limitBody(operatorBodyLimit), gzip.Gzip(gzip.DefaultCompression), middleware.RequireOperator())
	{
		ops.GET("/conflicts", h.ListConflicts)
		ops.GET("/conflicts/stats", h.ConflictStats)
		ops.GET("/conflicts/:id", h.GetConflict)
		ops.POST("/conflicts/:id/resolve", h.ResolveConflict)

		ops.GET("/alerts", h.ListAlerts)
		ops.GET("/alerts/stats", h.AlertStats)
		ops.GET("/alerts/:id", h.GetAlert)
		ops.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
		ops.POST("/alerts/:id/resolve", h.ResolveAlert)
		ops.POST("/alerts/:id/suppress", h.SuppressAlert)

		ops.POST("/sync-runs", h.RecordSyncRun)
		ops.POST("/probes/run", h.RunProbes)
	}
}

// replayLookup recognises redeliveries of events the ledger already holds.
// Unparseable bodies are left to the processor.
func replayLookup(l *services.Ledger) middleware.ReplayLookup {
	return func(ctx context.Context, body []byte) bool {
		ev, err := webhook.Parse(body)
		if err != nil {
			return false
		}
		return l.Seen(ctx, ev.Type(), ev.TargetID())
	}
}

// onPath runs mw only for requests matched to the route fullPath.
func onPath(fullPath string, mw gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() != fullPath {
			c.Next()
			return
		}
		mw(c)
	}
}

func apiPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader.
// Reads past the cap fail downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
