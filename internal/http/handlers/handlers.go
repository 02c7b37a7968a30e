package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
	"github.com/tbourn/go-billing-reconciler/internal/services"
	"github.com/tbourn/go-billing-reconciler/internal/utils"
)

//
// Service contracts (context-aware)
//

// WebhookProcessor turns one raw gateway delivery into an outcome.
type WebhookProcessor interface {
	Process(ctx context.Context, raw []byte) (services.Outcome, error)
}

// ConflictService lists conflicts and applies operator resolutions.
type ConflictService interface {
	Get(ctx context.Context, id string) (*domain.Conflict, error)
	List(ctx context.Context, f services.ConflictFilter) ([]domain.Conflict, int64, error)
	Counts(ctx context.Context) ([]repo.TypeStatusCount, error)
	Resolve(ctx context.Context, actor, id string, p services.ResolveParams) (services.ResolutionResult, error)
}

// AlertService lists alerts and applies the operator lifecycle.
type AlertService interface {
	Get(ctx context.Context, id string) (*domain.Alert, error)
	List(ctx context.Context, f services.AlertFilter) ([]domain.Alert, int64, error)
	Counts(ctx context.Context) ([]repo.TypeStatusCount, error)
	Acknowledge(ctx context.Context, actor, id string) (*domain.Alert, error)
	Resolve(ctx context.Context, actor, id, note string) (*domain.Alert, error)
	Suppress(ctx context.Context, actor, id string, until time.Time) (*domain.Alert, error)
}

// SyncRecorder stores outbound sync attempts reported by the gateway client.
type SyncRecorder interface {
	Record(ctx context.Context, p services.SyncRunParams) (*domain.SyncRun, error)
}

// ProbeRunner runs one health probe cycle on demand.
type ProbeRunner interface {
	RunAll(ctx context.Context) services.ProbeReport
}

//
// Handler wiring
//

// Handlers groups the webhook and operator endpoints.
type Handlers struct {
	webhooks  WebhookProcessor
	conflicts ConflictService
	alerts    AlertService
	syncs     SyncRecorder
	probes    ProbeRunner
}

// New constructs a Handlers instance bound to the given services.
func New(webhooks WebhookProcessor, conflicts ConflictService, alerts AlertService, syncs SyncRecorder, probes ProbeRunner) *Handlers {
	return &Handlers{
		webhooks:  webhooks,
		conflicts: conflicts,
		alerts:    alerts,
		syncs:     syncs,
		probes:    probes,
	}
}

// StatsResponse aggregates records by (type, status).
type StatsResponse struct {
	Total    int64                  `json:"total"`
	ByStatus map[string]int64       `json:"by_status"`
	Counts   []repo.TypeStatusCount `json:"counts"`
}

func newStats(rows []repo.TypeStatusCount) StatsResponse {
	out := StatsResponse{ByStatus: map[string]int64{}, Counts: rows}
	if out.Counts == nil {
		out.Counts = []repo.TypeStatusCount{}
	}
	for _, r := range rows {
		out.Total += r.Count
		out.ByStatus[r.Status] += r.Count
	}
	return out
}

// pageQuery reads page and page_size, bounded by utils.ClampPage.
func pageQuery(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}
