package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
)

// SyncRunParams is an outbound sync attempt reported by the gateway client.
type SyncRunParams struct {
	Operation   string     `json:"operation"    validate:"required,max=64"`
	Success     bool       `json:"success"`
	RateLimited bool       `json:"rate_limited"`
	HTTPStatus  int        `json:"http_status"  validate:"omitempty,min=100,max=599"`
	Error       string     `json:"error"        validate:"max=2000"`
	CustomerID  string     `json:"customer_id"  validate:"omitempty,max=64"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
}

// SyncService stores sync run reports consumed by the sync probes.
type SyncService struct {
	DB *gorm.DB
}

// Record validates and stores a sync run. A 429 response counts as rate
// limited even when the client did not flag it.
func (s *SyncService) Record(ctx context.Context, p SyncRunParams) (*domain.SyncRun, error) {
	p.Operation = strings.TrimSpace(p.Operation)
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	run := &domain.SyncRun{
		Operation:   p.Operation,
		Status:      domain.SyncFailed,
		RateLimited: p.RateLimited || p.HTTPStatus == 429,
		HTTPStatus:  p.HTTPStatus,
		Error:       domain.StrPtr(p.Error),
		CustomerID:  domain.StrPtr(p.CustomerID),
		FinishedAt:  p.FinishedAt,
	}
	if p.Success {
		run.Status = domain.SyncSucceeded
	}
	if p.StartedAt != nil {
		run.StartedAt = p.StartedAt.UTC()
	}
	if err := repo.CreateSyncRun(ctx, s.DB, run); err != nil {
		return nil, transient("record sync run", err)
	}
	return run, nil
}
