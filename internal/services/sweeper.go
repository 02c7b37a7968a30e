package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/observability"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
)

// SweepReport counts rows removed by one retention pass.
type SweepReport struct {
	WebhookLogs int64 `json:"webhook_logs"`
	Ledger      int64 `json:"ledger"`
}

// Sweeper enforces retention on webhook logs and the idempotency ledger.
type Sweeper struct {
	DB     *gorm.DB
	Ledger *Ledger
	Now    func() time.Time
}

// Run deletes expired webhook logs and ledger records. Both tables are
// attempted; the first error is returned.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	var rep SweepReport
	var firstErr error

	n, err := repo.DeleteExpiredWebhookLogs(ctx, s.DB, now)
	if err != nil {
		firstErr = transient("sweep webhook logs", err)
	} else {
		rep.WebhookLogs = n
		observability.RetentionDeleted.WithLabelValues("webhook_logs").Add(float64(n))
	}

	n, err = s.Ledger.Sweep(ctx, now)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		rep.Ledger = n
		observability.RetentionDeleted.WithLabelValues("idempotency_records").Add(float64(n))
	}

	log.Ctx(ctx).Info().
		Int64("webhook_logs", rep.WebhookLogs).
		Int64("ledger", rep.Ledger).
		Err(firstErr).
		Msg("retention sweep")
	return rep, firstErr
}
