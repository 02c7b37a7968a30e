package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-billing-reconciler/internal/config"
	"github.com/tbourn/go-billing-reconciler/internal/services"
)

// Job names.
const (
	JobProbes      = "probes"
	JobSweep       = "retention_sweep"
	JobConsistency = "consistency_check"
)

// ProbeJob runs one probe cycle. A cycle with failed probes reports an
// error; readings from the other probes are still applied.
func ProbeJob(p *services.Prober, every time.Duration) Job {
	return Job{
		Name:     JobProbes,
		Interval: every,
		Run: func(ctx context.Context) error {
			rep := p.RunAll(ctx)
			raised := 0
			for _, r := range rep.Results {
				if r.AlertID != "" && !r.Deduped {
					raised++
				}
			}
			log.Ctx(ctx).Info().Int("probes", len(rep.Results)).Int("raised", raised).Msg("probe cycle")
			if n := rep.Failed(); n > 0 {
				return fmt.Errorf("%d of %d probes failed", n, len(rep.Results))
			}
			return nil
		},
	}
}

// SweepJob runs one retention pass.
func SweepJob(s *services.Sweeper, every time.Duration) Job {
	return Job{
		Name:     JobSweep,
		Interval: every,
		Run: func(ctx context.Context) error {
			rep, err := s.Run(ctx)
			log.Ctx(ctx).Info().Int64("webhook_logs", rep.WebhookLogs).Int64("ledger", rep.Ledger).Msg("retention sweep")
			return err
		},
	}
}

// ConsistencyJob reports duplicate customers as conflicts.
func ConsistencyJob(c *services.ConflictService, every time.Duration) Job {
	return Job{
		Name:     JobConsistency,
		Interval: every,
		Run: func(ctx context.Context) error {
			n, err := c.DetectDuplicateCustomers(ctx)
			if err != nil {
				return err
			}
			log.Ctx(ctx).Info().Int("reported", n).Msg("consistency check")
			return nil
		},
	}
}

// ForEngine builds the standard job set over eng using the intervals in cfg.
func ForEngine(eng *services.Engine, cfg config.SchedulerConfig) (*Scheduler, error) {
	return New(
		ProbeJob(eng.Prober, cfg.ProbeInterval),
		SweepJob(eng.Sweeper, cfg.SweepInterval),
		ConsistencyJob(eng.Conflicts, cfg.ConsistencyInterval),
	)
}
