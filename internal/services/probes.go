package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/alerting"
	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/observability"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
)

const (
	defaultProbeWindow = time.Hour
	defaultStaleAfter  = 15 * time.Minute
)

var probeTracer = otel.Tracer("services/probes")

// ProbeWindow bounds what a signal looks at.
type ProbeWindow struct {
	// Since is the start of the observation window.
	Since time.Time
	// StaleBefore is the receive time before which an unprocessed delivery
	// counts as stuck.
	StaleBefore time.Time
}

// Signal reads one scalar health reading from the store. Signals have no
// side effects.
type Signal func(ctx context.Context, db *gorm.DB, w ProbeWindow) (float64, error)

// ErrorRateSignal is the percentage of deliveries in the window that failed.
func ErrorRateSignal(ctx context.Context, db *gorm.DB, w ProbeWindow) (float64, error) {
	total, failed, err := repo.WebhookOutcomeCounts(ctx, db, w.Since)
	if err != nil || total == 0 {
		return 0, err
	}
	return float64(failed) * 100 / float64(total), nil
}

// FailedSyncsSignal counts failed outbound sync runs in the window.
func FailedSyncsSignal(ctx context.Context, db *gorm.DB, w ProbeWindow) (float64, error) {
	failed, _, err := repo.SyncRunCounts(ctx, db, w.Since)
	return float64(failed), err
}

// RateLimitsSignal counts rate-limited sync runs in the window.
func RateLimitsSignal(ctx context.Context, db *gorm.DB, w ProbeWindow) (float64, error) {
	_, limited, err := repo.SyncRunCounts(ctx, db, w.Since)
	return float64(limited), err
}

// StaleWebhooksSignal counts deliveries still unprocessed past StaleBefore.
func StaleWebhooksSignal(ctx context.Context, db *gorm.DB, w ProbeWindow) (float64, error) {
	n, err := repo.CountStaleWebhookLogs(ctx, db, w.StaleBefore)
	return float64(n), err
}

// PendingConflictsSignal counts conflicts awaiting an operator.
func PendingConflictsSignal(ctx context.Context, db *gorm.DB, _ ProbeWindow) (float64, error) {
	n, err := repo.CountConflicts(ctx, db, domain.ConflictPending)
	return float64(n), err
}

// UnknownEntitiesSignal counts deliveries skipped in the window because
// their payment or subscription does not exist locally.
func UnknownEntitiesSignal(ctx context.Context, db *gorm.DB, w ProbeWindow) (float64, error) {
	n, err := repo.CountSkippedByReason(ctx, db, w.Since, domain.ReasonUnknownPayment, domain.ReasonUnknownSubscription)
	return float64(n), err
}

// DefaultSignals returns the built-in signal for every probe.
func DefaultSignals() map[alerting.Probe]Signal {
	return map[alerting.Probe]Signal{
		alerting.ProbeErrorRate:        ErrorRateSignal,
		alerting.ProbeFailedSyncs:      FailedSyncsSignal,
		alerting.ProbeRateLimits:       RateLimitsSignal,
		alerting.ProbeStaleWebhooks:    StaleWebhooksSignal,
		alerting.ProbePendingConflicts: PendingConflictsSignal,
		alerting.ProbeUnknownEntities:  UnknownEntitiesSignal,
	}
}

// ProbeResult is the outcome of one probe in a cycle.
type ProbeResult struct {
	Probe    alerting.Probe  `json:"probe"`
	Value    float64         `json:"value"`
	Severity domain.Severity `json:"severity,omitempty"`
	AlertID  string          `json:"alert_id,omitempty"`
	Deduped  bool            `json:"deduped,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ProbeReport collects the results of one cycle, sorted by probe name.
type ProbeReport struct {
	StartedAt time.Time     `json:"started_at"`
	Results   []ProbeResult `json:"results"`
}

// Failed returns the number of probes that errored.
func (r ProbeReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Error != "" {
			n++
		}
	}
	return n
}

// Prober evaluates every signal against its threshold ladder and raises
// alerts for readings that cross one.
type Prober struct {
	DB         *gorm.DB
	Alerts     *AlertService
	Thresholds *alerting.Store
	Signals    map[alerting.Probe]Signal

	Window     time.Duration
	StaleAfter time.Duration
	Now        func() time.Time
}

// NewProber returns a prober over the built-in signals.
func NewProber(db *gorm.DB, alerts *AlertService, thresholds *alerting.Store) *Prober {
	return &Prober{
		DB:         db,
		Alerts:     alerts,
		Thresholds: thresholds,
		Signals:    DefaultSignals(),
		Window:     defaultProbeWindow,
		StaleAfter: defaultStaleAfter,
		Now:        time.Now,
	}
}

func (p *Prober) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

// RunAll evaluates every probe concurrently. A failing or panicking probe is
// reported in its result and never stops the others.
func (p *Prober) RunAll(ctx context.Context) ProbeReport {
	ctx, span := probeTracer.Start(ctx, "Prober.RunAll")
	defer span.End()

	now := p.now()
	window, stale := p.Window, p.StaleAfter
	if window <= 0 {
		window = defaultProbeWindow
	}
	if stale <= 0 {
		stale = defaultStaleAfter
	}
	w := ProbeWindow{Since: now.Add(-window), StaleBefore: now.Add(-stale)}
	rules := p.Thresholds.Get()

	var (
		mu      sync.Mutex
		results = make([]ProbeResult, 0, len(p.Signals))
		g       errgroup.Group
	)
	for probe, sig := range p.Signals {
		probe, sig := probe, sig
		rule, ok := rules[probe]
		if !ok {
			continue
		}
		g.Go(func() error {
			res := p.runOne(ctx, probe, sig, rule, w, window)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Probe < results[j].Probe })
	report := ProbeReport{StartedAt: now, Results: results}
	span.SetAttributes(attribute.Int("probes.failed", report.Failed()))
	return report
}

func (p *Prober) runOne(ctx context.Context, probe alerting.Probe, sig Signal, rule alerting.Rule, w ProbeWindow, window time.Duration) (res ProbeResult) {
	res.Probe = probe
	lg := log.Ctx(ctx).With().Str("probe", string(probe)).Logger()
	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("panic: %v", r)
			observability.ProbeFailures.WithLabelValues(string(probe)).Inc()
			lg.Error().Interface("panic", r).Msg("probe panicked")
		}
	}()

	v, err := sig(ctx, p.DB, w)
	if err != nil {
		res.Error = err.Error()
		observability.ProbeFailures.WithLabelValues(string(probe)).Inc()
		lg.Error().Err(err).Msg("probe failed")
		return res
	}
	res.Value = v
	observability.ProbeValue.WithLabelValues(string(probe)).Set(v)

	sev, crossed := rule.Ladder.Evaluate(v)
	if !crossed {
		return res
	}
	res.Severity = sev

	threshold := 0.0
	for _, t := range rule.Ladder {
		if t.Severity == sev {
			threshold = t.Min
		}
	}
	raised, err := p.Alerts.Raise(ctx, RaiseParams{
		Type:     rule.AlertType,
		Severity: sev,
		Title:    rule.Title,
		Message:  fmt.Sprintf("%s is %s%s over the last %s (%s threshold %s%s)", probe, formatReading(v), rule.Unit, window, sev, formatReading(threshold), rule.Unit),
		Details: map[string]any{
			"probe":          probe,
			"value":          v,
			"threshold":      threshold,
			"window_seconds": int64(window / time.Second),
		},
	})
	if err != nil {
		res.Error = err.Error()
		observability.ProbeFailures.WithLabelValues(string(probe)).Inc()
		lg.Error().Err(err).Msg("raise alert")
		return res
	}
	res.AlertID, res.Deduped = raised.ID, raised.Deduped
	return res
}

func formatReading(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
