package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/alerting"
	"github.com/tbourn/go-billing-reconciler/internal/notify"
)

// EngineOptions tunes the engine. Zero values fall back to the service
// defaults.
type EngineOptions struct {
	EventTimeout      time.Duration
	FingerprintWindow time.Duration
	LedgerTTL         time.Duration
	WebhookRetention  time.Duration
	ProbeWindow       time.Duration
	StaleAfter        time.Duration
}

// Engine bundles the services of one reconciler process over a shared
// record store.
type Engine struct {
	Ledger    *Ledger
	Processor *Processor
	Conflicts *ConflictService
	Alerts    *AlertService
	Prober    *Prober
	Sweeper   *Sweeper
	Syncs     *SyncService
}

// NewEngine wires the services over db. Notifications go to notifier and
// probe ladders are read from thresholds on every cycle.
func NewEngine(db *gorm.DB, notifier notify.Dispatcher, thresholds *alerting.Store, opt EngineOptions) *Engine {
	ledger := NewLedger(db)
	if opt.FingerprintWindow > 0 {
		ledger.Window = opt.FingerprintWindow
	}
	if opt.LedgerTTL > 0 {
		ledger.TTL = opt.LedgerTTL
	}

	conflicts := NewConflictService(db, &CustomerMerger{DB: db})
	alerts := NewAlertService(db)

	prober := NewProber(db, alerts, thresholds)
	if opt.ProbeWindow > 0 {
		prober.Window = opt.ProbeWindow
	}
	if opt.StaleAfter > 0 {
		prober.StaleAfter = opt.StaleAfter
	}

	return &Engine{
		Ledger: ledger,
		Processor: &Processor{
			DB:        db,
			Ledger:    ledger,
			Conflicts: conflicts,
			Notifier:  notifier,
			Timeout:   opt.EventTimeout,
			Retention: opt.WebhookRetention,
			Now:       time.Now,
		},
		Conflicts: conflicts,
		Alerts:    alerts,
		Prober:    prober,
		Sweeper:   &Sweeper{DB: db, Ledger: ledger, Now: time.Now},
		Syncs:     &SyncService{DB: db},
	}
}
