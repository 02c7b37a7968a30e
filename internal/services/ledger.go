package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/observability"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
)

const (
	defaultFingerprintWindow = 5 * time.Minute
	defaultLedgerTTL         = 24 * time.Hour
)

var ledgerTracer = otel.Tracer("services/ledger")

// LedgerCheck is the result of a ledger lookup.
type LedgerCheck struct {
	AlreadyProcessed bool
	PriorResult      string
}

// Ledger records which deliveries have been processed so redeliveries are
// recognised. Every ledger failure is logged and ignored: a broken ledger
// lets duplicates through rather than dropping deliveries.
type Ledger struct {
	DB *gorm.DB

	// Window is the time bucket folded into fingerprints.
	Window time.Duration
	// TTL is how long a committed key suppresses reprocessing.
	TTL time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// NewLedger returns a ledger with the default window and TTL.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{DB: db, Window: defaultFingerprintWindow, TTL: defaultLedgerTTL, Now: time.Now}
}

func (l *Ledger) now() time.Time {
	if l.Now == nil {
		return time.Now().UTC()
	}
	return l.Now().UTC()
}

func (l *Ledger) window() time.Duration {
	if l.Window <= 0 {
		return defaultFingerprintWindow
	}
	return l.Window
}

func (l *Ledger) ttl() time.Duration {
	if l.TTL <= 0 {
		return defaultLedgerTTL
	}
	return l.TTL
}

// Fingerprint derives the ledger key of a delivery from its type, the
// gateway id of the entity it targets and the time bucket it falls in.
// Deliveries of the same event for the same entity within one window share a
// key; the same event in a later window does not.
func (l *Ledger) Fingerprint(eventType, primaryEntityID string, at time.Time) string {
	bucket := at.UTC().UnixNano() / int64(l.window())
	sum := sha256.Sum256([]byte(eventType + "|" + primaryEntityID + "|" + strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(sum[:])
}

// CheckAndReserve reports whether key was already committed and is still
// live. It never fails: a lookup error is logged and treated as a miss.
func (l *Ledger) CheckAndReserve(ctx context.Context, key string) LedgerCheck {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.CheckAndReserve")
	defer span.End()

	rec, err := repo.GetIdempotency(ctx, l.DB, key, l.now())
	switch {
	case err == nil:
		span.SetAttributes(attribute.Bool("ledger.hit", true))
		return LedgerCheck{AlreadyProcessed: true, PriorResult: rec.Result}
	case errors.Is(err, repo.ErrNotFound):
		return LedgerCheck{}
	default:
		observability.LedgerFailOpen.WithLabelValues("check").Inc()
		log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("ledger lookup failed; processing anyway")
		return LedgerCheck{}
	}
}

// Seen reports whether a delivery of eventType for targetID was committed
// in the current fingerprint window. It is a read-only hint for transport
// code; the processor makes the authoritative check.
func (l *Ledger) Seen(ctx context.Context, eventType, targetID string) bool {
	if targetID == "" {
		return false
	}
	return l.CheckAndReserve(ctx, l.Fingerprint(eventType, targetID, l.now())).AlreadyProcessed
}

// Commit records key as processed with the given result. It must only be
// called after the business transition committed. A concurrent commit of
// the same key counts as success; other failures are logged and ignored.
func (l *Ledger) Commit(ctx context.Context, key, result string) {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.Commit")
	defer span.End()

	_, err := repo.CreateIdempotency(ctx, l.DB, key, result, l.now(), l.ttl())
	if err == nil || errors.Is(err, repo.ErrDuplicate) {
		return
	}
	observability.LedgerFailOpen.WithLabelValues("commit").Inc()
	log.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("ledger commit failed")
}

// Sweep deletes expired ledger records.
func (l *Ledger) Sweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := repo.DeleteExpiredIdempotency(ctx, l.DB, now.UTC())
	if err != nil {
		return 0, transient("sweep ledger", err)
	}
	return n, nil
}
