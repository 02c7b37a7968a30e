package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// clock is a settable time source shared by the services under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentNotice struct {
	Kind    domain.NotificationKind
	Target  string
	Payload map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, kind domain.NotificationKind, target string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotice{Kind: kind, Target: target, Payload: payload})
	return n.err
}

func (n *recordingNotifier) Sent() []sentNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotice(nil), n.sent...)
}

type fixture struct {
	db        *gorm.DB
	clock     *clock
	ledger    *Ledger
	conflicts *ConflictService
	alerts    *AlertService
	notifier  *recordingNotifier
	proc      *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newServiceDB(t)
	clk := newClock()
	ledger := NewLedger(db)
	ledger.Now = clk.Now
	conflicts := NewConflictService(db, &CustomerMerger{DB: db})
	conflicts.Now = clk.Now
	alerts := NewAlertService(db)
	alerts.Now = clk.Now
	n := &recordingNotifier{}
	return &fixture{
		db:        db,
		clock:     clk,
		ledger:    ledger,
		conflicts: conflicts,
		alerts:    alerts,
		notifier:  n,
		proc: &Processor{
			DB:        db,
			Ledger:    ledger,
			Conflicts: conflicts,
			Notifier:  n,
			Timeout:   2 * time.Second,
			Now:       clk.Now,
		},
	}
}

func (f *fixture) seedCustomer(t *testing.T, id, gatewayID, email string) *domain.Customer {
	t.Helper()
	c := &domain.Customer{
		ID:                id,
		GatewayCustomerID: domain.StrPtr(gatewayID),
		Name:              "Customer " + id,
		Email:             email,
		CreatedAt:         f.clock.Now(),
	}
	f.clock.Advance(time.Second)
	require.NoError(t, repo.CreateCustomer(context.Background(), f.db, c))
	return c
}

func (f *fixture) seedPayment(t *testing.T, gatewayID, customerID string, status domain.PaymentStatus, value float64) *domain.Payment {
	t.Helper()
	p := &domain.Payment{GatewayPaymentID: gatewayID, CustomerID: customerID, Status: status, Value: value}
	require.NoError(t, repo.CreatePayment(context.Background(), f.db, p))
	return p
}

func (f *fixture) seedSubscription(t *testing.T, gatewayID, customerID string) *domain.Subscription {
	t.Helper()
	s := &domain.Subscription{GatewaySubscriptionID: gatewayID, CustomerID: customerID, Status: domain.SubscriptionActive, Value: 99.9, Cycle: "MONTHLY"}
	require.NoError(t, repo.CreateSubscription(context.Background(), f.db, s))
	return s
}
