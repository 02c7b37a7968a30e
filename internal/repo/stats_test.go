package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestConflictCountsByTypeStatus(t *testing.T) {
	db := newTestDB(t, &domain.Conflict{})
	ctx := context.Background()
	seed := []struct {
		typ    domain.ConflictType
		status domain.ConflictStatus
	}{
		{domain.ConflictDuplicateCustomer, domain.ConflictPending},
		{domain.ConflictDuplicateCustomer, domain.ConflictPending},
		{domain.ConflictDuplicateCustomer, domain.ConflictIgnored},
		{domain.ConflictPaymentMismatch, domain.ConflictResolved},
	}
	for i, s := range seed {
		c := &domain.Conflict{Type: s.typ, Status: s.status, LocalCustomerID: domain.StrPtr(fmt.Sprintf("c%d", i))}
		if err := CreateConflict(ctx, db, c); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	rows, err := ConflictCountsByTypeStatus(ctx, db)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	want := []TypeStatusCount{
		{Type: "duplicate_customer", Status: "ignored", Count: 1},
		{Type: "duplicate_customer", Status: "pending", Count: 2},
		{Type: "payment_mismatch", Status: "resolved", Count: 1},
	}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v; want %+v", rows, want)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Fatalf("row %d = %+v; want %+v", i, rows[i], want[i])
		}
	}

	n, err := CountConflicts(ctx, db, domain.ConflictPending)
	if err != nil || n != 2 {
		t.Fatalf("CountConflicts = %d, %v; want 2", n, err)
	}
}

func TestAlertCountsByTypeStatus_Empty(t *testing.T) {
	db := newTestDB(t, &domain.Alert{})
	rows, err := AlertCountsByTypeStatus(context.Background(), db)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}

func TestSyncRunCounts_Window(t *testing.T) {
	db := newTestDB(t, &domain.SyncRun{})
	ctx := context.Background()
	now := time.Now().UTC()
	runs := []domain.SyncRun{
		{Operation: "create_customer", Status: domain.SyncFailed, StartedAt: now.Add(-10 * time.Minute)},
		{Operation: "create_customer", Status: domain.SyncFailed, RateLimited: true, StartedAt: now.Add(-5 * time.Minute)},
		{Operation: "create_payment", Status: domain.SyncSucceeded, StartedAt: now.Add(-time.Minute)},
		{Operation: "create_payment", Status: domain.SyncFailed, StartedAt: now.Add(-3 * time.Hour)}, // outside window
	}
	for i := range runs {
		if err := CreateSyncRun(ctx, db, &runs[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	failed, limited, err := SyncRunCounts(ctx, db, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("SyncRunCounts: %v", err)
	}
	if failed != 2 || limited != 1 {
		t.Fatalf("failed=%d limited=%d; want 2 and 1", failed, limited)
	}
}
