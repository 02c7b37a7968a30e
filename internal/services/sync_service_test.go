package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
)

func TestSyncService_Record(t *testing.T) {
	db := newServiceDB(t)
	s := &SyncService{DB: db}
	ctx := context.Background()
	started := time.Date(2026, 3, 10, 11, 59, 0, 0, time.FixedZone("BRT", -3*3600))

	run, err := s.Record(ctx, SyncRunParams{
		Operation:  "  create_customer ",
		HTTPStatus: 429,
		Error:      "too many requests",
		CustomerID: "cus_1",
		StartedAt:  &started,
	})
	require.NoError(t, err)
	assert.Equal(t, "create_customer", run.Operation)
	assert.Equal(t, domain.SyncFailed, run.Status)
	assert.True(t, run.RateLimited, "a 429 counts as rate limited")
	assert.Equal(t, time.UTC, run.StartedAt.Location())
	require.NotNil(t, run.CustomerID)
	assert.Equal(t, "cus_1", *run.CustomerID)

	ok, err := s.Record(ctx, SyncRunParams{Operation: "update_payment", Success: true, HTTPStatus: 200})
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSucceeded, ok.Status)
	assert.False(t, ok.RateLimited)
	assert.False(t, ok.StartedAt.IsZero())

	failed, limited, err := repo.SyncRunCounts(ctx, db, started.UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, failed)
	assert.EqualValues(t, 1, limited)
}

func TestSyncService_Record_Invalid(t *testing.T) {
	s := &SyncService{DB: newServiceDB(t)}

	_, err := s.Record(context.Background(), SyncRunParams{Operation: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Record(context.Background(), SyncRunParams{Operation: "x", HTTPStatus: 42})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
