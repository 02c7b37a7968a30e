package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

func raise(t *testing.T, s *AlertService, typ domain.AlertType, sev domain.Severity, refs domain.AlertRefs) RaiseResult {
	t.Helper()
	res, err := s.Raise(context.Background(), RaiseParams{Type: typ, Severity: sev, Title: "t", Refs: refs})
	require.NoError(t, err)
	return res
}

func TestAlertRaise_SeverityMonotonic(t *testing.T) {
	f := newFixture(t)
	refs := domain.AlertRefs{PaymentID: "pay_1"}

	first := raise(t, f.alerts, domain.AlertAPIError, domain.SeverityMedium, refs)
	assert.False(t, first.Deduped)

	for _, sev := range []domain.Severity{domain.SeverityLow, domain.SeverityCritical, domain.SeverityHigh} {
		f.clock.Advance(time.Minute)
		res := raise(t, f.alerts, domain.AlertAPIError, sev, refs)
		assert.True(t, res.Deduped)
		assert.Equal(t, first.ID, res.ID)
	}

	a, err := f.alerts.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCritical, a.Severity)
	assert.Equal(t, 4, a.Count)
	assert.True(t, a.LastSeenAt.After(a.FirstSeenAt))
}

func TestAlertRaise_RefsMustMatchExactly(t *testing.T) {
	f := newFixture(t)
	a := raise(t, f.alerts, domain.AlertSyncFailure, domain.SeverityLow, domain.AlertRefs{CustomerID: "c1", PaymentID: "p1"})
	b := raise(t, f.alerts, domain.AlertSyncFailure, domain.SeverityLow, domain.AlertRefs{CustomerID: "c1"})
	c := raise(t, f.alerts, domain.AlertRateLimit, domain.SeverityLow, domain.AlertRefs{CustomerID: "c1"})
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, b.ID, c.ID)
}

func TestAlertRaise_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.alerts.Raise(context.Background(), RaiseParams{Type: "bogus", Severity: domain.SeverityLow})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.alerts.Raise(context.Background(), RaiseParams{Type: domain.AlertAPIError, Severity: "urgent"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAlert_AcknowledgedStillAbsorbs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := raise(t, f.alerts, domain.AlertWebhookTimeout, domain.SeverityLow, domain.AlertRefs{})

	a, err := f.alerts.Acknowledge(ctx, "op", first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertAcknowledged, a.Status)
	require.NotNil(t, a.AcknowledgedBy)

	// acknowledging twice is a no-op
	_, err = f.alerts.Acknowledge(ctx, "op", first.ID)
	require.NoError(t, err)

	again := raise(t, f.alerts, domain.AlertWebhookTimeout, domain.SeverityHigh, domain.AlertRefs{})
	assert.Equal(t, first.ID, again.ID)
	a, err = f.alerts.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityHigh, a.Severity)
	assert.Equal(t, domain.AlertAcknowledged, a.Status)
}

func TestAlert_SuppressionOpensNewAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := raise(t, f.alerts, domain.AlertRateLimit, domain.SeverityMedium, domain.AlertRefs{})

	_, err := f.alerts.Suppress(ctx, "op", first.ID, f.clock.Now().Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidSuppression)

	a, err := f.alerts.Suppress(ctx, "op", first.ID, f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.AlertSuppressed, a.Status)
	require.NotNil(t, a.SuppressedUntil)

	next := raise(t, f.alerts, domain.AlertRateLimit, domain.SeverityLow, domain.AlertRefs{})
	assert.False(t, next.Deduped)
	assert.NotEqual(t, first.ID, next.ID)

	old, err := f.alerts.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Count, "a suppressed alert is not revived")
	assert.Equal(t, domain.AlertSuppressed, old.Status)
}

func TestAlert_ResolveAndTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := raise(t, f.alerts, domain.AlertDataIntegrity, domain.SeverityLow, domain.AlertRefs{})

	a, err := f.alerts.Resolve(ctx, "op", first.ID, "fixed upstream")
	require.NoError(t, err)
	assert.Equal(t, domain.AlertResolved, a.Status)
	assert.Equal(t, "fixed upstream", *a.ResolutionNote)

	_, err = f.alerts.Resolve(ctx, "op", first.ID, "")
	assert.NoError(t, err, "resolving twice is a no-op")
	_, err = f.alerts.Acknowledge(ctx, "op", first.ID)
	assert.ErrorIs(t, err, ErrInvalidAlertTransition)
	_, err = f.alerts.Suppress(ctx, "op", first.ID, f.clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidAlertTransition)
	_, err = f.alerts.Acknowledge(ctx, "op", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.alerts.Acknowledge(ctx, "", first.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)

	next := raise(t, f.alerts, domain.AlertDataIntegrity, domain.SeverityLow, domain.AlertRefs{})
	assert.NotEqual(t, first.ID, next.ID, "resolution closes the occurrence")
}

func TestAlert_ListAndCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := raise(t, f.alerts, domain.AlertAPIError, domain.SeverityHigh, domain.AlertRefs{})
	raise(t, f.alerts, domain.AlertRateLimit, domain.SeverityLow, domain.AlertRefs{})
	_, err := f.alerts.Resolve(ctx, "op", a.ID, "")
	require.NoError(t, err)

	items, total, err := f.alerts.List(ctx, AlertFilter{Status: domain.AlertActive})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, domain.AlertRateLimit, items[0].Type)

	_, _, err = f.alerts.List(ctx, AlertFilter{Severity: "urgent"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	counts, err := f.alerts.Counts(ctx)
	require.NoError(t, err)
	assert.Len(t, counts, 2)
}
