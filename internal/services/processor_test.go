package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
)

const paymentReceived = `{"id":"evt_1","event":"PAYMENT_RECEIVED","payment":{"id":"pay_1","customer":"cus_1","status":"RECEIVED","value":150.0,"paymentDate":"2026-03-10"}}`

func countLedger(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&domain.IdempotencyRecord{}).Count(&n).Error)
	return n
}

func TestProcess_ScenarioA_PaymentReceived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.seedCustomer(t, "c1", "cus_1", "ana@example.com")
	f.seedPayment(t, "pay_1", cust.ID, domain.PaymentPending, 150)

	out, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, out.Status)

	pay, err := repo.GetPaymentByGatewayID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentReceived, pay.Status)
	require.NotNil(t, pay.PaymentDate)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.NotifyPaymentConfirmation, sent[0].Kind)
	assert.Equal(t, cust.ID, sent[0].Target)
	assert.Equal(t, "ana@example.com", sent[0].Payload["customer_email"])

	entry, err := repo.GetWebhookLog(ctx, f.db, out.LogID)
	require.NoError(t, err)
	assert.True(t, entry.Processed)
	assert.Nil(t, entry.Error)
	assert.Equal(t, domain.ProcessingDone, entry.ProcessingStatus)
	assert.Equal(t, paymentReceived, entry.RawPayload)
	require.NotNil(t, entry.RelatedPaymentID)
	assert.Equal(t, "pay_1", *entry.RelatedPaymentID)
	assert.EqualValues(t, 1, countLedger(t, f.db))
}

func TestProcess_ScenarioB_DuplicateWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust := f.seedCustomer(t, "c1", "cus_1", "")
	f.seedPayment(t, "pay_1", cust.ID, domain.PaymentPending, 150)

	first, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeProcessed, first.Status)

	f.clock.Advance(45 * time.Second)
	second, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, second.Status)
	assert.Len(t, f.notifier.Sent(), 1, "a duplicate must not notify again")

	entry, err := repo.GetWebhookLog(ctx, f.db, second.LogID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, entry.Outcome)
	assert.True(t, entry.Processed)
}

func TestProcess_NoTargetIsRejected(t *testing.T) {
	f := newFixture(t)
	out, err := f.proc.Process(context.Background(), []byte(`{"event":"PAYMENT_RECEIVED","payment":{"status":"RECEIVED"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, out.Status)
	assert.Equal(t, domain.ReasonNoTarget, out.Reason)

	entry, err := repo.GetWebhookLog(context.Background(), f.db, out.LogID)
	require.NoError(t, err)
	assert.True(t, entry.Processed)
	require.NotNil(t, entry.Error)
	assert.Zero(t, countLedger(t, f.db))
}

func TestProcess_Malformed(t *testing.T) {
	f := newFixture(t)
	out, err := f.proc.Process(context.Background(), []byte(`{"payment":`))
	require.ErrorIs(t, err, ErrMalformedEvent)
	assert.Equal(t, domain.OutcomeRejected, out.Status)

	entry, err := repo.GetWebhookLog(context.Background(), f.db, out.LogID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingFailed, entry.ProcessingStatus)
	assert.Equal(t, `{"payment":`, entry.RawPayload)
	assert.Zero(t, countLedger(t, f.db))
}

func TestProcess_UnknownEntityIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, out.Status)
	assert.Equal(t, domain.ReasonUnknownPayment, out.Reason)

	out, err = f.proc.Process(ctx, []byte(`{"event":"SUBSCRIPTION_UPDATED","subscription":{"id":"sub_x","status":"ACTIVE"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, out.Status)
	assert.Equal(t, domain.ReasonUnknownSubscription, out.Reason)

	n, err := repo.CountSkippedByReason(ctx, f.db, f.clock.Now().Add(-time.Hour), domain.ReasonUnknownPayment, domain.ReasonUnknownSubscription)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Empty(t, f.notifier.Sent())
}

func TestProcess_UnsupportedEvent(t *testing.T) {
	f := newFixture(t)
	out, err := f.proc.Process(context.Background(), []byte(`{"event":"INVOICE_CREATED","payment":{"id":"pay_9"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, out.Status)
	assert.Equal(t, domain.ReasonUnsupportedEvent, out.Reason)
}

func TestProcess_NotificationRules(t *testing.T) {
	cases := []struct {
		name     string
		from     domain.PaymentStatus
		notified domain.NotificationKind
		body     string
		want     domain.PaymentStatus
		notice   domain.NotificationKind
	}{
		{"overdue", domain.PaymentPending, "", `{"event":"PAYMENT_OVERDUE","payment":{"id":"pay_1","status":"OVERDUE"}}`, domain.PaymentOverdue, domain.NotifyPaymentOverdue},
		{"confirmed after received", domain.PaymentReceived, domain.NotifyPaymentConfirmation, `{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","status":"CONFIRMED"}}`, domain.PaymentConfirmed, ""},
		{"received but never notified", domain.PaymentReceived, "", `{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","status":"CONFIRMED"}}`, domain.PaymentConfirmed, domain.NotifyPaymentConfirmation},
		{"paid after overdue", domain.PaymentOverdue, domain.NotifyPaymentOverdue, `{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_1","status":"RECEIVED"}}`, domain.PaymentReceived, domain.NotifyPaymentConfirmation},
		{"unknown status is pending", domain.PaymentOverdue, domain.NotifyPaymentOverdue, `{"event":"PAYMENT_UPDATED","payment":{"id":"pay_1","status":"SOMETHING_NEW"}}`, domain.PaymentPending, ""},
		{"status from event tag", domain.PaymentPending, "", `{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1"}}`, domain.PaymentConfirmed, domain.NotifyPaymentConfirmation},
		{"deleted cancels", domain.PaymentPending, "", `{"event":"PAYMENT_DELETED","payment":{"id":"pay_1","status":"PENDING"}}`, domain.PaymentCancelled, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.seedCustomer(t, "c1", "", "")
			seeded := f.seedPayment(t, "pay_1", "c1", tc.from, 10)
			if tc.notified != "" {
				require.NoError(t, repo.UpdatePayment(ctx, f.db, seeded.ID, map[string]any{"notified_kind": tc.notified}))
			}

			out, err := f.proc.Process(ctx, []byte(tc.body))
			require.NoError(t, err)
			require.Equal(t, domain.OutcomeProcessed, out.Status)

			pay, err := repo.GetPaymentByGatewayID(ctx, f.db, "pay_1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, pay.Status)

			sent := f.notifier.Sent()
			if tc.notice == "" {
				assert.Empty(t, sent)
				if tc.want.NoticeKind() == "" {
					assert.Empty(t, pay.NotifiedKind, "leaving a notifying status clears the record")
				}
				return
			}
			require.Len(t, sent, 1)
			assert.Equal(t, tc.notice, sent[0].Kind)
			assert.Equal(t, tc.notice, pay.NotifiedKind)
		})
	}
}

func TestProcess_NotifierFailureDoesNotFailDelivery(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("queue down")
	f.seedCustomer(t, "c1", "", "")
	f.seedPayment(t, "pay_1", "c1", domain.PaymentPending, 150)

	out, err := f.proc.Process(context.Background(), []byte(paymentReceived))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, out.Status)
	assert.EqualValues(t, 1, countLedger(t, f.db))
}

func TestProcess_ValueMismatchRaisesConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "c1", "cus_1", "")
	f.seedPayment(t, "pay_1", "c1", domain.PaymentPending, 100)

	_, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)

	pay, err := repo.GetPaymentByGatewayID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, pay.Value, "remote value must not overwrite the local one")

	items, total, err := f.conflicts.List(ctx, ConflictFilter{Type: domain.ConflictPaymentMismatch})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.NotNil(t, items[0].Field)
	assert.Equal(t, "value", *items[0].Field)
	assert.Equal(t, "pay_1", *items[0].RemotePaymentID)

	// a later, distinct delivery for the same payment refreshes the same conflict
	f.clock.Advance(10 * time.Minute)
	_, err = f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)
	items, total, err = f.conflicts.List(ctx, ConflictFilter{Type: domain.ConflictPaymentMismatch})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, 2, items[0].DetectionCount)
}

func TestProcess_SubscriptionUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "c1", "cus_1", "")
	f.seedSubscription(t, "sub_1", "c1")

	out, err := f.proc.Process(ctx, []byte(`{"event":"SUBSCRIPTION_UPDATED","subscription":{"id":"sub_1","customer":"cus_1","status":"EXPIRED","value":120,"nextDueDate":"2026-04-10"}}`))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeProcessed, out.Status)

	sub, err := repo.GetSubscriptionByGatewayID(ctx, f.db, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionExpired, sub.Status)
	assert.Equal(t, 120.0, sub.Value)
	require.NotNil(t, sub.NextDueDate)
	assert.Equal(t, "2026-04-10", sub.NextDueDate.Format("2006-01-02"))

	_, err = f.proc.Process(ctx, []byte(`{"event":"SUBSCRIPTION_DELETED","subscription":{"id":"sub_1","customer":"cus_other"}}`))
	require.NoError(t, err)
	sub, err = repo.GetSubscriptionByGatewayID(ctx, f.db, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionCancelled, sub.Status)

	_, total, err := f.conflicts.List(ctx, ConflictFilter{Type: domain.ConflictSubscriptionMismatch})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total, "customer mismatch is flagged")
}

// The ledger must only be written after the transition committed: a
// failure reported after the business write leaves the ledger empty, and the
// redelivery is processed again and sends the confirmation exactly once.
func TestProcess_LedgerAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "c1", "", "")
	f.seedPayment(t, "pay_1", "c1", domain.PaymentPending, 150)

	var fail atomic.Bool
	fail.Store(true)
	require.NoError(t, f.db.Callback().Update().After("gorm:commit_or_rollback_transaction").
		Register("test:fail_after_payment_write", func(tx *gorm.DB) {
			if fail.Load() && tx.Statement.Table == "payments" {
				_ = tx.AddError(errors.New("injected failure"))
			}
		}))

	out, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.ErrorIs(t, err, ErrTransientStore)
	assert.Equal(t, domain.OutcomeFailed, out.Status)
	assert.Zero(t, countLedger(t, f.db))
	assert.Empty(t, f.notifier.Sent())

	entry, err := repo.GetWebhookLog(ctx, f.db, out.LogID)
	require.NoError(t, err)
	assert.True(t, entry.Processed)
	assert.Equal(t, domain.ProcessingFailed, entry.ProcessingStatus)
	require.NotNil(t, entry.Error)

	pay, err := repo.GetPaymentByGatewayID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, pay.Status, "the failed transition is rolled back")

	fail.Store(false)
	out, err = f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, out.Status, "redelivery is reprocessed, not reported as duplicate")
	assert.EqualValues(t, 1, countLedger(t, f.db))
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.NotifyPaymentConfirmation, sent[0].Kind)
}

// A failed conflict report undoes the status write with it, so the retry
// still sees the payment as pending and notifies.
func TestProcess_ConflictReportFailureRollsBackStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "c1", "", "")
	f.seedPayment(t, "pay_1", "c1", domain.PaymentPending, 100)

	var fail atomic.Bool
	fail.Store(true)
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").
		Register("test:fail_conflict_insert", func(tx *gorm.DB) {
			if fail.Load() && tx.Statement.Table == "conflicts" {
				_ = tx.AddError(errors.New("conflict store down"))
			}
		}))

	_, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.ErrorIs(t, err, ErrTransientStore)
	pay, err := repo.GetPaymentByGatewayID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, pay.Status)
	assert.Empty(t, f.notifier.Sent())

	fail.Store(false)
	out, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, out.Status)
	require.Len(t, f.notifier.Sent(), 1)

	_, total, err := f.conflicts.List(ctx, ConflictFilter{Type: domain.ConflictPaymentMismatch})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

// A payment whose status was committed by an attempt that never got to
// notify is notified by the next delivery, and only once.
func TestProcess_NotifiesOnceAfterInterruptedAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "c1", "", "")
	f.seedPayment(t, "pay_1", "c1", domain.PaymentReceived, 150)

	_, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)
	require.Len(t, f.notifier.Sent(), 1)

	pay, err := repo.GetPaymentByGatewayID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.NotifyPaymentConfirmation, pay.NotifiedKind)

	_, err = f.proc.Process(ctx, []byte(`{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","status":"CONFIRMED","value":150.0}}`))
	require.NoError(t, err)
	assert.Len(t, f.notifier.Sent(), 1, "confirmation already delivered")
}

func TestProcess_FailedNoticeIsRetriedOnNextEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "c1", "", "")
	f.seedPayment(t, "pay_1", "c1", domain.PaymentPending, 150)

	f.notifier.err = errors.New("queue down")
	_, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.NoError(t, err)
	pay, err := repo.GetPaymentByGatewayID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Empty(t, pay.NotifiedKind)

	f.notifier.err = nil
	_, err = f.proc.Process(ctx, []byte(`{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1","status":"CONFIRMED"}}`))
	require.NoError(t, err)
	sent := f.notifier.Sent()
	require.Len(t, sent, 2, "one failed attempt, one retry")
	assert.Equal(t, domain.NotifyPaymentConfirmation, sent[1].Kind)

	pay, err = repo.GetPaymentByGatewayID(ctx, f.db, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.NotifyPaymentConfirmation, pay.NotifiedKind)
}

func TestProcess_Timeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCustomer(t, "c1", "", "")
	f.seedPayment(t, "pay_1", "c1", domain.PaymentPending, 150)
	f.proc.Timeout = 50 * time.Millisecond

	require.NoError(t, f.db.Callback().Query().Before("gorm:query").
		Register("test:stall_payments", func(tx *gorm.DB) {
			if tx.Statement.Table == "payments" {
				<-tx.Statement.Context.Done()
				_ = tx.AddError(tx.Statement.Context.Err())
			}
		}))

	out, err := f.proc.Process(ctx, []byte(paymentReceived))
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, domain.OutcomeFailed, out.Status)

	entry, err := repo.GetWebhookLog(ctx, f.db, out.LogID)
	require.NoError(t, err)
	assert.True(t, entry.Processed)
	require.NotNil(t, entry.Error)
	assert.Equal(t, "timeout", *entry.Error)
	assert.Zero(t, countLedger(t, f.db))
}
