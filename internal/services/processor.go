package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/notify"
	"github.com/tbourn/go-billing-reconciler/internal/observability"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
	"github.com/tbourn/go-billing-reconciler/internal/webhook"
)

const (
	defaultEventTimeout = 10 * time.Second
	defaultRetention    = 90 * 24 * time.Hour
)

var processorTracer = otel.Tracer("services/processor")

// Outcome is the disposition of one delivery.
type Outcome struct {
	Status domain.Outcome
	Reason string
	LogID  string
}

// Processor turns gateway deliveries into local state transitions. Every
// delivery is logged before it is interpreted; redeliveries are absorbed by
// the ledger, which is only written after the transition committed.
type Processor struct {
	DB        *gorm.DB
	Ledger    *Ledger
	Conflicts *ConflictService
	Notifier  notify.Dispatcher

	// Timeout bounds the transition of one delivery.
	Timeout time.Duration
	// Retention is how long webhook logs are kept.
	Retention time.Duration
	Now       func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p *Processor) timeout() time.Duration {
	if p.Timeout <= 0 {
		return defaultEventTimeout
	}
	return p.Timeout
}

func (p *Processor) retention() time.Duration {
	if p.Retention <= 0 {
		return defaultRetention
	}
	return p.Retention
}

// transition is what applying an event produced.
type transition struct {
	outcome domain.Outcome
	reason  string
	notice  *notice
}

type notice struct {
	kind       domain.NotificationKind
	customerID string
	payment    *domain.Payment
}

// Process ingests one raw delivery.
//
// Returned errors:
//   - ErrMalformedEvent: the body is not a valid delivery (do not retry).
//   - ErrTimeout, ErrTransientStore: processing failed; the ledger was not
//     written so a redelivery is processed again.
//
// Rejected and skipped deliveries are not errors.
func (p *Processor) Process(ctx context.Context, raw []byte) (Outcome, error) {
	ctx, span := processorTracer.Start(ctx, "Processor.Process")
	defer span.End()
	started := time.Now()

	ev, err := webhook.Parse(raw)
	if err != nil {
		out := p.logMalformed(ctx, raw, err)
		observability.WebhooksProcessed.WithLabelValues(string(out.Status)).Inc()
		span.SetStatus(codes.Error, "malformed")
		return out, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	family := eventFamily(ev)
	defer func() {
		observability.WebhookDuration.WithLabelValues(family).Observe(time.Since(started).Seconds())
	}()
	span.SetAttributes(attribute.String("webhook.event", ev.Type()), attribute.String("webhook.target", ev.TargetID()))

	now := p.now()
	entry := &domain.WebhookLog{
		EventID:    domain.StrPtr(ev.EventID()),
		EventType:  ev.Type(),
		RawPayload: string(raw),
		ReceivedAt: now,
	}
	switch e := ev.(type) {
	case webhook.PaymentEvent:
		entry.RelatedPaymentID = domain.StrPtr(e.Payment.ID)
	case webhook.SubscriptionEvent:
		entry.RelatedSubscriptionID = domain.StrPtr(e.Subscription.ID)
	}
	var key string
	if ev.TargetID() != "" {
		key = p.Ledger.Fingerprint(ev.Type(), ev.TargetID(), now)
		entry.Fingerprint = key
	}
	if err := repo.CreateWebhookLog(ctx, p.DB, entry, p.retention()); err != nil {
		span.SetStatus(codes.Error, "audit log")
		return Outcome{Status: domain.OutcomeFailed}, transient("log webhook", err)
	}

	lg := log.Ctx(ctx).With().
		Str("webhook_log_id", entry.ID).
		Str("event", ev.Type()).
		Str("target", ev.TargetID()).
		Logger()

	if ev.TargetID() == "" {
		out := Outcome{Status: domain.OutcomeRejected, Reason: domain.ReasonNoTarget, LogID: entry.ID}
		p.finishLog(ctx, entry.ID, domain.ProcessingFailed, out, domain.StrPtr(domain.ReasonNoTarget))
		lg.Info().Msg("webhook rejected: no target reference")
		return p.done(out), nil
	}

	if chk := p.Ledger.CheckAndReserve(ctx, key); chk.AlreadyProcessed {
		out := Outcome{Status: domain.OutcomeDuplicate, Reason: chk.PriorResult, LogID: entry.ID}
		p.finishLog(ctx, entry.ID, domain.ProcessingDone, out, nil)
		lg.Info().Str("prior", chk.PriorResult).Msg("webhook duplicate")
		return p.done(out), nil
	}

	if err := repo.PatchWebhookLog(ctx, p.DB, entry.ID, map[string]any{
		"processing_status": domain.ProcessingProcessing,
	}); err != nil {
		lg.Warn().Err(err).Msg("mark webhook processing")
	}

	tctx, cancel := context.WithTimeout(ctx, p.timeout())
	res, err := p.apply(tctx, ev)
	deadline := errors.Is(tctx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		if deadline || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		} else if !errors.Is(err, ErrTransientStore) {
			err = transient("apply "+ev.Type(), err)
		}
		msg := err.Error()
		if errors.Is(err, ErrTimeout) {
			msg = domain.ReasonTimeout
		}
		out := Outcome{Status: domain.OutcomeFailed, Reason: msg, LogID: entry.ID}
		p.finishLog(context.WithoutCancel(ctx), entry.ID, domain.ProcessingFailed, out, &msg)
		lg.Error().Err(err).Msg("webhook processing failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return p.done(out), err
	}

	if res.notice != nil && p.dispatch(ctx, res.notice) {
		p.markNotified(ctx, res.notice)
	}

	out := Outcome{Status: res.outcome, Reason: res.reason, LogID: entry.ID}
	p.finishLog(ctx, entry.ID, domain.ProcessingDone, out, nil)
	p.Ledger.Commit(ctx, key, string(res.outcome))
	lg.Info().Str("outcome", string(res.outcome)).Str("reason", res.reason).Msg("webhook processed")
	return p.done(out), nil
}

func (p *Processor) done(out Outcome) Outcome {
	observability.WebhooksProcessed.WithLabelValues(string(out.Status)).Inc()
	return out
}

// logMalformed writes the minimal audit row for an unparseable body.
func (p *Processor) logMalformed(ctx context.Context, raw []byte, cause error) Outcome {
	now := p.now()
	msg := cause.Error()
	entry := &domain.WebhookLog{
		EventType:        "UNPARSEABLE",
		RawPayload:       string(raw),
		Processed:        true,
		ProcessingStatus: domain.ProcessingFailed,
		Outcome:          domain.OutcomeRejected,
		Reason:           "malformed",
		Error:            &msg,
		ReceivedAt:       now,
		ProcessedAt:      &now,
	}
	if err := repo.CreateWebhookLog(ctx, p.DB, entry, p.retention()); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("log malformed webhook")
		return Outcome{Status: domain.OutcomeRejected, Reason: "malformed"}
	}
	return Outcome{Status: domain.OutcomeRejected, Reason: "malformed", LogID: entry.ID}
}

func (p *Processor) finishLog(ctx context.Context, id string, status domain.ProcessingStatus, out Outcome, errMsg *string) {
	now := p.now()
	reason := out.Reason
	if len(reason) > 64 {
		reason = reason[:64]
	}
	if err := repo.PatchWebhookLog(ctx, p.DB, id, map[string]any{
		"processed":         true,
		"processing_status": status,
		"outcome":           out.Status,
		"reason":            reason,
		"error":             errMsg,
		"processed_at":      now,
	}); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("webhook_log_id", id).Msg("finish webhook log")
	}
}

// apply routes the event to its transition.
func (p *Processor) apply(ctx context.Context, ev webhook.Event) (transition, error) {
	switch e := ev.(type) {
	case webhook.PaymentEvent:
		return p.applyPayment(ctx, e)
	case webhook.SubscriptionEvent:
		return p.applySubscription(ctx, e)
	default:
		return transition{outcome: domain.OutcomeSkipped, reason: domain.ReasonUnsupportedEvent}, nil
	}
}

func (p *Processor) applyPayment(ctx context.Context, e webhook.PaymentEvent) (transition, error) {
	pay, err := repo.GetPaymentByGatewayID(ctx, p.DB, e.Payment.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return transition{outcome: domain.OutcomeSkipped, reason: domain.ReasonUnknownPayment}, nil
	}
	if err != nil {
		return transition{}, err
	}

	next := mapPaymentStatus(e.Type(), e.Payment.Status)
	owed := next.NoticeKind()
	fields := map[string]any{"status": next}
	if owed == "" {
		fields["notified_kind"] = ""
	}
	if d := webhook.ParseDate(e.Payment.DueDate); d != nil {
		fields["due_date"] = *d
	}
	if d := paidAt(e.Payment); d != nil {
		fields["payment_date"] = *d
	}
	if e.Payment.BillingType != "" {
		fields["billing_type"] = e.Payment.BillingType
	}
	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdatePayment(ctx, tx, pay.ID, fields); err != nil {
			return err
		}
		if e.Payment.Value == nil || sameAmount(*e.Payment.Value, pay.Value) {
			return nil
		}
		_, err := p.Conflicts.report(ctx, tx, ConflictReport{
			Type:   domain.ConflictPaymentMismatch,
			Refs:   domain.ConflictRefs{LocalCustomerID: pay.CustomerID, RemotePaymentID: pay.GatewayPaymentID},
			Local:  pay,
			Remote: e.Payment,
			Field:  "value",
		})
		return err
	})
	if err != nil {
		return transition{}, err
	}

	pay.Status = next
	tr := transition{outcome: domain.OutcomeProcessed}
	// compared with the last delivered notice, not the previous status
	if owed != "" && pay.NotifiedKind != owed {
		tr.notice = &notice{kind: owed, customerID: pay.CustomerID, payment: pay}
	}
	return tr, nil
}

func (p *Processor) applySubscription(ctx context.Context, e webhook.SubscriptionEvent) (transition, error) {
	sub, err := repo.GetSubscriptionByGatewayID(ctx, p.DB, e.Subscription.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return transition{outcome: domain.OutcomeSkipped, reason: domain.ReasonUnknownSubscription}, nil
	}
	if err != nil {
		return transition{}, err
	}

	fields := map[string]any{}
	if st, ok := mapSubscriptionStatus(e.Type(), e.Subscription.Status, e.Subscription.Deleted); ok {
		fields["status"] = st
	}
	if d := webhook.ParseDate(e.Subscription.NextDueDate); d != nil {
		fields["next_due_date"] = *d
	}
	if e.Subscription.Value != nil {
		fields["value"] = *e.Subscription.Value
	}
	if e.Subscription.Cycle != "" {
		fields["cycle"] = e.Subscription.Cycle
	}
	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateSubscription(ctx, tx, sub.ID, fields); err != nil {
			return err
		}
		remote := e.Subscription.Customer
		if remote == "" {
			return nil
		}
		cust, err := repo.GetCustomer(ctx, tx, sub.CustomerID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cust.GatewayCustomerID == nil || *cust.GatewayCustomerID == remote {
			return nil
		}
		_, err = p.Conflicts.report(ctx, tx, ConflictReport{
			Type: domain.ConflictSubscriptionMismatch,
			Refs: domain.ConflictRefs{
				LocalCustomerID:      cust.ID,
				RemoteCustomerID:     remote,
				RemoteSubscriptionID: sub.GatewaySubscriptionID,
			},
			Local:  sub,
			Remote: e.Subscription,
			Field:  "customer",
		})
		return err
	})
	if err != nil {
		return transition{}, err
	}
	return transition{outcome: domain.OutcomeProcessed}, nil
}

// dispatch hands a notification to the dispatcher and reports whether it
// was accepted. Failures are logged and counted; they never fail the
// delivery.
func (p *Processor) dispatch(ctx context.Context, n *notice) bool {
	if p.Notifier == nil {
		return false
	}
	ctx = context.WithoutCancel(ctx)
	payload := map[string]any{
		"payment_id":         n.payment.ID,
		"gateway_payment_id": n.payment.GatewayPaymentID,
		"status":             n.payment.Status,
		"value":              n.payment.Value,
	}
	if n.payment.DueDate != nil {
		payload["due_date"] = n.payment.DueDate.Format("2006-01-02")
	}
	if cust, err := repo.GetCustomer(ctx, p.DB, n.customerID); err == nil {
		payload["customer_name"] = cust.Name
		payload["customer_email"] = cust.Email
	} else {
		log.Ctx(ctx).Warn().Err(err).Str("customer_id", n.customerID).Msg("notification customer lookup")
	}

	result := "ok"
	err := p.Notifier.Send(ctx, n.kind, n.customerID, payload)
	if err != nil {
		result = "error"
		log.Ctx(ctx).Error().Err(err).Str("kind", string(n.kind)).Str("customer_id", n.customerID).Msg("notification dispatch failed")
	}
	observability.NotificationsDispatched.WithLabelValues(string(n.kind), result).Inc()
	return err == nil
}

// markNotified records that the payment's current notice went out. A failed
// write is logged; the next event for the payment would send it again.
func (p *Processor) markNotified(ctx context.Context, n *notice) {
	ctx = context.WithoutCancel(ctx)
	if err := repo.UpdatePayment(ctx, p.DB, n.payment.ID, map[string]any{"notified_kind": n.kind}); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("payment_id", n.payment.ID).Msg("record notification")
	}
}

func paidAt(pm webhook.Payment) *time.Time {
	if d := webhook.ParseDate(pm.PaymentDate); d != nil {
		return d
	}
	return webhook.ParseDate(pm.ClientPaidDate)
}

// sameAmount compares monetary values to the cent.
func sameAmount(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}

func eventFamily(ev webhook.Event) string {
	switch ev.(type) {
	case webhook.PaymentEvent:
		return "payment"
	case webhook.SubscriptionEvent:
		return "subscription"
	}
	return "other"
}
