package services

import "github.com/tbourn/go-billing-reconciler/internal/domain"

// paymentStatusTable maps the gateway's payment status vocabulary onto the
// internal enum. Anything not listed maps to PENDING.
var paymentStatusTable = map[string]domain.PaymentStatus{
	"PENDING":                      domain.PaymentPending,
	"AWAITING_RISK_ANALYSIS":       domain.PaymentPending,
	"APPROVED_BY_RISK_ANALYSIS":    domain.PaymentPending,
	"RECEIVED":                     domain.PaymentReceived,
	"RECEIVED_IN_CASH":             domain.PaymentReceived,
	"DUNNING_RECEIVED":             domain.PaymentReceived,
	"CONFIRMED":                    domain.PaymentConfirmed,
	"OVERDUE":                      domain.PaymentOverdue,
	"DUNNING_REQUESTED":            domain.PaymentOverdue,
	"REFUNDED":                     domain.PaymentRefunded,
	"REFUND_REQUESTED":             domain.PaymentRefunded,
	"REFUND_IN_PROGRESS":           domain.PaymentRefunded,
	"CHARGEBACK_REQUESTED":         domain.PaymentDisputed,
	"CHARGEBACK_DISPUTE":           domain.PaymentDisputed,
	"AWAITING_CHARGEBACK_REVERSAL": domain.PaymentDisputed,
	"DELETED":                      domain.PaymentCancelled,
	"CANCELLED":                    domain.PaymentCancelled,
}

// paymentEventStatus is used when the payment object carries no status.
var paymentEventStatus = map[string]domain.PaymentStatus{
	"PAYMENT_CREATED":                      domain.PaymentPending,
	"PAYMENT_RECEIVED":                     domain.PaymentReceived,
	"PAYMENT_CONFIRMED":                    domain.PaymentConfirmed,
	"PAYMENT_OVERDUE":                      domain.PaymentOverdue,
	"PAYMENT_REFUNDED":                     domain.PaymentRefunded,
	"PAYMENT_RECEIVED_IN_CASH_UNDONE":      domain.PaymentPending,
	"PAYMENT_CHARGEBACK_REQUESTED":         domain.PaymentDisputed,
	"PAYMENT_CHARGEBACK_DISPUTE":           domain.PaymentDisputed,
	"PAYMENT_AWAITING_CHARGEBACK_REVERSAL": domain.PaymentDisputed,
	"PAYMENT_RESTORED":                     domain.PaymentPending,
}

// subscriptionStatusTable maps the gateway's subscription vocabulary. Values
// not listed leave the local status unchanged.
var subscriptionStatusTable = map[string]domain.SubscriptionStatus{
	"ACTIVE":    domain.SubscriptionActive,
	"INACTIVE":  domain.SubscriptionInactive,
	"EXPIRED":   domain.SubscriptionExpired,
	"CANCELLED": domain.SubscriptionCancelled,
	"DELETED":   domain.SubscriptionCancelled,
}

var subscriptionEventStatus = map[string]domain.SubscriptionStatus{
	"SUBSCRIPTION_INACTIVATED": domain.SubscriptionInactive,
	"SUBSCRIPTION_DELETED":     domain.SubscriptionCancelled,
}

// mapPaymentStatus resolves the internal status for a payment event. A
// deletion always cancels; otherwise the object's status wins over the
// event tag.
func mapPaymentStatus(eventType, remote string) domain.PaymentStatus {
	if eventType == "PAYMENT_DELETED" {
		return domain.PaymentCancelled
	}
	if remote != "" {
		if s, ok := paymentStatusTable[remote]; ok {
			return s
		}
		return domain.PaymentPending
	}
	if s, ok := paymentEventStatus[eventType]; ok {
		return s
	}
	return domain.PaymentPending
}

// mapSubscriptionStatus resolves the internal status for a subscription
// event. ok is false when the status should be left unchanged.
func mapSubscriptionStatus(eventType, remote string, deleted bool) (domain.SubscriptionStatus, bool) {
	if deleted {
		return domain.SubscriptionCancelled, true
	}
	if s, ok := subscriptionEventStatus[eventType]; ok {
		return s, true
	}
	s, ok := subscriptionStatusTable[remote]
	return s, ok
}
