package services

import (
	"testing"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
)

func TestMapPaymentStatus(t *testing.T) {
	cases := []struct {
		event, remote string
		want          domain.PaymentStatus
	}{
		{"PAYMENT_RECEIVED", "RECEIVED", domain.PaymentReceived},
		{"PAYMENT_RECEIVED", "RECEIVED_IN_CASH", domain.PaymentReceived},
		{"PAYMENT_CONFIRMED", "CONFIRMED", domain.PaymentConfirmed},
		{"PAYMENT_OVERDUE", "OVERDUE", domain.PaymentOverdue},
		{"PAYMENT_REFUNDED", "REFUND_IN_PROGRESS", domain.PaymentRefunded},
		{"PAYMENT_CHARGEBACK_REQUESTED", "CHARGEBACK_REQUESTED", domain.PaymentDisputed},
		{"PAYMENT_UPDATED", "BRAND_NEW_STATUS", domain.PaymentPending},
		{"PAYMENT_DELETED", "RECEIVED", domain.PaymentCancelled},
		{"PAYMENT_OVERDUE", "", domain.PaymentOverdue},
		{"PAYMENT_SOMETHING", "", domain.PaymentPending},
	}
	for _, tc := range cases {
		if got := mapPaymentStatus(tc.event, tc.remote); got != tc.want {
			t.Errorf("mapPaymentStatus(%q, %q) = %s; want %s", tc.event, tc.remote, got, tc.want)
		}
	}
}

func TestMapSubscriptionStatus(t *testing.T) {
	cases := []struct {
		event, remote string
		deleted       bool
		want          domain.SubscriptionStatus
		ok            bool
	}{
		{"SUBSCRIPTION_UPDATED", "ACTIVE", false, domain.SubscriptionActive, true},
		{"SUBSCRIPTION_UPDATED", "EXPIRED", false, domain.SubscriptionExpired, true},
		{"SUBSCRIPTION_DELETED", "ACTIVE", false, domain.SubscriptionCancelled, true},
		{"SUBSCRIPTION_UPDATED", "ACTIVE", true, domain.SubscriptionCancelled, true},
		{"SUBSCRIPTION_INACTIVATED", "", false, domain.SubscriptionInactive, true},
		{"SUBSCRIPTION_UPDATED", "WHATEVER", false, "", false},
	}
	for _, tc := range cases {
		got, ok := mapSubscriptionStatus(tc.event, tc.remote, tc.deleted)
		if got != tc.want || ok != tc.ok {
			t.Errorf("mapSubscriptionStatus(%q, %q, %v) = %s, %v; want %s, %v", tc.event, tc.remote, tc.deleted, got, ok, tc.want, tc.ok)
		}
	}
}
