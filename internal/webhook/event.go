// Package webhook decodes inbound gateway deliveries into typed events.
//
// A delivery is a JSON object with an "event" tag and a nested "payment" or
// "subscription" object. The tag's prefix selects the variant:
//
//	PAYMENT_*      -> PaymentEvent
//	SUBSCRIPTION_* -> SubscriptionEvent
//	anything else  -> UnsupportedEvent
//
// Bodies are validated against an embedded JSON Schema before decoding; a
// body that fails validation is reported as ErrMalformed.
package webhook

import (
	"strings"
	"time"
)

const (
	paymentPrefix      = "PAYMENT_"
	subscriptionPrefix = "SUBSCRIPTION_"
)

// Event is one decoded delivery. The concrete type is one of PaymentEvent,
// SubscriptionEvent or UnsupportedEvent.
type Event interface {
	// Type is the normalised event tag, e.g. "PAYMENT_RECEIVED".
	Type() string
	// EventID is the sender-assigned id, empty when absent.
	EventID() string
	// TargetID is the gateway id of the entity the event is about.
	TargetID() string

	isEvent()
}

// Envelope holds the fields shared by every variant.
type Envelope struct {
	ID    string
	Event string
}

func (e Envelope) Type() string    { return e.Event }
func (e Envelope) EventID() string { return e.ID }
func (Envelope) isEvent()          {}

// Payment is the gateway's payment object.
type Payment struct {
	ID             string   `json:"id"`
	Customer       string   `json:"customer"`
	Subscription   string   `json:"subscription"`
	Status         string   `json:"status"`
	Value          *float64 `json:"value"`
	NetValue       *float64 `json:"netValue"`
	BillingType    string   `json:"billingType"`
	DueDate        string   `json:"dueDate"`
	PaymentDate    string   `json:"paymentDate"`
	ClientPaidDate string   `json:"clientPaymentDate"`
}

// PaymentEvent reports a payment status change.
type PaymentEvent struct {
	Envelope
	Payment Payment
}

// TargetID returns the gateway payment id.
func (e PaymentEvent) TargetID() string { return e.Payment.ID }

// Subscription is the gateway's subscription object.
type Subscription struct {
	ID          string   `json:"id"`
	Customer    string   `json:"customer"`
	Status      string   `json:"status"`
	Value       *float64 `json:"value"`
	Cycle       string   `json:"cycle"`
	NextDueDate string   `json:"nextDueDate"`
	Deleted     bool     `json:"deleted"`
}

// SubscriptionEvent reports a subscription change.
type SubscriptionEvent struct {
	Envelope
	Subscription Subscription
}

// TargetID returns the gateway subscription id.
func (e SubscriptionEvent) TargetID() string { return e.Subscription.ID }

// UnsupportedEvent is a delivery whose tag belongs to no handled family.
// Its target is whichever nested object carried an id.
type UnsupportedEvent struct {
	Envelope
	Target string
}

// TargetID returns the best-effort target id.
func (e UnsupportedEvent) TargetID() string { return e.Target }

// IsPayment reports whether the tag belongs to the payment family.
func IsPayment(eventType string) bool { return strings.HasPrefix(eventType, paymentPrefix) }

// IsSubscription reports whether the tag belongs to the subscription family.
func IsSubscription(eventType string) bool { return strings.HasPrefix(eventType, subscriptionPrefix) }

// ParseDate parses the gateway's date fields ("2006-01-02", optionally with
// a time part). Empty or unparseable values yield nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}
