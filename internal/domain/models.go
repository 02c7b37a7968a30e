package domain

import (
	"time"

	"gorm.io/datatypes"
)

// SystemActor is recorded when no authenticated caller exists.
const SystemActor = "system"

// PaymentStatus is the internal payment status enum.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentReceived  PaymentStatus = "RECEIVED"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentOverdue   PaymentStatus = "OVERDUE"
	PaymentRefunded  PaymentStatus = "REFUNDED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentDisputed  PaymentStatus = "DISPUTED"
)

// Settled reports whether the payment counts as paid.
func (s PaymentStatus) Settled() bool {
	return s == PaymentReceived || s == PaymentConfirmed
}

// NoticeKind is the notification owed to the customer once a payment
// reaches s, or "" when none is.
func (s PaymentStatus) NoticeKind() NotificationKind {
	switch {
	case s.Settled():
		return NotifyPaymentConfirmation
	case s == PaymentOverdue:
		return NotifyPaymentOverdue
	}
	return ""
}

// SubscriptionStatus is the internal subscription status enum.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionInactive  SubscriptionStatus = "INACTIVE"
	SubscriptionExpired   SubscriptionStatus = "EXPIRED"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
)

// Customer is the local customer record. GatewayCustomerID links it to the
// gateway's customer once known.
//
// Fields:
//   - GatewayCustomerID: remote id, unique when set.
//   - Email: used by the duplicate-customer consistency check.
//   - MergedInto: set on the customer a merge folded away; such customers
//     are no longer checked for duplicates.
type Customer struct {
	ID                string    `json:"id"                            gorm:"type:char(36);primaryKey"`
	GatewayCustomerID *string   `json:"gateway_customer_id,omitempty" gorm:"type:varchar(64);uniqueIndex:ux_customer_gateway_id"`
	Name              string    `json:"name"                          gorm:"type:varchar(255);not null"`
	Email             string    `json:"email"                         gorm:"type:varchar(255);index"`
	Phone             string    `json:"phone,omitempty"               gorm:"type:varchar(32)"`
	MergedInto        *string   `json:"merged_into,omitempty"         gorm:"type:char(36);index"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }

// Payment mirrors a gateway charge owned by a local customer.
//
// NotifiedKind is the last notification delivered for the current status.
// It is cleared when the payment moves to a status that owes none.
type Payment struct {
	ID               string           `json:"id"                        gorm:"type:char(36);primaryKey"`
	GatewayPaymentID string           `json:"gateway_payment_id"        gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_gateway_id"`
	CustomerID       string           `json:"customer_id"               gorm:"type:char(36);not null;index"`
	SubscriptionID   *string          `json:"subscription_id,omitempty" gorm:"type:char(36);index"`
	Status           PaymentStatus    `json:"status"                    gorm:"type:varchar(16);not null"`
	Value            float64          `json:"value"                     gorm:"not null"`
	BillingType      string           `json:"billing_type,omitempty"    gorm:"type:varchar(32)"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	PaymentDate      *time.Time       `json:"payment_date,omitempty"`
	NotifiedKind     NotificationKind `json:"notified_kind,omitempty"   gorm:"type:varchar(32)"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// Subscription mirrors a gateway recurring charge.
type Subscription struct {
	ID                    string             `json:"id"                      gorm:"type:char(36);primaryKey"`
	GatewaySubscriptionID string             `json:"gateway_subscription_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_subscription_gateway_id"`
	CustomerID            string             `json:"customer_id"             gorm:"type:char(36);not null;index"`
	Status                SubscriptionStatus `json:"status"                  gorm:"type:varchar(16);not null"`
	Value                 float64            `json:"value"                   gorm:"not null"`
	Cycle                 string             `json:"cycle,omitempty"         gorm:"type:varchar(16)"`
	NextDueDate           *time.Time         `json:"next_due_date,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// SyncRunStatus is the result of one outbound gateway call.
type SyncRunStatus string

const (
	SyncSucceeded SyncRunStatus = "success"
	SyncFailed    SyncRunStatus = "failed"
)

// SyncRun records one outbound synchronisation attempt reported by the
// gateway client. Failed and rate-limited runs feed the health probes.
type SyncRun struct {
	ID          string        `json:"id"                    gorm:"type:char(36);primaryKey"`
	Operation   string        `json:"operation"             gorm:"type:varchar(64);not null"`
	Status      SyncRunStatus `json:"status"                gorm:"type:varchar(16);not null;index:idx_sync_status_started,priority:1"`
	RateLimited bool          `json:"rate_limited"          gorm:"not null;default:false"`
	HTTPStatus  int           `json:"http_status,omitempty"`
	Error       *string       `json:"error,omitempty"       gorm:"type:text"`
	CustomerID  *string       `json:"customer_id,omitempty" gorm:"type:varchar(64)"`
	StartedAt   time.Time     `json:"started_at"            gorm:"not null;index:idx_sync_status_started,priority:2"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// TableName returns the database table name for SyncRun.
func (SyncRun) TableName() string { return "sync_runs" }

// NotificationKind names the customer-facing message to send.
type NotificationKind string

const (
	NotifyPaymentConfirmation NotificationKind = "payment_confirmation"
	NotifyPaymentOverdue      NotificationKind = "payment_overdue"
)

// NotificationStatus tracks an outbox row.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification is an outbox row consumed by the delivery channels.
type Notification struct {
	ID             string             `json:"id"               gorm:"type:char(36);primaryKey"`
	Kind           NotificationKind   `json:"kind"             gorm:"type:varchar(32);not null"`
	TargetEntityID string             `json:"target_entity_id" gorm:"type:char(36);not null;index"`
	Context        datatypes.JSON     `json:"context,omitempty"`
	Status         NotificationStatus `json:"status"           gorm:"type:varchar(16);not null;index"`
	CreatedAt      time.Time          `json:"created_at"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }
