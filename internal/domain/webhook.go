package domain

import "time"

// ProcessingStatus tracks a webhook log entry through ingestion.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingDone       ProcessingStatus = "done"
	ProcessingFailed     ProcessingStatus = "failed"
)

// Outcome is the final disposition recorded for a webhook delivery.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Skip reasons recorded on webhook logs. The unknown-entity reasons feed the
// data integrity probe.
const (
	ReasonNoTarget            = "no target reference"
	ReasonUnknownPayment      = "unknown payment"
	ReasonUnknownSubscription = "unknown subscription"
	ReasonUnsupportedEvent    = "unsupported event type"
	ReasonTimeout             = "timeout"
)

// WebhookLog is the audit row written for every inbound gateway delivery,
// before any interpretation of the payload. RawPayload is stored verbatim.
//
// Processed=true implies either Error is set or the transition completed.
type WebhookLog struct {
	ID                    string           `json:"id"                                gorm:"type:char(36);primaryKey"`
	EventID               *string          `json:"event_id,omitempty"                gorm:"type:varchar(128);index"`
	EventType             string           `json:"event_type"                        gorm:"type:varchar(64);not null;index:idx_webhook_type_received,priority:1"`
	RelatedPaymentID      *string          `json:"related_payment_id,omitempty"      gorm:"type:varchar(64);index"`
	RelatedSubscriptionID *string          `json:"related_subscription_id,omitempty" gorm:"type:varchar(64);index"`
	RawPayload            string           `json:"-"                                 gorm:"type:text;not null"`
	Fingerprint           string           `json:"fingerprint,omitempty"             gorm:"type:varchar(64)"`
	Processed             bool             `json:"processed"                         gorm:"not null;default:false;index:idx_webhook_processed_received,priority:1"`
	ProcessingStatus      ProcessingStatus `json:"processing_status"                 gorm:"type:varchar(16);not null"`
	Outcome               Outcome          `json:"outcome,omitempty"                 gorm:"type:varchar(16);index"`
	Reason                string           `json:"reason,omitempty"                  gorm:"type:varchar(64)"`
	Error                 *string          `json:"error,omitempty"                   gorm:"type:text"`
	ReceivedAt            time.Time        `json:"received_at"                       gorm:"not null;index:idx_webhook_type_received,priority:2;index:idx_webhook_processed_received,priority:2"`
	ProcessedAt           *time.Time       `json:"processed_at,omitempty"`
	RetentionUntil        time.Time        `json:"retention_until"                   gorm:"not null;index"`
}

// TableName returns the database table name for WebhookLog.
func (WebhookLog) TableName() string { return "webhook_logs" }
