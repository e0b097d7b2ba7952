package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Outcome classifies every observed charge result. A timeout or
// transport fault is processor_error, never a decline.
type Outcome string

const (
	OutcomeSucceeded         Outcome = "succeeded"
	OutcomeDeclinedRetryable Outcome = "declined_retryable"
	OutcomeDeclinedPermanent Outcome = "declined_permanent"
	OutcomeProcessorError    Outcome = "processor_error"
)

func (o Outcome) Failed() bool {
	return o == OutcomeDeclinedRetryable || o == OutcomeDeclinedPermanent || o == OutcomeProcessorError
}

// PaymentAttempt is the audit row for one charge. Attempt numbers are
// gapless per invoice; the idempotency key derives from them.
type PaymentAttempt struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID `json:"org_id" gorm:"not null;index"`
	InvoiceID      snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	AttemptNumber  int          `json:"attempt_number" gorm:"not null"`
	Outcome        Outcome      `json:"outcome" gorm:"type:text;not null"`
	FailureReason  *string      `json:"failure_reason" gorm:"type:text"`
	ProcessorRef   *string      `json:"processor_ref" gorm:"type:text"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"type:text;not null"`
	AttemptedAt    time.Time    `json:"attempted_at" gorm:"not null"`
	NextRetryAt    *time.Time   `json:"next_retry_at"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null"`
}

func (PaymentAttempt) TableName() string { return "payment_attempts" }

// Instrument is a tokenized payment method on file for a customer.
type Instrument struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID `json:"org_id" gorm:"not null;index"`
	CustomerRef string       `json:"customer_ref" gorm:"type:text;not null"`
	Provider    string       `json:"provider" gorm:"type:text;not null"`
	ProviderRef string       `json:"provider_ref" gorm:"type:text;not null"`
	IsDefault   bool         `json:"is_default" gorm:"not null;default:false"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (Instrument) TableName() string { return "payment_instruments" }

type ChargeRequest struct {
	InstrumentRef  string
	Amount         int64
	Currency       string
	IdempotencyKey string
}

type ChargeResult struct {
	Outcome      Outcome
	ProcessorRef string
	DeclineCode  string
}

const (
	EventChargeSucceeded     = "charge_succeeded"
	EventChargeFailed        = "charge_failed"
	EventSubscriptionUpdated = "subscription_updated"
	EventUnknown             = "unknown"
)

// ProcessorEvent is the canonical event shape parsed by adapters from
// provider webhooks. Unknown provider types still parse, tagged
// EventUnknown, so the reconciler can record them.
type ProcessorEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	ProviderRef     string
	InvoiceID       *snowflake.ID
	SubscriptionRef string
	Amount          int64
	Currency        string
	FailureReason   string
	OccurredAt      time.Time
	RawPayload      []byte
}
