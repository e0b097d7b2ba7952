package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ProcessorEventRecord is the dedup ledger for inbound processor
// events. The (provider, provider_event_id) pair is unique; replays
// hit the stored row instead of re-running side effects.
type ProcessorEventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID   `json:"org_id" gorm:"not null;index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:idx_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:idx_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload"`
	Outcome         string         `json:"outcome" gorm:"type:text;not null;default:''"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (ProcessorEventRecord) TableName() string { return "processor_events" }

// Processed reports whether side effects for this event already ran.
func (r *ProcessorEventRecord) Processed() bool { return r.ProcessedAt != nil }

const (
	OutcomeInvoicePaid         = "invoice_paid"
	OutcomeDunningTriggered    = "dunning_triggered"
	OutcomeDuplicate           = "duplicate"
	OutcomeIgnoredUnknownType  = "ignored_unknown_type"
	OutcomeIgnoredNoInvoice    = "ignored_no_invoice"
	OutcomeIgnoredExternalSubs = "ignored_external_subscription"
)

// Result reports what applying one event did.
type Result struct {
	Outcome   string `json:"outcome"`
	Duplicate bool   `json:"duplicate"`
}
