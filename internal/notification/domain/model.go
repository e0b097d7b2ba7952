package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

type Template string

const (
	TemplatePaymentFailed         Template = "payment_failed"
	TemplatePaymentRetryScheduled Template = "payment_retry_scheduled"
	TemplateUpdatePaymentMethod   Template = "update_payment_method"
	TemplateSubscriptionSuspended Template = "subscription_suspended"
	TemplatePaymentRecovered      Template = "payment_recovered"
	TemplateUsageThreshold        Template = "usage_threshold"
)

type Notification struct {
	UserRef  string
	Template Template
	Channel  Channel
	Data     map[string]any
}

// Requester hands a notification to the delivery collaborator. The
// engine never retries delivery; failures are the collaborator's
// concern.
type Requester interface {
	Request(ctx context.Context, n Notification)
}

type Request struct {
	ID        string         `json:"id" gorm:"primaryKey;type:text"`
	OrgID     snowflake.ID   `json:"org_id" gorm:"not null;index"`
	UserRef   string         `json:"user_ref" gorm:"type:text;not null"`
	Template  string         `json:"template" gorm:"type:text;not null"`
	Channel   string         `json:"channel" gorm:"type:text;not null"`
	Data      datatypes.JSON `json:"data"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
}

func (Request) TableName() string { return "notification_requests" }
