package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
)

// CanTransition is the full lifecycle table. Canceled is terminal;
// everything else can reach it.
func (s Status) CanTransition(target Status) bool {
	if s == target {
		return false
	}
	switch s {
	case StatusTrialing:
		return target == StatusActive || target == StatusCanceled
	case StatusActive:
		return target == StatusPastDue || target == StatusPaused || target == StatusCanceled
	case StatusPastDue:
		return target == StatusActive || target == StatusPaused || target == StatusCanceled
	case StatusPaused:
		return target == StatusActive
	default:
		return false
	}
}

func (s Status) Terminal() bool { return s == StatusCanceled }

// Billable reports whether the subscription accrues charges in its
// current state.
func (s Status) Billable() bool {
	return s == StatusActive || s == StatusPastDue
}

type Subscription struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID              snowflake.ID `json:"org_id" gorm:"not null;index"`
	PlanID             snowflake.ID `json:"plan_id" gorm:"not null"`
	CustomerRef        string       `json:"customer_ref" gorm:"type:text;not null"`
	Jurisdiction       string       `json:"jurisdiction" gorm:"type:text;not null;default:US"`
	Status             Status       `json:"status" gorm:"type:text;not null"`
	CurrentPeriodStart time.Time    `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time    `json:"current_period_end" gorm:"not null"`
	TrialEndAt         *time.Time   `json:"trial_end_at"`
	PauseUntil         *time.Time   `json:"pause_until"`
	CancelAtPeriodEnd  bool         `json:"cancel_at_period_end" gorm:"not null;default:false"`
	ProcessorRef       *string      `json:"processor_ref" gorm:"type:text"`
	IdempotencyKey     *string      `json:"idempotency_key" gorm:"type:text"`
	CanceledAt         *time.Time   `json:"canceled_at"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time    `json:"updated_at" gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }
