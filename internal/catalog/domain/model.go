package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalWeekly  BillingInterval = "weekly"
	IntervalDaily   BillingInterval = "daily"
)

// Duration returns the nominal length of one billing period starting at t.
func (i BillingInterval) Duration(t time.Time) time.Duration {
	switch i {
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	case IntervalDaily:
		return 24 * time.Hour
	default:
		return t.AddDate(0, 1, 0).Sub(t)
	}
}

// NextBoundary returns the period end for a period starting at t.
func (i BillingInterval) NextBoundary(t time.Time) time.Time {
	switch i {
	case IntervalWeekly:
		return t.AddDate(0, 0, 7)
	case IntervalDaily:
		return t.AddDate(0, 0, 1)
	default:
		return t.AddDate(0, 1, 0)
	}
}

type Plan struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID    `json:"org_id" gorm:"not null;index"`
	Code      string          `json:"code" gorm:"type:text;not null"`
	Name      string          `json:"name" gorm:"type:text;not null"`
	BasePrice int64           `json:"base_price" gorm:"not null"` // minor units
	Currency  string          `json:"currency" gorm:"type:text;not null"`
	Interval  BillingInterval `json:"billing_interval" gorm:"column:billing_interval;type:text;not null"`
	TrialDays int             `json:"trial_days" gorm:"not null"`
	Active    bool            `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`

	Features []PlanFeature `json:"features" gorm:"-"`
}

func (Plan) TableName() string { return "plans" }

type PlanFeature struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID         snowflake.ID `json:"org_id" gorm:"not null;index"`
	PlanID        snowflake.ID `json:"plan_id" gorm:"not null;index"`
	FeatureCode   string       `json:"feature_code" gorm:"type:text;not null"`
	IncludedUnits int64        `json:"included_units" gorm:"not null"`
	OverageRate   int64        `json:"overage_rate" gorm:"not null"` // minor units per unit over
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
}

func (PlanFeature) TableName() string { return "plan_features" }

// Feature returns the entitlement for code, if the plan carries one.
func (p *Plan) Feature(code string) (PlanFeature, bool) {
	for _, f := range p.Features {
		if f.FeatureCode == code {
			return f, true
		}
	}
	return PlanFeature{}, false
}
