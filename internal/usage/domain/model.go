package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord is one metered event. Immutable once written; always
// attributed to the period containing RecordedAt.
type UsageRecord struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	PublicID       string       `json:"public_id" gorm:"type:text;not null"`
	OrgID          snowflake.ID `json:"org_id" gorm:"not null;index"`
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"not null;index"`
	FeatureCode    string       `json:"feature_code" gorm:"type:text;not null"`
	Quantity       int64        `json:"quantity" gorm:"not null"`
	RecordedAt     time.Time    `json:"recorded_at" gorm:"not null"`
	IdempotencyKey string       `json:"idempotency_key" gorm:"type:text;not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

func (UsageRecord) TableName() string { return "usage_records" }

// FeatureConsumption summarizes one feature's metered usage against its
// plan entitlement for a period.
type FeatureConsumption struct {
	FeatureCode   string         `json:"feature_code"`
	Consumed      int64          `json:"consumed"`
	IncludedUnits int64          `json:"included_units"`
	OverageUnits  int64          `json:"overage_units"`
	OverageRate   int64          `json:"overage_rate"`
	Level         ThresholdLevel `json:"level"`
}

// ComputeOverage returns units beyond the included allowance, never
// negative.
func ComputeOverage(consumption, includedUnits int64) int64 {
	if consumption <= includedUnits {
		return 0
	}
	return consumption - includedUnits
}
