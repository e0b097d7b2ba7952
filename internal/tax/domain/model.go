package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type TaxRate struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID        snowflake.ID `json:"org_id" gorm:"not null;index"`
	Jurisdiction string       `json:"jurisdiction" gorm:"type:text;not null"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	Percentage   float64      `json:"percentage" gorm:"not null"`
	Active       bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null"`
}

func (TaxRate) TableName() string { return "tax_rates" }

// Rate is the engine-facing shape; the catalog of jurisdictions and
// how rates are sourced is the collaborator's concern.
type Rate struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"`
}

// Apply returns the tax amount in minor units for a pre-tax amount,
// rounded half away from zero.
func (r Rate) Apply(amount int64) int64 {
	raw := float64(amount) * r.Percentage / 100
	if raw >= 0 {
		return int64(raw + 0.5)
	}
	return int64(raw - 0.5)
}

var ErrInvalidJurisdiction = errors.New("invalid_jurisdiction")

type Resolver interface {
	LookupRates(ctx context.Context, jurisdiction string) ([]Rate, error)
}
