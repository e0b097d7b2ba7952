package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

// CanTransition encodes the monotonic forward status order. Void is
// reachable from draft or open only; paid is one-way.
func (s InvoiceStatus) CanTransition(target InvoiceStatus) bool {
	switch s {
	case InvoiceStatusDraft:
		return target == InvoiceStatusOpen || target == InvoiceStatusVoid
	case InvoiceStatusOpen:
		return target == InvoiceStatusPaid || target == InvoiceStatusVoid || target == InvoiceStatusUncollectible
	default:
		return false
	}
}

func (s InvoiceStatus) Settled() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusVoid || s == InvoiceStatusUncollectible
}

type LineKind string

const (
	LineKindBase       LineKind = "base"
	LineKindOverage    LineKind = "overage"
	LineKindTax        LineKind = "tax"
	LineKindAdjustment LineKind = "adjustment"
)

type Invoice struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID   `json:"org_id" gorm:"not null;index"`
	SubscriptionID snowflake.ID   `json:"subscription_id" gorm:"not null;index"`
	InvoiceNumber  string         `json:"invoice_number" gorm:"type:text;not null"`
	Status         InvoiceStatus  `json:"status" gorm:"type:text;not null"`
	Currency       string         `json:"currency" gorm:"type:text;not null"`
	Subtotal       int64          `json:"subtotal" gorm:"not null"`
	TaxTotal       int64          `json:"tax_total" gorm:"not null"`
	Total          int64          `json:"total" gorm:"not null"`
	PeriodStart    time.Time      `json:"period_start" gorm:"not null"`
	PeriodEnd      time.Time      `json:"period_end" gorm:"not null"`
	DueAt          *time.Time     `json:"due_at"`
	PaidAt         *time.Time     `json:"paid_at"`
	Metadata       datatypes.JSON `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"not null"`

	Lines []Line `json:"lines" gorm:"-"`
}

func (Invoice) TableName() string { return "invoices" }

type Line struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID `json:"org_id" gorm:"not null;index"`
	InvoiceID   snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	Kind        LineKind     `json:"kind" gorm:"type:text;not null"`
	Description string       `json:"description" gorm:"type:text;not null"`
	FeatureCode *string      `json:"feature_code" gorm:"type:text"`
	Quantity    int64        `json:"quantity" gorm:"not null"`
	UnitAmount  int64        `json:"unit_amount" gorm:"not null"`
	Amount      int64        `json:"amount" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (Line) TableName() string { return "invoice_lines" }

// RecomputeTotals derives subtotal, tax total and grand total from the
// lines. Totals are never hand-edited.
func (i *Invoice) RecomputeTotals() {
	var subtotal, taxTotal int64
	for _, line := range i.Lines {
		if line.Kind == LineKindTax {
			taxTotal += line.Amount
			continue
		}
		subtotal += line.Amount
	}
	i.Subtotal = subtotal
	i.TaxTotal = taxTotal
	i.Total = subtotal + taxTotal
}
