package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrNoActivePlan        = errors.New("no_active_plan")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrAlreadyFinalized    = errors.New("already_finalized")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvoicePaid         = errors.New("invoice_paid")
	ErrOpenInvoiceExists   = errors.New("open_invoice_exists")
)

type Service interface {
	// BuildDraftInvoice assembles base, overage and tax lines for one
	// billing period. The base line is prorated linearly when the
	// period is shorter than the plan interval.
	BuildDraftInvoice(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*Invoice, error)

	// FinalizeInvoice transitions draft to open and freezes the lines.
	FinalizeInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	Get(ctx context.Context, invoiceID string) (*Invoice, error)

	// MarkPaid is monotonic: once paid, no later call moves the
	// invoice to any other status.
	MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) (*Invoice, error)
	MarkVoid(ctx context.Context, invoiceID string) (*Invoice, error)
	MarkUncollectible(ctx context.Context, invoiceID string) (*Invoice, error)

	// AddAdjustment appends a credit/adjustment line to a finalized
	// invoice; finalized lines themselves are never edited in place.
	AddAdjustment(ctx context.Context, invoiceID string, description string, amount int64) (*Invoice, error)
}
