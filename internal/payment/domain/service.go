package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvoiceSettled      = errors.New("invoice_settled")
	ErrInvoiceNotOpen      = errors.New("invoice_not_open")
	ErrAttemptInFlight     = errors.New("attempt_in_flight")
	ErrNoInstrumentOnFile  = errors.New("no_instrument_on_file")
	ErrInstrumentNotFound  = errors.New("instrument_not_found")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidEvent        = errors.New("invalid_event")
	ErrUnknownProvider     = errors.New("unknown_provider")
)

type Service interface {
	// Collect runs the next charge attempt for an open invoice and
	// records its outcome. Nothing is attempted once the invoice is
	// settled.
	Collect(ctx context.Context, invoiceID string) (*PaymentAttempt, error)

	ListAttempts(ctx context.Context, invoiceID string) ([]PaymentAttempt, error)

	// ScheduleRetry stamps next_retry_at on the latest attempt; the
	// scheduler picks it up later.
	ScheduleRetry(ctx context.Context, invoiceID string, at time.Time) error
}

type InstrumentService interface {
	Attach(ctx context.Context, customerRef, provider, providerRef string, makeDefault bool) (*Instrument, error)
	Detach(ctx context.Context, instrumentID string) error
	DefaultFor(ctx context.Context, customerRef string) (*Instrument, error)
	ListFor(ctx context.Context, customerRef string) ([]Instrument, error)
}
