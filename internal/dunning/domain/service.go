package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrNoFailedAttempt     = errors.New("no_failed_attempt")
)

type Service interface {
	// OnPaymentFailure runs one dunning step for a failed charge:
	// classify the reason, consult the tier's retry strategy, then
	// either schedule the next attempt, wait for a new instrument, or
	// declare the invoice exhausted. Every step emits a notification.
	OnPaymentFailure(ctx context.Context, invoiceID string, failureReason string) (*Decision, error)
}
