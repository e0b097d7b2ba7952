package domain

import (
	"context"
	"errors"
	"time"

	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidEvent        = errors.New("invalid_event")
)

type Service interface {
	// ApplyExternalEvent reconciles one processor event against local
	// state. Applying the same provider event twice is a no-op that
	// returns the first run's outcome.
	ApplyExternalEvent(ctx context.Context, event *paymentdomain.ProcessorEvent) (*Result, error)

	// PurgeEventsBefore drops processed ledger rows older than cutoff.
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
