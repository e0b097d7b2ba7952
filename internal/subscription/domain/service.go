package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidCustomer      = errors.New("invalid_customer")
	ErrInvalidPauseDuration = errors.New("invalid_pause_duration")
	ErrAlreadyExists        = errors.New("subscription_already_exists")
	ErrPeriodNotElapsed     = errors.New("period_not_elapsed")
)

type CreateRequest struct {
	PlanCode     string `json:"plan_code"`
	CustomerRef  string `json:"customer_ref"`
	Jurisdiction string `json:"jurisdiction"`

	// Optional; duplicate keys return the existing subscription.
	IdempotencyKey string `json:"idempotency_key"`
}

// CloseResult reports what a period close did: the invoice it
// produced, the charge outcome and the resulting subscription state.
type CloseResult struct {
	Subscription  *Subscription
	InvoiceID     string
	InvoiceNumber string
	ChargeOutcome string
	DunningAction string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	Get(ctx context.Context, id string) (*Subscription, error)

	// Pause suspends billing for at most the configured maximum.
	Pause(ctx context.Context, id string, duration time.Duration) (*Subscription, error)
	Resume(ctx context.Context, id string) (*Subscription, error)

	// Cancel is terminal. With atPeriodEnd the subscription stays in
	// its current state until the period boundary.
	Cancel(ctx context.Context, id string, atPeriodEnd bool) (*Subscription, error)

	// CloseCurrentPeriod settles the elapsed billing period: build and
	// finalize the invoice, collect payment, advance or hand off to
	// dunning.
	CloseCurrentPeriod(ctx context.Context, id string) (*CloseResult, error)

	// CollectInvoice charges an existing open invoice and applies the
	// lifecycle effects of the outcome. Retry jobs land here.
	CollectInvoice(ctx context.Context, invoiceID string) (*CloseResult, error)

	// HandlePaymentOutcome applies lifecycle effects for a charge that
	// already happened, local or provider-side: recovery to active,
	// demotion to past_due, period advance, dunning handoff.
	HandlePaymentOutcome(ctx context.Context, invoiceID string, outcome string, failureReason string) (*CloseResult, error)

	// Scheduler entrypoints. Each scans for due rows and applies the
	// owed transition, returning how many it touched.
	ActivateTrialsDue(ctx context.Context) (int, error)
	ResumePausesDue(ctx context.Context) (int, error)
	CancelAtPeriodEndDue(ctx context.Context) (int, error)
	CloseRolloversDue(ctx context.Context) (int, error)
}
