package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrInvalidSubscription   = errors.New("invalid_subscription")
	ErrInvalidQuantity       = errors.New("invalid_quantity")
	ErrUnknownFeature        = errors.New("unknown_feature")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrPeriodClosed          = errors.New("period_closed")
)

type RecordUsageRequest struct {
	SubscriptionID string    `json:"subscription_id" validate:"required"`
	FeatureCode    string    `json:"feature_code" validate:"required"`
	Quantity       int64     `json:"quantity"`
	RecordedAt     time.Time `json:"recorded_at"`

	// Required; uniqueness enforced at DB level.
	IdempotencyKey string `json:"idempotency_key" validate:"required,min=1"`
}

type ConsumptionRequest struct {
	SubscriptionID string    `json:"subscription_id"`
	FeatureCode    string    `json:"feature_code"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
}

type Service interface {
	Record(ctx context.Context, req RecordUsageRequest) (*UsageRecord, error)

	// Consumption sums quantities for records whose RecordedAt falls in
	// [PeriodStart, PeriodEnd). Zero for no records, never an error.
	Consumption(ctx context.Context, req ConsumptionRequest) (int64, error)

	// Summary reports every entitled feature's consumption for the
	// window, including features with no usage.
	Summary(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) ([]FeatureConsumption, error)
}
