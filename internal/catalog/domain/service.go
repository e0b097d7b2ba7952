package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrPlanNotFound        = errors.New("plan_not_found")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidInterval     = errors.New("invalid_interval")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrDuplicateFeature    = errors.New("duplicate_feature")
)

type CreatePlanRequest struct {
	Code      string               `json:"code"`
	Name      string               `json:"name"`
	BasePrice int64                `json:"base_price"`
	Currency  string               `json:"currency"`
	Interval  string               `json:"interval"`
	TrialDays int                  `json:"trial_days"`
	Features  []CreateFeatureInput `json:"features"`
}

type CreateFeatureInput struct {
	FeatureCode   string `json:"feature_code"`
	IncludedUnits int64  `json:"included_units"`
	OverageRate   int64  `json:"overage_rate"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	GetPlan(ctx context.Context, id string) (*Plan, error)
	GetPlanByCode(ctx context.Context, code string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
}
