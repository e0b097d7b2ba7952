package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrOrgSubscriptionQuotaExceeded = errors.New("org_subscription_quota_exceeded")
	ErrOrgUsageQuotaExceeded        = errors.New("org_usage_quota_exceeded")
)

type Service interface {
	CanCreateSubscription(ctx context.Context, orgID snowflake.ID) error
	CanIngestUsage(ctx context.Context, orgID snowflake.ID) error
}
