package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/tidewaylabs/tideway/internal/config"
	quotadomain "github.com/tidewaylabs/tideway/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Redis *redis.Client
	Log   *zap.Logger
	Cfg   config.Config
}

type service struct {
	db    *gorm.DB
	redis *redis.Client
	log   *zap.Logger
	cfg   config.QuotaConfig
}

func NewService(p ServiceParam) quotadomain.Service {
	return &service{
		db:    p.DB,
		redis: p.Redis,
		log:   p.Log.Named("quota.service"),
		cfg:   p.Cfg.Quota,
	}
}

func (s *service) CanIngestUsage(ctx context.Context, orgID snowflake.ID) error {
	if !s.cfg.Enabled {
		return nil
	}

	// Key: quota:usage:{org_id}:{month} with a 35d TTL so stale months expire.
	now := time.Now().UTC()
	key := fmt.Sprintf("quota:usage:%s:%s", orgID.String(), now.Format("2006-01"))

	val, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		s.log.Error("failed to increment usage quota", zap.Error(err))
		// Fail open to avoid blocking ingestion on redis error
		return nil
	}

	if val == 1 {
		s.redis.Expire(ctx, key, 35*24*time.Hour)
	}

	if val > int64(s.cfg.OrgUsageMonthly) {
		return quotadomain.ErrOrgUsageQuotaExceeded
	}

	return nil
}

func (s *service) CanCreateSubscription(ctx context.Context, orgID snowflake.ID) error {
	if !s.cfg.Enabled {
		return nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscriptions WHERE org_id = ?`,
		orgID,
	).Scan(&count).Error; err != nil {
		s.log.Error("failed to count subscriptions", zap.Error(err))
		return err
	}

	if count >= int64(s.cfg.OrgSubscription) {
		return quotadomain.ErrOrgSubscriptionQuotaExceeded
	}

	return nil
}
