package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/usage/domain"
	"gorm.io/gorm"
)

type SubscriptionRow struct {
	ID                 snowflake.ID `gorm:"column:id"`
	PlanID             snowflake.ID `gorm:"column:plan_id"`
	Status             string       `gorm:"column:status"`
	CustomerRef        string       `gorm:"column:customer_ref"`
	CurrentPeriodStart time.Time    `gorm:"column:current_period_start"`
	CurrentPeriodEnd   time.Time    `gorm:"column:current_period_end"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *domain.UsageRecord) error
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.UsageRecord, error)
	SumQuantity(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, featureCode string, start, end time.Time) (int64, error)
	FindSubscriptionRow(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) (*SubscriptionRow, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, record *domain.UsageRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.UsageRecord, error) {
	var record domain.UsageRecord
	err := db.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, key).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repository) SumQuantity(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, featureCode string, start, end time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0)
		 FROM usage_records
		 WHERE org_id = ? AND subscription_id = ? AND feature_code = ?
		   AND recorded_at >= ? AND recorded_at < ?`,
		orgID,
		subscriptionID,
		featureCode,
		start,
		end,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) FindSubscriptionRow(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) (*SubscriptionRow, error) {
	var row SubscriptionRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, status, customer_ref, current_period_start, current_period_end
		 FROM subscriptions
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		subscriptionID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}
