package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/subscription/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Subscription, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.Subscription, error)
	FindOpenByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Subscription, error)
	Update(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error

	// Cross-org scans for the scheduler. Each returns rows due at or
	// before the cutoff.
	ListTrialsDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error)
	ListPausesDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error)
	ListCancelAtPeriodEndDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error)
	ListRolloversDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, key).
		Limit(1).
		Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repository) FindOpenByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("org_id = ? AND status <> ?", orgID, domain.StatusCanceled).
		Limit(1).
		Find(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan_id = ?, status = ?, current_period_start = ?, current_period_end = ?,
		     trial_end_at = ?, pause_until = ?, cancel_at_period_end = ?, canceled_at = ?,
		     updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		sub.PlanID,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.TrialEndAt,
		sub.PauseUntil,
		sub.CancelAtPeriodEnd,
		sub.CanceledAt,
		sub.UpdatedAt,
		sub.OrgID,
		sub.ID,
	).Error
}

func (r *repository) ListTrialsDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error) {
	return r.list(ctx, db, limit,
		"status = ? AND trial_end_at IS NOT NULL AND trial_end_at <= ?",
		domain.StatusTrialing, cutoff)
}

func (r *repository) ListPausesDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error) {
	return r.list(ctx, db, limit,
		"status = ? AND pause_until IS NOT NULL AND pause_until <= ?",
		domain.StatusPaused, cutoff)
}

func (r *repository) ListCancelAtPeriodEndDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error) {
	return r.list(ctx, db, limit,
		"status <> ? AND cancel_at_period_end = ? AND current_period_end <= ?",
		domain.StatusCanceled, true, cutoff)
}

func (r *repository) ListRolloversDue(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Subscription, error) {
	return r.list(ctx, db, limit,
		"status IN ? AND cancel_at_period_end = ? AND current_period_end <= ?",
		[]domain.Status{domain.StatusActive, domain.StatusPastDue}, false, cutoff)
}

func (r *repository) list(ctx context.Context, db *gorm.DB, limit int, query string, args ...any) ([]domain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var subs []domain.Subscription
	err := db.WithContext(ctx).
		Where(query, args...).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}
