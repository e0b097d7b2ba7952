package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/catalog/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan, features []domain.PlanFeature) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, code string) (*domain.Plan, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Plan, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan, features []domain.PlanFeature) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(plan).Error; err != nil {
			return err
		}
		if len(features) > 0 {
			if err := tx.Create(&features).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.attachFeatures(ctx, db, &plan)
}

func (r *repository) FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, code string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).
		Where("org_id = ? AND code = ?", orgID, code).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.attachFeatures(ctx, db, &plan)
}

func (r *repository) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Plan, error) {
	var plans []domain.Plan
	if err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) attachFeatures(ctx context.Context, db *gorm.DB, plan *domain.Plan) (*domain.Plan, error) {
	var features []domain.PlanFeature
	if err := db.WithContext(ctx).
		Where("plan_id = ?", plan.ID).
		Order("feature_code ASC").
		Find(&features).Error; err != nil {
		return nil, err
	}
	plan.Features = features
	return plan, nil
}
