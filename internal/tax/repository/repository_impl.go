package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/tax/domain"
	"gorm.io/gorm"
)

type Repository interface {
	ListActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID, jurisdiction string) ([]domain.TaxRate, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) ListActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID, jurisdiction string) ([]domain.TaxRate, error) {
	var rates []domain.TaxRate
	err := db.WithContext(ctx).
		Where("org_id = ? AND jurisdiction = ? AND active = ?", orgID, jurisdiction, true).
		Order("name ASC").
		Find(&rates).Error
	if err != nil {
		return nil, err
	}
	return rates, nil
}
