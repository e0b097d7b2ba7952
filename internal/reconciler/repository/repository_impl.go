package repository

import (
	"context"
	"time"

	"github.com/tidewaylabs/tideway/internal/reconciler/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *domain.ProcessorEventRecord) error
	FindByProviderEventID(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.ProcessorEventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, record *domain.ProcessorEventRecord, outcome string, at time.Time) error
	DeleteProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, record *domain.ProcessorEventRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByProviderEventID(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.ProcessorEventRecord, error) {
	var record domain.ProcessorEventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
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

func (r *repository) MarkProcessed(ctx context.Context, db *gorm.DB, record *domain.ProcessorEventRecord, outcome string, at time.Time) error {
	record.Outcome = outcome
	record.ProcessedAt = &at
	return db.WithContext(ctx).
		Exec("UPDATE processor_events SET outcome = ?, processed_at = ? WHERE id = ?",
			outcome, at, record.ID).Error
}

func (r *repository) DeleteProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Exec("DELETE FROM processor_events WHERE processed_at IS NOT NULL AND received_at < ?", cutoff)
	return result.RowsAffected, result.Error
}
