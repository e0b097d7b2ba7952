package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/payment/domain"
	"gorm.io/gorm"
)

type Repository interface {
	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *domain.PaymentAttempt) error
	ListAttempts(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]domain.PaymentAttempt, error)
	CountAttempts(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (int, error)
	LatestAttempt(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (*domain.PaymentAttempt, error)
	SetNextRetry(ctx context.Context, db *gorm.DB, attemptID snowflake.ID, at *time.Time) error
	ListRetriesDue(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.PaymentAttempt, error)

	InsertInstrument(ctx context.Context, db *gorm.DB, instrument *domain.Instrument) error
	DeleteInstrument(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
	ClearDefault(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerRef string) error
	FindDefaultInstrument(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerRef string) (*domain.Instrument, error)
	ListInstruments(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerRef string) ([]domain.Instrument, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) InsertAttempt(ctx context.Context, db *gorm.DB, attempt *domain.PaymentAttempt) error {
	return db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) ListAttempts(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]domain.PaymentAttempt, error) {
	var attempts []domain.PaymentAttempt
	err := db.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ?", orgID, invoiceID).
		Order("attempt_number ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repository) CountAttempts(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payment_attempts WHERE org_id = ? AND invoice_id = ?`,
		orgID,
		invoiceID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *repository) LatestAttempt(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (*domain.PaymentAttempt, error) {
	var attempt domain.PaymentAttempt
	err := db.WithContext(ctx).
		Where("org_id = ? AND invoice_id = ?", orgID, invoiceID).
		Order("attempt_number DESC").
		Limit(1).
		Find(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, nil
	}
	return &attempt, nil
}

func (r *repository) SetNextRetry(ctx context.Context, db *gorm.DB, attemptID snowflake.ID, at *time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_attempts SET next_retry_at = ?, updated_at = ? WHERE id = ?`,
		at,
		time.Now().UTC(),
		attemptID,
	).Error
}

func (r *repository) ListRetriesDue(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	var attempts []domain.PaymentAttempt
	err := db.WithContext(ctx).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", before).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repository) InsertInstrument(ctx context.Context, db *gorm.DB, instrument *domain.Instrument) error {
	return db.WithContext(ctx).Create(instrument).Error
}

func (r *repository) DeleteInstrument(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM payment_instruments WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Error
}

func (r *repository) ClearDefault(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerRef string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_instruments SET is_default = FALSE, updated_at = ? WHERE org_id = ? AND customer_ref = ?`,
		time.Now().UTC(),
		orgID,
		customerRef,
	).Error
}

func (r *repository) FindDefaultInstrument(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerRef string) (*domain.Instrument, error) {
	var instrument domain.Instrument
	err := db.WithContext(ctx).
		Where("org_id = ? AND customer_ref = ? AND is_default = ?", orgID, customerRef, true).
		Limit(1).
		Find(&instrument).Error
	if err != nil {
		return nil, err
	}
	if instrument.ID == 0 {
		return nil, nil
	}
	return &instrument, nil
}

func (r *repository) ListInstruments(ctx context.Context, db *gorm.DB, orgID snowflake.ID, customerRef string) ([]domain.Instrument, error) {
	var instruments []domain.Instrument
	err := db.WithContext(ctx).
		Where("org_id = ? AND customer_ref = ?", orgID, customerRef).
		Order("created_at ASC").
		Find(&instruments).Error
	if err != nil {
		return nil, err
	}
	return instruments, nil
}
