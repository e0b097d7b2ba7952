package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/invoice/domain"
	"gorm.io/gorm"
)

type SubscriptionRow struct {
	ID                 snowflake.ID `gorm:"column:id"`
	PlanID             snowflake.ID `gorm:"column:plan_id"`
	Status             string       `gorm:"column:status"`
	CustomerRef        string       `gorm:"column:customer_ref"`
	Jurisdiction       string       `gorm:"column:jurisdiction"`
	CurrentPeriodStart time.Time    `gorm:"column:current_period_start"`
	CurrentPeriodEnd   time.Time    `gorm:"column:current_period_end"`
}

type Repository interface {
	FindSubscriptionRow(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) (*SubscriptionRow, error)
	Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice, lines []domain.Line) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error)
	FindOpenBySubscription(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) (*domain.Invoice, error)
	InsertLine(ctx context.Context, db *gorm.DB, line *domain.Line) error
	UpdateStatus(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error
	UpdateTotals(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error
	NextInvoiceNumber(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (string, error)
}

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) FindSubscriptionRow(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) (*SubscriptionRow, error) {
	var row SubscriptionRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, status, customer_ref, jurisdiction, current_period_start, current_period_end
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

func (r *repository) Insert(ctx context.Context, db *gorm.DB, invoice *domain.Invoice, lines []domain.Line) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(invoice).Error; err != nil {
			return err
		}
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return r.attachLines(ctx, db, &invoice)
}

func (r *repository) FindOpenBySubscription(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).
		Where("org_id = ? AND subscription_id = ? AND status IN ?",
			orgID, subscriptionID,
			[]domain.InvoiceStatus{domain.InvoiceStatusDraft, domain.InvoiceStatusOpen}).
		Order("created_at DESC").
		Limit(1).
		Find(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return r.attachLines(ctx, db, &invoice)
}

func (r *repository) InsertLine(ctx context.Context, db *gorm.DB, line *domain.Line) error {
	return db.WithContext(ctx).Create(line).Error
}

func (r *repository) UpdateStatus(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		invoice.Status,
		invoice.PaidAt,
		invoice.UpdatedAt,
		invoice.OrgID,
		invoice.ID,
	).Error
}

func (r *repository) UpdateTotals(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET subtotal = ?, tax_total = ?, total = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		invoice.Subtotal,
		invoice.TaxTotal,
		invoice.Total,
		invoice.UpdatedAt,
		invoice.OrgID,
		invoice.ID,
	).Error
}

func (r *repository) NextInvoiceNumber(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (string, error) {
	var count int64
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices WHERE org_id = ?`,
		orgID,
	).Scan(&count).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%06d", count+1), nil
}

func (r *repository) attachLines(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) (*domain.Invoice, error) {
	var lines []domain.Line
	if err := db.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("created_at ASC, id ASC").
		Find(&lines).Error; err != nil {
		return nil, err
	}
	invoice.Lines = lines
	return invoice, nil
}
