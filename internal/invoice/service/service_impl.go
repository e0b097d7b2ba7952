package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tidewaylabs/tideway/internal/catalog/domain"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	invoicedomain "github.com/tidewaylabs/tideway/internal/invoice/domain"
	"github.com/tidewaylabs/tideway/internal/invoice/repository"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	taxdomain "github.com/tidewaylabs/tideway/internal/tax/domain"
	usagedomain "github.com/tidewaylabs/tideway/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	repo      repository.Repository
	catalog   catalogdomain.Service
	usage     usagedomain.Service
	taxes     taxdomain.Resolver
	dueInDays int
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    repository.Repository
	Cfg     config.Config
	Catalog catalogdomain.Service
	Usage   usagedomain.Service
	Taxes   taxdomain.Resolver
}

func NewService(p ServiceParam) invoicedomain.Service {
	dueInDays := p.Cfg.Billing.InvoiceDueDays
	if dueInDays <= 0 {
		dueInDays = 7
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("invoice.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		catalog:   p.Catalog,
		usage:     p.Usage,
		taxes:     p.Taxes,
		dueInDays: dueInDays,
	}
}

func (s *Service) BuildDraftInvoice(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}

	if !periodEnd.After(periodStart) {
		return nil, invoicedomain.ErrInvalidPeriod
	}

	subID, err := parseID(subscriptionID)
	if err != nil {
		return nil, invoicedomain.ErrInvalidSubscription
	}

	sub, err := s.repo.FindSubscriptionRow(ctx, s.db, orgID, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, invoicedomain.ErrInvalidSubscription
	}

	if open, err := s.repo.FindOpenBySubscription(ctx, s.db, orgID, subID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, invoicedomain.ErrOpenInvoiceExists
	}

	plan, err := s.catalog.GetPlan(ctx, sub.PlanID.String())
	if err != nil || plan == nil || !plan.Active {
		return nil, invoicedomain.ErrNoActivePlan
	}

	now := s.clock.Now(ctx)
	invoiceID := s.genID.Generate()
	lines := make([]invoicedomain.Line, 0, 4)

	baseAmount := prorate(plan.BasePrice, periodStart, periodEnd, plan.Interval)
	lines = append(lines, invoicedomain.Line{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		InvoiceID:   invoiceID,
		Kind:        invoicedomain.LineKindBase,
		Description: fmt.Sprintf("%s (%s)", plan.Name, plan.Interval),
		Quantity:    1,
		UnitAmount:  baseAmount,
		Amount:      baseAmount,
		CreatedAt:   now,
	})

	summary, err := s.usage.Summary(ctx, subscriptionID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	for _, feature := range summary {
		if feature.OverageUnits <= 0 {
			continue
		}
		code := feature.FeatureCode
		lines = append(lines, invoicedomain.Line{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   invoiceID,
			Kind:        invoicedomain.LineKindOverage,
			Description: fmt.Sprintf("%s overage", code),
			FeatureCode: &code,
			Quantity:    feature.OverageUnits,
			UnitAmount:  feature.OverageRate,
			Amount:      feature.OverageUnits * feature.OverageRate,
			CreatedAt:   now,
		})
	}

	var taxable int64
	for _, line := range lines {
		taxable += line.Amount
	}

	rates, err := s.taxes.LookupRates(ctx, sub.Jurisdiction)
	if err != nil {
		return nil, err
	}
	for _, rate := range rates {
		amount := rate.Apply(taxable)
		if amount == 0 {
			continue
		}
		lines = append(lines, invoicedomain.Line{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   invoiceID,
			Kind:        invoicedomain.LineKindTax,
			Description: rate.Name,
			Quantity:    1,
			UnitAmount:  amount,
			Amount:      amount,
			CreatedAt:   now,
		})
	}

	number, err := s.repo.NextInvoiceNumber(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	invoice := &invoicedomain.Invoice{
		ID:             invoiceID,
		OrgID:          orgID,
		SubscriptionID: subID,
		InvoiceNumber:  number,
		Status:         invoicedomain.InvoiceStatusDraft,
		Currency:       plan.Currency,
		PeriodStart:    periodStart.UTC(),
		PeriodEnd:      periodEnd.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Lines:          lines,
	}
	invoice.RecomputeTotals()

	if err := s.repo.Insert(ctx, s.db, invoice, lines); err != nil {
		return nil, err
	}

	s.log.Info("draft invoice built",
		zap.String("invoice_number", number),
		zap.Int64("subscription_id", int64(subID)),
		zap.Int64("total", invoice.Total))

	return invoice, nil
}

func (s *Service) FinalizeInvoice(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	invoice, err := s.find(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	switch invoice.Status {
	case invoicedomain.InvoiceStatusDraft:
	case invoicedomain.InvoiceStatusOpen:
		return nil, invoicedomain.ErrAlreadyFinalized
	default:
		return nil, invoicedomain.ErrInvalidStatus
	}

	now := s.clock.Now(ctx)
	dueAt := now.Add(time.Duration(s.dueInDays) * 24 * time.Hour)

	invoice.Status = invoicedomain.InvoiceStatusOpen
	invoice.DueAt = &dueAt
	invoice.UpdatedAt = now
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, due_at = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		invoice.Status, invoice.DueAt, invoice.UpdatedAt, invoice.OrgID, invoice.ID,
	).Error; err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) Get(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	return s.find(ctx, invoiceID)
}

func (s *Service) MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) (*invoicedomain.Invoice, error) {
	invoice, err := s.find(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	// Paid is terminal; repeating the call is a no-op, not an error.
	if invoice.Status == invoicedomain.InvoiceStatusPaid {
		return invoice, nil
	}
	if !invoice.Status.CanTransition(invoicedomain.InvoiceStatusPaid) {
		return nil, invoicedomain.ErrInvalidStatus
	}

	paidAt = paidAt.UTC()
	invoice.Status = invoicedomain.InvoiceStatusPaid
	invoice.PaidAt = &paidAt
	invoice.UpdatedAt = s.clock.Now(ctx)
	if err := s.repo.UpdateStatus(ctx, s.db, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) MarkVoid(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, invoiceID, invoicedomain.InvoiceStatusVoid)
}

func (s *Service) MarkUncollectible(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	return s.transition(ctx, invoiceID, invoicedomain.InvoiceStatusUncollectible)
}

func (s *Service) transition(ctx context.Context, invoiceID string, target invoicedomain.InvoiceStatus) (*invoicedomain.Invoice, error) {
	invoice, err := s.find(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if invoice.Status == invoicedomain.InvoiceStatusPaid {
		return nil, invoicedomain.ErrInvoicePaid
	}
	if !invoice.Status.CanTransition(target) {
		return nil, invoicedomain.ErrInvalidStatus
	}

	invoice.Status = target
	invoice.UpdatedAt = s.clock.Now(ctx)
	if err := s.repo.UpdateStatus(ctx, s.db, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) AddAdjustment(ctx context.Context, invoiceID string, description string, amount int64) (*invoicedomain.Invoice, error) {
	invoice, err := s.find(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if invoice.Status == invoicedomain.InvoiceStatusPaid {
		return nil, invoicedomain.ErrInvoicePaid
	}
	if invoice.Status.Settled() {
		return nil, invoicedomain.ErrInvalidStatus
	}

	now := s.clock.Now(ctx)
	line := &invoicedomain.Line{
		ID:          s.genID.Generate(),
		OrgID:       invoice.OrgID,
		InvoiceID:   invoice.ID,
		Kind:        invoicedomain.LineKindAdjustment,
		Description: strings.TrimSpace(description),
		Quantity:    1,
		UnitAmount:  amount,
		Amount:      amount,
		CreatedAt:   now,
	}
	if err := s.repo.InsertLine(ctx, s.db, line); err != nil {
		return nil, err
	}

	invoice.Lines = append(invoice.Lines, *line)
	invoice.RecomputeTotals()
	invoice.UpdatedAt = now
	if err := s.repo.UpdateTotals(ctx, s.db, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) find(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}

	id, err := parseID(invoiceID)
	if err != nil {
		return nil, invoicedomain.ErrInvalidInvoice
	}

	invoice, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

// prorate charges the plan's base price by the elapsed fraction of a
// nominal interval, clamped to one full period.
func prorate(basePrice int64, periodStart, periodEnd time.Time, interval catalogdomain.BillingInterval) int64 {
	full := interval.Duration(periodStart)
	if full <= 0 {
		return basePrice
	}
	elapsed := periodEnd.Sub(periodStart)
	if elapsed >= full {
		return basePrice
	}
	if elapsed <= 0 {
		return 0
	}
	fraction := float64(elapsed) / float64(full)
	return int64(float64(basePrice)*fraction + 0.5)
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}
