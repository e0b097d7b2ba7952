package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	catalogdomain "github.com/tidewaylabs/tideway/internal/catalog/domain"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	invoicedomain "github.com/tidewaylabs/tideway/internal/invoice/domain"
	"github.com/tidewaylabs/tideway/internal/invoice/repository"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	taxdomain "github.com/tidewaylabs/tideway/internal/tax/domain"
	usagedomain "github.com/tidewaylabs/tideway/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -- Mocks --

type catalogMock struct {
	mock.Mock
}

func (m *catalogMock) GetPlan(ctx context.Context, id string) (*catalogdomain.Plan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalogdomain.Plan), args.Error(1)
}

func (m *catalogMock) Create(context.Context, catalogdomain.CreatePlanRequest) (*catalogdomain.Plan, error) {
	return nil, nil
}
func (m *catalogMock) GetPlanByCode(context.Context, string) (*catalogdomain.Plan, error) {
	return nil, nil
}
func (m *catalogMock) List(context.Context) ([]catalogdomain.Plan, error) { return nil, nil }

type usageMock struct {
	mock.Mock
}

func (m *usageMock) Summary(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) ([]usagedomain.FeatureConsumption, error) {
	args := m.Called(ctx, subscriptionID, periodStart, periodEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]usagedomain.FeatureConsumption), args.Error(1)
}

func (m *usageMock) Record(context.Context, usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	return nil, nil
}
func (m *usageMock) Consumption(context.Context, usagedomain.ConsumptionRequest) (int64, error) {
	return 0, nil
}

type taxMock struct {
	mock.Mock
}

func (m *taxMock) LookupRates(ctx context.Context, jurisdiction string) ([]taxdomain.Rate, error) {
	args := m.Called(ctx, jurisdiction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]taxdomain.Rate), args.Error(1)
}

// -- Helpers --

type fixture struct {
	svc     invoicedomain.Service
	db      *gorm.DB
	clock   *clock.Fixed
	catalog *catalogMock
	usage   *usageMock
	taxes   *taxMock
	genID   *snowflake.Node
	orgID   snowflake.ID
	subID   snowflake.ID
	planID  snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&invoicedomain.Invoice{}, &invoicedomain.Line{}); err != nil {
		t.Fatal(err)
	}
	if err := db.Exec(`CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		customer_ref TEXT NOT NULL,
		jurisdiction TEXT NOT NULL DEFAULT 'US',
		current_period_start DATETIME NOT NULL,
		current_period_end DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatal(err)
	}

	node, _ := snowflake.NewNode(1)
	fixed := clock.NewFixed(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	f := &fixture{
		db:      db,
		clock:   fixed,
		catalog: &catalogMock{},
		usage:   &usageMock{},
		taxes:   &taxMock{},
		genID:   node,
		orgID:   node.Generate(),
		subID:   node.Generate(),
		planID:  node.Generate(),
	}

	if err := db.Exec(
		`INSERT INTO subscriptions (id, org_id, plan_id, status, customer_ref, jurisdiction, current_period_start, current_period_end)
		 VALUES (?, ?, ?, 'active', 'cust_1', 'US', ?, ?)`,
		f.subID, f.orgID, f.planID,
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	).Error; err != nil {
		t.Fatal(err)
	}

	f.svc = NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fixed,
		Repo:    repository.NewRepository(),
		Cfg:     config.Config{Billing: config.BillingConfig{InvoiceDueDays: 7}},
		Catalog: f.catalog,
		Usage:   f.usage,
		Taxes:   f.taxes,
	})
	return f
}

func (f *fixture) ctx() context.Context {
	return orgcontext.WithOrgID(context.Background(), f.orgID)
}

func (f *fixture) plan() *catalogdomain.Plan {
	return &catalogdomain.Plan{
		ID:        f.planID,
		OrgID:     f.orgID,
		Code:      "pro",
		Name:      "Pro",
		BasePrice: 1000,
		Currency:  "USD",
		Interval:  catalogdomain.IntervalMonthly,
		Active:    true,
	}
}

// -- Tests --

func TestBuildDraftInvoice_BaseOverageAndTax(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	f.catalog.On("GetPlan", mock.Anything, f.planID.String()).Return(f.plan(), nil)
	f.usage.On("Summary", mock.Anything, f.subID.String(), start, end).Return([]usagedomain.FeatureConsumption{
		{FeatureCode: "api_calls", Consumed: 150, IncludedUnits: 100, OverageUnits: 50, OverageRate: 2},
	}, nil)
	f.taxes.On("LookupRates", mock.Anything, "US").Return([]taxdomain.Rate{
		{Name: "Sales Tax", Percentage: 10},
	}, nil)

	invoice, err := f.svc.BuildDraftInvoice(f.ctx(), f.subID.String(), start, end)
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, invoice.Status)
	assert.Equal(t, int64(1100), invoice.Subtotal)
	assert.Equal(t, int64(110), invoice.TaxTotal)
	assert.Equal(t, int64(1210), invoice.Total)
	assert.Equal(t, "INV-000001", invoice.InvoiceNumber)
	assert.Len(t, invoice.Lines, 3)

	kinds := map[invoicedomain.LineKind]int64{}
	for _, line := range invoice.Lines {
		kinds[line.Kind] = line.Amount
	}
	assert.Equal(t, int64(1000), kinds[invoicedomain.LineKindBase])
	assert.Equal(t, int64(100), kinds[invoicedomain.LineKindOverage])
	assert.Equal(t, int64(110), kinds[invoicedomain.LineKindTax])
}

func TestBuildDraftInvoice_ProratesPartialPeriod(t *testing.T) {
	f := newFixture(t)
	// February 2025 is 28 days; 14 elapsed is exactly half.
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	f.catalog.On("GetPlan", mock.Anything, f.planID.String()).Return(f.plan(), nil)
	f.usage.On("Summary", mock.Anything, f.subID.String(), start, end).Return([]usagedomain.FeatureConsumption{}, nil)
	f.taxes.On("LookupRates", mock.Anything, "US").Return([]taxdomain.Rate{}, nil)

	invoice, err := f.svc.BuildDraftInvoice(f.ctx(), f.subID.String(), start, end)
	assert.NoError(t, err)
	assert.Equal(t, int64(500), invoice.Subtotal)
	assert.Equal(t, int64(500), invoice.Total)
}

func TestBuildDraftInvoice_ZeroUsageHasNoOverageLines(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	f.catalog.On("GetPlan", mock.Anything, f.planID.String()).Return(f.plan(), nil)
	f.usage.On("Summary", mock.Anything, f.subID.String(), start, end).Return([]usagedomain.FeatureConsumption{
		{FeatureCode: "api_calls", Consumed: 0, IncludedUnits: 100, OverageUnits: 0, OverageRate: 2},
	}, nil)
	f.taxes.On("LookupRates", mock.Anything, "US").Return([]taxdomain.Rate{}, nil)

	invoice, err := f.svc.BuildDraftInvoice(f.ctx(), f.subID.String(), start, end)
	assert.NoError(t, err)
	assert.Len(t, invoice.Lines, 1)
	assert.Equal(t, int64(1000), invoice.Total)
}

func TestBuildDraftInvoice_RejectsSecondOpen(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	f.catalog.On("GetPlan", mock.Anything, f.planID.String()).Return(f.plan(), nil)
	f.usage.On("Summary", mock.Anything, f.subID.String(), start, end).Return([]usagedomain.FeatureConsumption{}, nil)
	f.taxes.On("LookupRates", mock.Anything, "US").Return([]taxdomain.Rate{}, nil)

	_, err := f.svc.BuildDraftInvoice(f.ctx(), f.subID.String(), start, end)
	assert.NoError(t, err)

	_, err = f.svc.BuildDraftInvoice(f.ctx(), f.subID.String(), start, end)
	assert.ErrorIs(t, err, invoicedomain.ErrOpenInvoiceExists)
}

func TestBuildDraftInvoice_NoActivePlan(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	inactive := f.plan()
	inactive.Active = false
	f.catalog.On("GetPlan", mock.Anything, f.planID.String()).Return(inactive, nil)

	_, err := f.svc.BuildDraftInvoice(f.ctx(), f.subID.String(), start, end)
	assert.ErrorIs(t, err, invoicedomain.ErrNoActivePlan)
}

func TestFinalizeInvoice_SetsDueDateOnce(t *testing.T) {
	f := newFixture(t)
	invoice := f.buildDraft(t)

	finalized, err := f.svc.FinalizeInvoice(f.ctx(), invoice.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOpen, finalized.Status)
	if assert.NotNil(t, finalized.DueAt) {
		assert.Equal(t, f.clock.Now(context.Background()).Add(7*24*time.Hour), *finalized.DueAt)
	}

	_, err = f.svc.FinalizeInvoice(f.ctx(), invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyFinalized)
}

func TestMarkPaid_IsMonotonic(t *testing.T) {
	f := newFixture(t)
	invoice := f.buildDraft(t)

	// Draft invoices cannot be paid directly.
	_, err := f.svc.MarkPaid(f.ctx(), invoice.ID.String(), f.clock.Now(context.Background()))
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStatus)

	_, err = f.svc.FinalizeInvoice(f.ctx(), invoice.ID.String())
	assert.NoError(t, err)

	paidAt := f.clock.Now(context.Background())
	paid, err := f.svc.MarkPaid(f.ctx(), invoice.ID.String(), paidAt)
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)

	// Repeating the call is a no-op.
	again, err := f.svc.MarkPaid(f.ctx(), invoice.ID.String(), paidAt.Add(time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, again.Status)
	if assert.NotNil(t, again.PaidAt) {
		assert.True(t, paidAt.Equal(*again.PaidAt))
	}

	// Paid is terminal; no status can overwrite it.
	_, err = f.svc.MarkVoid(f.ctx(), invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoicePaid)
	_, err = f.svc.MarkUncollectible(f.ctx(), invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoicePaid)
}

func TestMarkUncollectible_RequiresOpen(t *testing.T) {
	f := newFixture(t)
	invoice := f.buildDraft(t)

	_, err := f.svc.MarkUncollectible(f.ctx(), invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStatus)

	_, err = f.svc.FinalizeInvoice(f.ctx(), invoice.ID.String())
	assert.NoError(t, err)

	updated, err := f.svc.MarkUncollectible(f.ctx(), invoice.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusUncollectible, updated.Status)
}

func TestAddAdjustment_RecomputesTotals(t *testing.T) {
	f := newFixture(t)
	invoice := f.buildDraft(t)

	_, err := f.svc.FinalizeInvoice(f.ctx(), invoice.ID.String())
	assert.NoError(t, err)

	adjusted, err := f.svc.AddAdjustment(f.ctx(), invoice.ID.String(), "goodwill credit", -200)
	assert.NoError(t, err)
	assert.Equal(t, invoice.Total-200, adjusted.Total)
	assert.Len(t, adjusted.Lines, len(invoice.Lines)+1)

	// Settled invoices reject further adjustments.
	_, err = f.svc.MarkPaid(f.ctx(), invoice.ID.String(), f.clock.Now(context.Background()))
	assert.NoError(t, err)
	_, err = f.svc.AddAdjustment(f.ctx(), invoice.ID.String(), "late credit", -50)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoicePaid)
}

func TestGet_UnknownInvoice(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(f.ctx(), f.genID.Generate().String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func (f *fixture) buildDraft(t *testing.T) *invoicedomain.Invoice {
	t.Helper()
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	f.catalog.On("GetPlan", mock.Anything, f.planID.String()).Return(f.plan(), nil)
	f.usage.On("Summary", mock.Anything, f.subID.String(), start, end).Return([]usagedomain.FeatureConsumption{}, nil)
	f.taxes.On("LookupRates", mock.Anything, "US").Return([]taxdomain.Rate{}, nil)

	invoice, err := f.svc.BuildDraftInvoice(f.ctx(), f.subID.String(), start, end)
	if err != nil {
		t.Fatal(err)
	}
	return invoice
}
