package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	catalogdomain "github.com/tidewaylabs/tideway/internal/catalog/domain"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	dunningdomain "github.com/tidewaylabs/tideway/internal/dunning/domain"
	invoicedomain "github.com/tidewaylabs/tideway/internal/invoice/domain"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	subscriptiondomain "github.com/tidewaylabs/tideway/internal/subscription/domain"
	"github.com/tidewaylabs/tideway/internal/subscription/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeCatalog struct {
	plan *catalogdomain.Plan
}

func (f *fakeCatalog) Create(ctx context.Context, req catalogdomain.CreatePlanRequest) (*catalogdomain.Plan, error) {
	return nil, nil
}
func (f *fakeCatalog) GetPlan(ctx context.Context, id string) (*catalogdomain.Plan, error) {
	return f.plan, nil
}
func (f *fakeCatalog) GetPlanByCode(ctx context.Context, code string) (*catalogdomain.Plan, error) {
	if f.plan != nil && f.plan.Code == code {
		return f.plan, nil
	}
	return nil, catalogdomain.ErrPlanNotFound
}
func (f *fakeCatalog) List(ctx context.Context) ([]catalogdomain.Plan, error) { return nil, nil }

type fakeInvoices struct {
	invoices  map[string]*invoicedomain.Invoice
	built     int
	finalized int
}

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{invoices: make(map[string]*invoicedomain.Invoice)}
}

func (f *fakeInvoices) BuildDraftInvoice(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*invoicedomain.Invoice, error) {
	f.built++
	subID, _ := snowflake.ParseString(subscriptionID)
	inv := &invoicedomain.Invoice{
		ID:             snowflake.ID(int64(9000 + f.built)),
		SubscriptionID: subID,
		InvoiceNumber:  "INV-000001",
		Status:         invoicedomain.InvoiceStatusDraft,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Total:          1000,
	}
	f.invoices[inv.ID.String()] = inv
	return inv, nil
}

func (f *fakeInvoices) FinalizeInvoice(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	f.finalized++
	inv := f.invoices[invoiceID]
	inv.Status = invoicedomain.InvoiceStatusOpen
	return inv, nil
}

func (f *fakeInvoices) Get(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (f *fakeInvoices) MarkPaid(ctx context.Context, invoiceID string, paidAt time.Time) (*invoicedomain.Invoice, error) {
	inv := f.invoices[invoiceID]
	inv.Status = invoicedomain.InvoiceStatusPaid
	return inv, nil
}

func (f *fakeInvoices) MarkVoid(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	return f.invoices[invoiceID], nil
}

func (f *fakeInvoices) MarkUncollectible(ctx context.Context, invoiceID string) (*invoicedomain.Invoice, error) {
	inv := f.invoices[invoiceID]
	inv.Status = invoicedomain.InvoiceStatusUncollectible
	return inv, nil
}

func (f *fakeInvoices) AddAdjustment(ctx context.Context, invoiceID string, description string, amount int64) (*invoicedomain.Invoice, error) {
	return f.invoices[invoiceID], nil
}

type fakePayments struct {
	outcomes []paymentdomain.ChargeResult
	calls    int
	noCard   bool
}

func (f *fakePayments) Collect(ctx context.Context, invoiceID string) (*paymentdomain.PaymentAttempt, error) {
	if f.noCard {
		return nil, paymentdomain.ErrNoInstrumentOnFile
	}
	result := paymentdomain.ChargeResult{Outcome: paymentdomain.OutcomeSucceeded}
	if f.calls < len(f.outcomes) {
		result = f.outcomes[f.calls]
	}
	f.calls++
	attempt := &paymentdomain.PaymentAttempt{
		AttemptNumber: f.calls,
		Outcome:       result.Outcome,
	}
	if result.DeclineCode != "" {
		reason := result.DeclineCode
		attempt.FailureReason = &reason
	}
	return attempt, nil
}

func (f *fakePayments) ListAttempts(ctx context.Context, invoiceID string) ([]paymentdomain.PaymentAttempt, error) {
	return nil, nil
}

func (f *fakePayments) ScheduleRetry(ctx context.Context, invoiceID string, at time.Time) error {
	return nil
}

type fakeInstruments struct {
	noCard bool
}

func (f *fakeInstruments) Attach(ctx context.Context, customerRef, provider, providerRef string, makeDefault bool) (*paymentdomain.Instrument, error) {
	return nil, nil
}

func (f *fakeInstruments) Detach(ctx context.Context, instrumentID string) error { return nil }

func (f *fakeInstruments) DefaultFor(ctx context.Context, customerRef string) (*paymentdomain.Instrument, error) {
	if f.noCard {
		return nil, paymentdomain.ErrNoInstrumentOnFile
	}
	return &paymentdomain.Instrument{CustomerRef: customerRef, ProviderRef: "pm_1", IsDefault: true}, nil
}

func (f *fakeInstruments) ListFor(ctx context.Context, customerRef string) ([]paymentdomain.Instrument, error) {
	return nil, nil
}

type fakeDunning struct {
	decisions []dunningdomain.Decision
	calls     int
	reasons   []string
}

func (f *fakeDunning) OnPaymentFailure(ctx context.Context, invoiceID string, failureReason string) (*dunningdomain.Decision, error) {
	f.reasons = append(f.reasons, failureReason)
	decision := dunningdomain.Decision{Tier: dunningdomain.TierMedium, Action: dunningdomain.ActionRetryScheduled}
	if f.calls < len(f.decisions) {
		decision = f.decisions[f.calls]
	}
	f.calls++
	return &decision, nil
}

type fixture struct {
	svc         *Service
	db          *gorm.DB
	clock       *clock.Fixed
	catalog     *fakeCatalog
	invoices    *fakeInvoices
	payments    *fakePayments
	instruments *fakeInstruments
	dunning     *fakeDunning
	orgID       snowflake.ID
	ctx         context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&subscriptiondomain.Subscription{}))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	fixed := clock.NewFixed(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	orgID := node.Generate()

	f := &fixture{
		db:    db,
		clock: fixed,
		catalog: &fakeCatalog{plan: &catalogdomain.Plan{
			ID:       node.Generate(),
			OrgID:    orgID,
			Code:     "pro-monthly",
			Name:     "Pro",
			Interval: catalogdomain.IntervalMonthly,
			Active:   true,
		}},
		invoices:    newFakeInvoices(),
		payments:    &fakePayments{},
		instruments: &fakeInstruments{},
		dunning:     &fakeDunning{},
		orgID:       orgID,
		ctx:         orgcontext.WithOrgID(context.Background(), orgID),
	}

	f.svc = NewService(ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fixed,
		Repo:        repository.NewRepository(),
		Cfg:         config.Config{Billing: config.BillingConfig{PauseMaxDays: 90}},
		Catalog:     f.catalog,
		Invoices:    f.invoices,
		Payments:    f.payments,
		Instruments: f.instruments,
		Dunning:     f.dunning,
	}).(*Service)

	return f
}

func (f *fixture) create(t *testing.T) *subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(f.ctx, subscriptiondomain.CreateRequest{
		PlanCode:    "pro-monthly",
		CustomerRef: "cust_42",
	})
	assert.NoError(t, err)
	return sub
}

func TestCreateActivatesImmediatelyWithoutTrial(t *testing.T) {
	f := newFixture(t)

	sub := f.create(t)

	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)
	assert.True(t, sub.CurrentPeriodStart.Equal(f.clock.Now(f.ctx)))
	assert.True(t, sub.CurrentPeriodEnd.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, sub.TrialEndAt)
}

func TestCreateStartsTrialWhenPlanHasTrialDays(t *testing.T) {
	f := newFixture(t)
	f.catalog.plan.TrialDays = 14

	sub := f.create(t)

	assert.Equal(t, subscriptiondomain.StatusTrialing, sub.Status)
	assert.NotNil(t, sub.TrialEndAt)
	assert.True(t, sub.TrialEndAt.Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func TestCreateIsIdempotentPerKey(t *testing.T) {
	f := newFixture(t)

	req := subscriptiondomain.CreateRequest{
		PlanCode:       "pro-monthly",
		CustomerRef:    "cust_42",
		IdempotencyKey: "create-1",
	}
	first, err := f.svc.Create(f.ctx, req)
	assert.NoError(t, err)
	second, err := f.svc.Create(f.ctx, req)
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateRejectsSecondOpenSubscription(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	_, err := f.svc.Create(f.ctx, subscriptiondomain.CreateRequest{
		PlanCode:    "pro-monthly",
		CustomerRef: "cust_43",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyExists)
}

func TestCreateRejectsInactivePlan(t *testing.T) {
	f := newFixture(t)
	f.catalog.plan.Active = false

	_, err := f.svc.Create(f.ctx, subscriptiondomain.CreateRequest{
		PlanCode:    "pro-monthly",
		CustomerRef: "cust_42",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPlan)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    subscriptiondomain.Status
		to      subscriptiondomain.Status
		allowed bool
	}{
		{subscriptiondomain.StatusTrialing, subscriptiondomain.StatusActive, true},
		{subscriptiondomain.StatusTrialing, subscriptiondomain.StatusCanceled, true},
		{subscriptiondomain.StatusTrialing, subscriptiondomain.StatusPaused, false},
		{subscriptiondomain.StatusActive, subscriptiondomain.StatusPastDue, true},
		{subscriptiondomain.StatusActive, subscriptiondomain.StatusPaused, true},
		{subscriptiondomain.StatusActive, subscriptiondomain.StatusCanceled, true},
		{subscriptiondomain.StatusActive, subscriptiondomain.StatusTrialing, false},
		{subscriptiondomain.StatusPastDue, subscriptiondomain.StatusActive, true},
		{subscriptiondomain.StatusPastDue, subscriptiondomain.StatusPaused, true},
		{subscriptiondomain.StatusPaused, subscriptiondomain.StatusActive, true},
		{subscriptiondomain.StatusPaused, subscriptiondomain.StatusCanceled, false},
		{subscriptiondomain.StatusPaused, subscriptiondomain.StatusPastDue, false},
		{subscriptiondomain.StatusCanceled, subscriptiondomain.StatusActive, false},
		{subscriptiondomain.StatusActive, subscriptiondomain.StatusActive, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPauseAndAutoResume(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	paused, err := f.svc.Pause(f.ctx, sub.ID.String(), 30*24*time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPaused, paused.Status)
	assert.NotNil(t, paused.PauseUntil)
	assert.True(t, paused.PauseUntil.Equal(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)))

	// Pause window elapses: the sweeper resumes and, since the
	// original period end has passed, restarts the period.
	f.clock.Set(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	resumed, err := f.svc.ResumePausesDue(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, resumed)

	got, err := f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	assert.Nil(t, got.PauseUntil)
	assert.True(t, got.CurrentPeriodStart.Equal(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)))
}

func TestPauseRejectsExcessiveDuration(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	_, err := f.svc.Pause(f.ctx, sub.ID.String(), 120*24*time.Hour)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPauseDuration)

	_, err = f.svc.Pause(f.ctx, sub.ID.String(), 0)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidPauseDuration)
}

func TestCancelImmediateAndAtPeriodEnd(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	deferred, err := f.svc.Cancel(f.ctx, sub.ID.String(), true)
	assert.NoError(t, err)
	assert.True(t, deferred.CancelAtPeriodEnd)
	assert.Equal(t, subscriptiondomain.StatusActive, deferred.Status)

	canceled, err := f.svc.Cancel(f.ctx, sub.ID.String(), false)
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, canceled.Status)
	assert.NotNil(t, canceled.CanceledAt)

	_, err = f.svc.Cancel(f.ctx, sub.ID.String(), false)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
}

func TestClosePeriodBeforeEndRejected(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	_, err := f.svc.CloseCurrentPeriod(f.ctx, sub.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrPeriodNotElapsed)
}

func TestClosePeriodChargesAndAdvances(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	f.clock.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	result, err := f.svc.CloseCurrentPeriod(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, 1, f.invoices.built)
	assert.Equal(t, 1, f.invoices.finalized)
	assert.Equal(t, string(paymentdomain.OutcomeSucceeded), result.ChargeOutcome)

	got, err := f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	assert.True(t, got.CurrentPeriodStart.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got.CurrentPeriodEnd.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFailedChargeDemotesToPastDueThenRecovers(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	f.payments.outcomes = []paymentdomain.ChargeResult{
		{Outcome: paymentdomain.OutcomeDeclinedRetryable, DeclineCode: "insufficient_funds"},
		{Outcome: paymentdomain.OutcomeSucceeded},
	}

	f.clock.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	result, err := f.svc.CloseCurrentPeriod(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, string(dunningdomain.ActionRetryScheduled), result.DunningAction)
	assert.Equal(t, []string{"insufficient_funds"}, f.dunning.reasons)

	got, err := f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPastDue, got.Status)
	// Failed close leaves the period in place.
	assert.True(t, got.CurrentPeriodStart.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))

	// Scheduled retry succeeds: back to active, period advances.
	f.clock.Set(time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC))
	retry, err := f.svc.CollectInvoice(f.ctx, result.InvoiceID)
	assert.NoError(t, err)
	assert.Equal(t, string(paymentdomain.OutcomeSucceeded), retry.ChargeOutcome)

	got, err = f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	assert.True(t, got.CurrentPeriodStart.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestExhaustedDunningCancelsSubscription(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	f.payments.outcomes = []paymentdomain.ChargeResult{
		{Outcome: paymentdomain.OutcomeDeclinedPermanent, DeclineCode: "stolen_card"},
	}
	f.dunning.decisions = []dunningdomain.Decision{
		{Tier: dunningdomain.TierHigh, Action: dunningdomain.ActionExhausted},
	}

	f.clock.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	result, err := f.svc.CloseCurrentPeriod(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, string(dunningdomain.ActionExhausted), result.DunningAction)

	got, err := f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, got.Status)
}

func TestMissingInstrumentRoutesThroughDunning(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	f.payments.noCard = true

	f.clock.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	_, err := f.svc.CloseCurrentPeriod(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, []string{"no_instrument_on_file"}, f.dunning.reasons)
}

func TestHandlePaymentOutcomeIgnoresStalePeriod(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	f.clock.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	result, err := f.svc.CloseCurrentPeriod(f.ctx, sub.ID.String())
	assert.NoError(t, err)

	// Replayed success for an already-closed period must not advance
	// the clock a second time.
	_, err = f.svc.HandlePaymentOutcome(f.ctx, result.InvoiceID, string(paymentdomain.OutcomeSucceeded), "")
	assert.NoError(t, err)

	got, err := f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.True(t, got.CurrentPeriodStart.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, got.CurrentPeriodEnd.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))
}

func TestTrialSweepActivates(t *testing.T) {
	f := newFixture(t)
	f.catalog.plan.TrialDays = 14
	sub := f.create(t)
	assert.Equal(t, subscriptiondomain.StatusTrialing, sub.Status)

	f.clock.Set(time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC))
	activated, err := f.svc.ActivateTrialsDue(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, activated)

	got, err := f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	// Paid period starts where the trial ended, not at sweep time.
	assert.True(t, got.CurrentPeriodStart.Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func TestTrialSweepHoldsWithoutInstrument(t *testing.T) {
	f := newFixture(t)
	f.catalog.plan.TrialDays = 14
	f.instruments.noCard = true
	sub := f.create(t)

	f.clock.Set(time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC))
	activated, err := f.svc.ActivateTrialsDue(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, activated)

	got, err := f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusTrialing, got.Status)

	// Customer adds a card; the next sweep converts the trial.
	f.instruments.noCard = false
	activated, err = f.svc.ActivateTrialsDue(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, activated)

	got, err = f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, got.Status)
	assert.True(t, got.CurrentPeriodStart.Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)))
}

func TestCancelPausedRejected(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	_, err := f.svc.Pause(f.ctx, sub.ID.String(), 30*24*time.Hour)
	assert.NoError(t, err)

	_, err = f.svc.Cancel(f.ctx, sub.ID.String(), false)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)
	_, err = f.svc.Cancel(f.ctx, sub.ID.String(), true)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)

	// Resume first, then cancel.
	resumed, err := f.svc.Resume(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, resumed.Status)

	canceled, err := f.svc.Cancel(f.ctx, sub.ID.String(), false)
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, canceled.Status)
}

func TestDeferredCancelSweep(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	_, err := f.svc.Cancel(f.ctx, sub.ID.String(), true)
	assert.NoError(t, err)

	f.clock.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	canceled, err := f.svc.CancelAtPeriodEndDue(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, canceled)

	got, err := f.svc.Get(f.ctx, sub.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCanceled, got.Status)
}

func TestGetUnknownSubscription(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(f.ctx, "1234567890123456789")
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	_, err = f.svc.Get(f.ctx, "not-a-number")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidSubscription)
}
