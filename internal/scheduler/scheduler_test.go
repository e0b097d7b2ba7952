package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	paymentrepo "github.com/tidewaylabs/tideway/internal/payment/repository"
	reconcilerdomain "github.com/tidewaylabs/tideway/internal/reconciler/domain"
	subscriptiondomain "github.com/tidewaylabs/tideway/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSubscriptions struct {
	collected []string
	orgs      []snowflake.ID
	sweeps    map[string]int
}

func newFakeSubscriptions() *fakeSubscriptions {
	return &fakeSubscriptions{sweeps: make(map[string]int)}
}

func (f *fakeSubscriptions) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubscriptions) Get(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubscriptions) Pause(ctx context.Context, id string, d time.Duration) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubscriptions) Resume(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubscriptions) Cancel(ctx context.Context, id string, atPeriodEnd bool) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}
func (f *fakeSubscriptions) CloseCurrentPeriod(ctx context.Context, id string) (*subscriptiondomain.CloseResult, error) {
	return nil, nil
}
func (f *fakeSubscriptions) CollectInvoice(ctx context.Context, invoiceID string) (*subscriptiondomain.CloseResult, error) {
	f.collected = append(f.collected, invoiceID)
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok {
		f.orgs = append(f.orgs, orgID)
	}
	return &subscriptiondomain.CloseResult{ChargeOutcome: "succeeded"}, nil
}
func (f *fakeSubscriptions) HandlePaymentOutcome(ctx context.Context, invoiceID string, outcome string, failureReason string) (*subscriptiondomain.CloseResult, error) {
	return nil, nil
}
func (f *fakeSubscriptions) ActivateTrialsDue(ctx context.Context) (int, error) {
	f.sweeps["trials"]++
	return 1, nil
}
func (f *fakeSubscriptions) ResumePausesDue(ctx context.Context) (int, error) {
	f.sweeps["pauses"]++
	return 0, nil
}
func (f *fakeSubscriptions) CancelAtPeriodEndDue(ctx context.Context) (int, error) {
	f.sweeps["cancels"]++
	return 0, nil
}
func (f *fakeSubscriptions) CloseRolloversDue(ctx context.Context) (int, error) {
	f.sweeps["rollovers"]++
	return 2, nil
}

type purgeRecorder struct {
	cutoffs []time.Time
}

func (p *purgeRecorder) ApplyExternalEvent(ctx context.Context, event *paymentdomain.ProcessorEvent) (*reconcilerdomain.Result, error) {
	return nil, nil
}

func (p *purgeRecorder) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	return 0, nil
}

type fixture struct {
	sched *Scheduler
	db    *gorm.DB
	clock *clock.Fixed
	subs  *fakeSubscriptions
	node  *snowflake.Node
}

func newFixture(t *testing.T, cfg config.Config) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&paymentdomain.PaymentAttempt{}))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	f := &fixture{
		db:    db,
		clock: clock.NewFixed(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)),
		subs:  newFakeSubscriptions(),
		node:  node,
	}
	f.sched = New(Param{
		DB:            db,
		Log:           zap.NewNop(),
		Clock:         f.clock,
		Cfg:           cfg,
		Subscriptions: f.subs,
		Reconciler:    &purgeRecorder{},
		Payments:      paymentrepo.NewRepository(),
	})
	return f
}

func (f *fixture) insertRetry(t *testing.T, orgID snowflake.ID, invoiceID snowflake.ID, at time.Time) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	err := f.db.Exec(`INSERT INTO payment_attempts
		(id, org_id, invoice_id, attempt_number, outcome, idempotency_key, attempted_at, next_retry_at, created_at, updated_at)
		VALUES (?, ?, ?, 1, 'declined_retryable', ?, ?, ?, ?, ?)`,
		id, orgID, invoiceID, invoiceID.String()+":1",
		at.Add(-24*time.Hour), at, at.Add(-24*time.Hour), at.Add(-24*time.Hour)).Error
	assert.NoError(t, err)
	return id
}

func TestLifecycleSweepsAllRun(t *testing.T) {
	f := newFixture(t, config.Config{})

	f.sched.RunLifecycleSweeps(context.Background())

	assert.Equal(t, 1, f.subs.sweeps["trials"])
	assert.Equal(t, 1, f.subs.sweeps["pauses"])
	assert.Equal(t, 1, f.subs.sweeps["cancels"])
	assert.Equal(t, 1, f.subs.sweeps["rollovers"])
}

func TestPaymentRetriesDispatchDueOnly(t *testing.T) {
	f := newFixture(t, config.Config{})
	orgID := f.node.Generate()
	dueInvoice := f.node.Generate()
	futureInvoice := f.node.Generate()

	now := f.clock.Now(context.Background())
	f.insertRetry(t, orgID, dueInvoice, now.Add(-time.Hour))
	f.insertRetry(t, orgID, futureInvoice, now.Add(72*time.Hour))

	f.sched.RunPaymentRetries(context.Background())

	assert.Equal(t, []string{dueInvoice.String()}, f.subs.collected)
	assert.Equal(t, []snowflake.ID{orgID}, f.subs.orgs)
}

func TestPaymentRetryStampClearedBeforeCharge(t *testing.T) {
	f := newFixture(t, config.Config{})
	orgID := f.node.Generate()
	invoiceID := f.node.Generate()
	now := f.clock.Now(context.Background())
	f.insertRetry(t, orgID, invoiceID, now.Add(-time.Hour))

	f.sched.RunPaymentRetries(context.Background())
	assert.Len(t, f.subs.collected, 1)

	// A second pass finds nothing: the stamp was consumed.
	f.sched.RunPaymentRetries(context.Background())
	assert.Len(t, f.subs.collected, 1)
}

func TestEventRetentionDisabledByDefault(t *testing.T) {
	recorder := &purgeRecorder{}
	f := newFixture(t, config.Config{})
	f.sched.reconciler = recorder

	f.sched.RunEventRetention(context.Background())
	assert.Empty(t, recorder.cutoffs)
}

func TestEventRetentionUsesConfiguredWindow(t *testing.T) {
	recorder := &purgeRecorder{}
	f := newFixture(t, config.Config{Billing: config.BillingConfig{EventRetention: 30}})
	f.sched.reconciler = recorder

	f.sched.RunEventRetention(context.Background())

	assert.Len(t, recorder.cutoffs, 1)
	assert.True(t, recorder.cutoffs[0].Equal(time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC)))
}
