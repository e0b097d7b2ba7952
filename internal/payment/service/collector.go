package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	invoicedomain "github.com/tidewaylabs/tideway/internal/invoice/domain"
	notificationdomain "github.com/tidewaylabs/tideway/internal/notification/domain"
	"github.com/tidewaylabs/tideway/internal/observability"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	"github.com/tidewaylabs/tideway/internal/payment/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// invoiceLocks serializes charge attempts per invoice. A held lock
// means an attempt is in flight; callers get ErrAttemptInFlight
// instead of a second charge.
type invoiceLocks struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*sync.Mutex
}

func newInvoiceLocks() *invoiceLocks {
	return &invoiceLocks{locks: make(map[snowflake.ID]*sync.Mutex)}
}

func (l *invoiceLocks) tryAcquire(id snowflake.ID) (release func(), ok bool) {
	l.mu.Lock()
	m, found := l.locks[id]
	if !found {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}

type Collector struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	repo      repository.Repository
	invoices  invoicedomain.Service
	processor paymentdomain.Processor
	notify    notificationdomain.Requester
	metrics   *observability.Metrics
	timeout   time.Duration
	locks     *invoiceLocks
}

type CollectorParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      repository.Repository
	Cfg       config.Config
	Invoices  invoicedomain.Service
	Processor paymentdomain.Processor
	Notify    notificationdomain.Requester
	Metrics   *observability.Metrics `optional:"true"`
}

func NewCollector(p CollectorParam) paymentdomain.Service {
	timeout := p.Cfg.Billing.CollectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Collector{
		db:        p.DB,
		log:       p.Log.Named("payment.collector"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		invoices:  p.Invoices,
		processor: p.Processor,
		notify:    p.Notify,
		metrics:   p.Metrics,
		timeout:   timeout,
		locks:     newInvoiceLocks(),
	}
}

func (c *Collector) Collect(ctx context.Context, invoiceID string) (*paymentdomain.PaymentAttempt, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}

	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil || id == 0 {
		return nil, paymentdomain.ErrInvalidInvoice
	}

	release, acquired := c.locks.tryAcquire(id)
	if !acquired {
		return nil, paymentdomain.ErrAttemptInFlight
	}
	defer release()

	invoice, err := c.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status.Settled() {
		return nil, paymentdomain.ErrInvoiceSettled
	}
	if invoice.Status != invoicedomain.InvoiceStatusOpen {
		return nil, paymentdomain.ErrInvoiceNotOpen
	}

	customerRef, err := c.loadCustomerRef(ctx, orgID, invoice.SubscriptionID)
	if err != nil {
		return nil, err
	}

	instrument, err := c.repo.FindDefaultInstrument(ctx, c.db, orgID, customerRef)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, paymentdomain.ErrNoInstrumentOnFile
	}

	count, err := c.repo.CountAttempts(ctx, c.db, orgID, id)
	if err != nil {
		return nil, err
	}
	attemptNumber := count + 1

	now := c.clock.Now(ctx)
	attempt := &paymentdomain.PaymentAttempt{
		ID:             c.genID.Generate(),
		OrgID:          orgID,
		InvoiceID:      id,
		AttemptNumber:  attemptNumber,
		IdempotencyKey: fmt.Sprintf("%s:%d", id.String(), attemptNumber),
		AttemptedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The charge is always awaited: the outcome or the deadline is
	// recorded, never a dangling attempt.
	chargeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	result, chargeErr := c.processor.Charge(chargeCtx, paymentdomain.ChargeRequest{
		InstrumentRef:  instrument.ProviderRef,
		Amount:         invoice.Total,
		Currency:       invoice.Currency,
		IdempotencyKey: attempt.IdempotencyKey,
	})
	cancel()

	if chargeErr != nil {
		attempt.Outcome = paymentdomain.OutcomeProcessorError
		reason := "processor_unreachable"
		if chargeCtx.Err() == context.DeadlineExceeded {
			reason = "timeout"
		}
		attempt.FailureReason = &reason
	} else {
		attempt.Outcome = result.Outcome
		if result.ProcessorRef != "" {
			ref := result.ProcessorRef
			attempt.ProcessorRef = &ref
		}
		if result.DeclineCode != "" {
			code := result.DeclineCode
			attempt.FailureReason = &code
		}
	}

	if err := c.repo.InsertAttempt(ctx, c.db, attempt); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.PaymentOutcomes.WithLabelValues(string(attempt.Outcome)).Inc()
	}

	if attempt.Outcome == paymentdomain.OutcomeSucceeded {
		if _, err := c.invoices.MarkPaid(ctx, invoiceID, now); err != nil {
			return nil, err
		}
		if attemptNumber > 1 {
			c.notify.Request(ctx, notificationdomain.Notification{
				UserRef:  customerRef,
				Template: notificationdomain.TemplatePaymentRecovered,
				Channel:  notificationdomain.ChannelEmail,
				Data: map[string]any{
					"invoice_number": invoice.InvoiceNumber,
					"attempt_number": attemptNumber,
				},
			})
		}
	}

	c.log.Info("charge attempt recorded",
		zap.String("invoice_id", invoiceID),
		zap.Int("attempt_number", attemptNumber),
		zap.String("outcome", string(attempt.Outcome)))

	return attempt, nil
}

func (c *Collector) ListAttempts(ctx context.Context, invoiceID string) ([]paymentdomain.PaymentAttempt, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil || id == 0 {
		return nil, paymentdomain.ErrInvalidInvoice
	}
	return c.repo.ListAttempts(ctx, c.db, orgID, id)
}

func (c *Collector) ScheduleRetry(ctx context.Context, invoiceID string, at time.Time) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil || id == 0 {
		return paymentdomain.ErrInvalidInvoice
	}

	latest, err := c.repo.LatestAttempt(ctx, c.db, orgID, id)
	if err != nil {
		return err
	}
	if latest == nil {
		return paymentdomain.ErrInvalidInvoice
	}
	at = at.UTC()
	return c.repo.SetNextRetry(ctx, c.db, latest.ID, &at)
}

func (c *Collector) loadCustomerRef(ctx context.Context, orgID, subscriptionID snowflake.ID) (string, error) {
	var customerRef string
	err := c.db.WithContext(ctx).Raw(
		`SELECT customer_ref FROM subscriptions WHERE org_id = ? AND id = ?`,
		orgID,
		subscriptionID,
	).Scan(&customerRef).Error
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(customerRef) == "" {
		return "", paymentdomain.ErrInvalidInvoice
	}
	return customerRef, nil
}
