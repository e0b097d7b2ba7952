package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	dunningdomain "github.com/tidewaylabs/tideway/internal/dunning/domain"
	invoicedomain "github.com/tidewaylabs/tideway/internal/invoice/domain"
	notificationdomain "github.com/tidewaylabs/tideway/internal/notification/domain"
	"github.com/tidewaylabs/tideway/internal/observability"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock      clock.Clock
	invoices   invoicedomain.Service
	payments   paymentdomain.Service
	notify     notificationdomain.Requester
	metrics    *observability.Metrics
	strategies map[dunningdomain.RiskTier]dunningdomain.RetryStrategy
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	Invoices invoicedomain.Service
	Payments paymentdomain.Service
	Notify   notificationdomain.Requester
	Metrics  *observability.Metrics `optional:"true"`
}

func NewService(p ServiceParam) dunningdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("dunning.service"),
		clock:      p.Clock,
		invoices:   p.Invoices,
		payments:   p.Payments,
		notify:     p.Notify,
		metrics:    p.Metrics,
		strategies: strategiesFromConfig(p.Cfg.Billing.DunningPolicies),
	}
}

func strategiesFromConfig(policies []config.DunningPolicy) map[dunningdomain.RiskTier]dunningdomain.RetryStrategy {
	strategies := dunningdomain.DefaultStrategies()
	for _, policy := range policies {
		tier := dunningdomain.RiskTier(strings.ToUpper(strings.TrimSpace(policy.RiskTier)))
		if tier != dunningdomain.TierLow && tier != dunningdomain.TierMedium && tier != dunningdomain.TierHigh {
			continue
		}
		intervals := make([]time.Duration, 0, len(policy.RetryIntervals))
		for _, raw := range policy.RetryIntervals {
			d, err := time.ParseDuration(strings.TrimSpace(raw))
			if err != nil || d <= 0 {
				continue
			}
			intervals = append(intervals, d)
		}
		strategies[tier] = dunningdomain.RetryStrategy{
			Tier:                 tier,
			MaxAttempts:          policy.MaxAttempts,
			Intervals:            intervals,
			RequireNewInstrument: policy.RequireNewInstrument,
		}
	}
	return strategies
}

func (s *Service) OnPaymentFailure(ctx context.Context, invoiceID string, failureReason string) (*dunningdomain.Decision, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, dunningdomain.ErrInvalidOrganization
	}

	invoice, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status.Settled() {
		return nil, dunningdomain.ErrInvalidInvoice
	}

	customerRef, err := s.loadCustomerRef(ctx, orgID, invoice.SubscriptionID)
	if err != nil {
		return nil, err
	}

	attempts, err := s.payments.ListAttempts(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	// Provider-side failures can land before any local attempt
	// exists; zero is a valid count and never counts toward
	// exhaustion.
	attemptNumber := len(attempts)

	tier := dunningdomain.ClassifyReason(failureReason)
	strategy, ok := s.strategies[tier]
	if !ok {
		strategy = dunningdomain.DefaultStrategies()[tier]
	}

	now := s.clock.Now(ctx)
	daysPastDue := 0
	if invoice.DueAt != nil && now.After(*invoice.DueAt) {
		daysPastDue = int(now.Sub(*invoice.DueAt) / (24 * time.Hour))
	}

	if attemptNumber >= strategy.MaxAttempts {
		return s.exhaust(ctx, invoice, customerRef, tier, failureReason, daysPastDue)
	}

	if strategy.RequireNewInstrument {
		s.notify.Request(ctx, notificationdomain.Notification{
			UserRef:  customerRef,
			Template: notificationdomain.TemplateUpdatePaymentMethod,
			Channel:  channelFor(daysPastDue),
			Data: map[string]any{
				"invoice_number": invoice.InvoiceNumber,
				"failure_reason": failureReason,
				"risk_tier":      string(tier),
			},
		})
		return &dunningdomain.Decision{Tier: tier, Action: dunningdomain.ActionAwaitInstrument}, nil
	}

	if len(attempts) == 0 {
		// Provider-side failure with no local attempt to stamp: there
		// is no retry for the scheduler to pick up, so the decision
		// carries no retry time.
		s.notify.Request(ctx, notificationdomain.Notification{
			UserRef:  customerRef,
			Template: notificationdomain.TemplatePaymentFailed,
			Channel:  channelFor(daysPastDue),
			Data: map[string]any{
				"invoice_number": invoice.InvoiceNumber,
				"failure_reason": failureReason,
				"risk_tier":      string(tier),
			},
		})
		return &dunningdomain.Decision{Tier: tier, Action: dunningdomain.ActionNotified}, nil
	}

	nextRetryAt := now.Add(strategy.NextInterval(attemptNumber))
	if err := s.payments.ScheduleRetry(ctx, invoiceID, nextRetryAt); err != nil {
		return nil, err
	}

	s.notify.Request(ctx, notificationdomain.Notification{
		UserRef:  customerRef,
		Template: notificationdomain.TemplatePaymentRetryScheduled,
		Channel:  channelFor(daysPastDue),
		Data: map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"failure_reason": failureReason,
			"risk_tier":      string(tier),
			"next_retry_at":  nextRetryAt.Format(time.RFC3339),
			"attempt_number": attemptNumber,
		},
	})

	s.log.Info("retry scheduled",
		zap.String("invoice_id", invoiceID),
		zap.String("risk_tier", string(tier)),
		zap.Time("next_retry_at", nextRetryAt))

	return &dunningdomain.Decision{
		Tier:        tier,
		Action:      dunningdomain.ActionRetryScheduled,
		NextRetryAt: &nextRetryAt,
	}, nil
}

func (s *Service) exhaust(
	ctx context.Context,
	invoice *invoicedomain.Invoice,
	customerRef string,
	tier dunningdomain.RiskTier,
	failureReason string,
	daysPastDue int,
) (*dunningdomain.Decision, error) {
	if _, err := s.invoices.MarkUncollectible(ctx, invoice.ID.String()); err != nil {
		return nil, err
	}

	s.notify.Request(ctx, notificationdomain.Notification{
		UserRef:  customerRef,
		Template: notificationdomain.TemplateSubscriptionSuspended,
		Channel:  channelFor(daysPastDue),
		Data: map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"failure_reason": failureReason,
			"risk_tier":      string(tier),
		},
	})

	if s.metrics != nil {
		s.metrics.DunningEscalated.Inc()
	}

	s.log.Warn("dunning exhausted",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("risk_tier", string(tier)))

	return &dunningdomain.Decision{Tier: tier, Action: dunningdomain.ActionExhausted}, nil
}

func (s *Service) loadCustomerRef(ctx context.Context, orgID, subscriptionID snowflake.ID) (string, error) {
	var customerRef string
	err := s.db.WithContext(ctx).Raw(
		`SELECT customer_ref FROM subscriptions WHERE org_id = ? AND id = ?`,
		orgID,
		subscriptionID,
	).Scan(&customerRef).Error
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(customerRef) == "" {
		return "", dunningdomain.ErrInvalidInvoice
	}
	return customerRef, nil
}

// Early reminders go to email; once an invoice is long past due the
// customer also sees it in-app.
func channelFor(daysPastDue int) notificationdomain.Channel {
	if daysPastDue > 7 {
		return notificationdomain.ChannelInApp
	}
	return notificationdomain.ChannelEmail
}
