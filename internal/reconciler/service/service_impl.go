package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/clock"
	invoicedomain "github.com/tidewaylabs/tideway/internal/invoice/domain"
	"github.com/tidewaylabs/tideway/internal/observability"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	"github.com/tidewaylabs/tideway/internal/reconciler/domain"
	"github.com/tidewaylabs/tideway/internal/reconciler/repository"
	subscriptiondomain "github.com/tidewaylabs/tideway/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          repository.Repository
	invoices      invoicedomain.Service
	subscriptions subscriptiondomain.Service
	metrics       *observability.Metrics
}

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          repository.Repository
	Invoices      invoicedomain.Service
	Subscriptions subscriptiondomain.Service
	Metrics       *observability.Metrics `optional:"true"`
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("reconciler.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		invoices:      p.Invoices,
		subscriptions: p.Subscriptions,
		metrics:       p.Metrics,
	}
}

func (s *Service) ApplyExternalEvent(ctx context.Context, event *paymentdomain.ProcessorEvent) (*domain.Result, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	if event == nil || strings.TrimSpace(event.Provider) == "" || strings.TrimSpace(event.ProviderEventID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	record, duplicate, err := s.ledgerRow(ctx, orgID, event)
	if err != nil {
		return nil, err
	}
	if duplicate {
		s.count(event.Type, domain.OutcomeDuplicate)
		return &domain.Result{Outcome: record.Outcome, Duplicate: true}, nil
	}

	outcome, err := s.apply(ctx, event)
	if err != nil {
		// processed_at stays null so a redelivery can retry.
		s.log.Warn("event application failed",
			zap.String("provider", event.Provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.Error(err))
		return nil, err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, record, outcome, s.clock.Now(ctx)); err != nil {
		return nil, err
	}
	s.count(event.Type, outcome)

	s.log.Info("processor event applied",
		zap.String("provider", event.Provider),
		zap.String("type", event.Type),
		zap.String("outcome", outcome))

	return &domain.Result{Outcome: outcome}, nil
}

// ledgerRow returns the dedup row for an event, inserting it if new.
// The unique (provider, provider_event_id) index settles concurrent
// deliveries; the loser re-reads the winner's row.
func (s *Service) ledgerRow(ctx context.Context, orgID snowflake.ID, event *paymentdomain.ProcessorEvent) (*domain.ProcessorEventRecord, bool, error) {
	existing, err := s.repo.FindByProviderEventID(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, existing.Processed(), nil
	}

	record := &domain.ProcessorEventRecord{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      s.clock.Now(ctx),
	}
	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		raced, findErr := s.repo.FindByProviderEventID(ctx, s.db, event.Provider, event.ProviderEventID)
		if findErr == nil && raced != nil {
			return raced, raced.Processed(), nil
		}
		return nil, false, err
	}
	return record, false, nil
}

func (s *Service) apply(ctx context.Context, event *paymentdomain.ProcessorEvent) (string, error) {
	switch event.Type {
	case paymentdomain.EventChargeSucceeded:
		return s.applyChargeSucceeded(ctx, event)
	case paymentdomain.EventChargeFailed:
		return s.applyChargeFailed(ctx, event)
	case paymentdomain.EventSubscriptionUpdated:
		// Subscription state is owned here; provider-side edits are
		// recorded but never applied.
		return domain.OutcomeIgnoredExternalSubs, nil
	default:
		return domain.OutcomeIgnoredUnknownType, nil
	}
}

func (s *Service) applyChargeSucceeded(ctx context.Context, event *paymentdomain.ProcessorEvent) (string, error) {
	if event.InvoiceID == nil {
		return domain.OutcomeIgnoredNoInvoice, nil
	}
	invoiceID := event.InvoiceID.String()

	paidAt := event.OccurredAt
	if paidAt.IsZero() {
		paidAt = s.clock.Now(ctx)
	}
	if _, err := s.invoices.MarkPaid(ctx, invoiceID, paidAt); err != nil {
		return "", err
	}
	if _, err := s.subscriptions.HandlePaymentOutcome(ctx, invoiceID, string(paymentdomain.OutcomeSucceeded), ""); err != nil {
		return "", err
	}
	return domain.OutcomeInvoicePaid, nil
}

func (s *Service) applyChargeFailed(ctx context.Context, event *paymentdomain.ProcessorEvent) (string, error) {
	if event.InvoiceID == nil {
		return domain.OutcomeIgnoredNoInvoice, nil
	}
	invoiceID := event.InvoiceID.String()

	if _, err := s.subscriptions.HandlePaymentOutcome(ctx, invoiceID,
		string(paymentdomain.OutcomeDeclinedRetryable), event.FailureReason); err != nil {
		return "", err
	}
	return domain.OutcomeDunningTriggered, nil
}

func (s *Service) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	purged, err := s.repo.DeleteProcessedBefore(ctx, s.db, cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Info("processor event ledger purged", zap.Int64("rows", purged))
	}
	return purged, nil
}

func (s *Service) count(eventType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.EventsReconciled.WithLabelValues(eventType, outcome).Inc()
}
