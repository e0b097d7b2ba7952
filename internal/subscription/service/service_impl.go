package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/tidewaylabs/tideway/internal/catalog/domain"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	dunningdomain "github.com/tidewaylabs/tideway/internal/dunning/domain"
	invoicedomain "github.com/tidewaylabs/tideway/internal/invoice/domain"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	quotadomain "github.com/tidewaylabs/tideway/internal/quota/domain"
	subscriptiondomain "github.com/tidewaylabs/tideway/internal/subscription/domain"
	"github.com/tidewaylabs/tideway/internal/subscription/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// subLocks serializes all mutations of one subscription. Unrelated
// subscriptions proceed independently.
type subLocks struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*sync.Mutex
}

func newSubLocks() *subLocks {
	return &subLocks{locks: make(map[snowflake.ID]*sync.Mutex)}
}

func (l *subLocks) acquire(id snowflake.ID) func() {
	l.mu.Lock()
	m, found := l.locks[id]
	if !found {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	repo        repository.Repository
	catalog     catalogdomain.Service
	invoices    invoicedomain.Service
	payments    paymentdomain.Service
	instruments paymentdomain.InstrumentService
	dunning     dunningdomain.Service
	quota       quotadomain.Service

	pauseMax time.Duration
	locks    *subLocks
}

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        repository.Repository
	Cfg         config.Config
	Catalog     catalogdomain.Service
	Invoices    invoicedomain.Service
	Payments    paymentdomain.Service
	Instruments paymentdomain.InstrumentService
	Dunning     dunningdomain.Service
	Quota       quotadomain.Service `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	pauseMaxDays := p.Cfg.Billing.PauseMaxDays
	if pauseMaxDays <= 0 {
		pauseMaxDays = 90
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		catalog:     p.Catalog,
		invoices:    p.Invoices,
		payments:    p.Payments,
		instruments: p.Instruments,
		dunning:     p.Dunning,
		quota:       p.Quota,
		pauseMax:    time.Duration(pauseMaxDays) * 24 * time.Hour,
		locks:       newSubLocks(),
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	customerRef := strings.TrimSpace(req.CustomerRef)
	if customerRef == "" {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey != "" {
		if existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, orgID, idempotencyKey); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	if s.quota != nil {
		if err := s.quota.CanCreateSubscription(ctx, orgID); err != nil {
			return nil, err
		}
	}

	plan, err := s.catalog.GetPlanByCode(ctx, strings.TrimSpace(req.PlanCode))
	if err != nil || plan == nil || !plan.Active {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	if open, err := s.repo.FindOpenByOrg(ctx, s.db, orgID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, subscriptiondomain.ErrAlreadyExists
	}

	now := s.clock.Now(ctx)
	jurisdiction := strings.ToUpper(strings.TrimSpace(req.Jurisdiction))
	if jurisdiction == "" {
		jurisdiction = "US"
	}

	sub := &subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		OrgID:              orgID,
		PlanID:             plan.ID,
		CustomerRef:        customerRef,
		Jurisdiction:       jurisdiction,
		CurrentPeriodStart: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if idempotencyKey != "" {
		sub.IdempotencyKey = &idempotencyKey
	}

	if plan.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		sub.Status = subscriptiondomain.StatusTrialing
		sub.TrialEndAt = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
	} else {
		sub.Status = subscriptiondomain.StatusActive
		sub.CurrentPeriodEnd = plan.Interval.NextBoundary(now)
	}

	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		if idempotencyKey != "" {
			if existing, findErr := s.repo.FindByIdempotencyKey(ctx, s.db, orgID, idempotencyKey); findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.log.Info("subscription created",
		zap.Int64("subscription_id", int64(sub.ID)),
		zap.String("plan_code", plan.Code),
		zap.String("status", string(sub.Status)))

	return sub, nil
}

func (s *Service) Get(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	subID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	sub, err := s.repo.FindByID(ctx, s.db, orgID, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) Pause(ctx context.Context, id string, duration time.Duration) (*subscriptiondomain.Subscription, error) {
	if duration <= 0 || duration > s.pauseMax {
		return nil, subscriptiondomain.ErrInvalidPauseDuration
	}

	return s.mutate(ctx, id, func(sub *subscriptiondomain.Subscription, now time.Time) error {
		if !sub.Status.CanTransition(subscriptiondomain.StatusPaused) {
			return subscriptiondomain.ErrInvalidTransition
		}
		until := now.Add(duration)
		sub.Status = subscriptiondomain.StatusPaused
		sub.PauseUntil = &until
		return nil
	})
}

func (s *Service) Resume(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(sub *subscriptiondomain.Subscription, now time.Time) error {
		if sub.Status != subscriptiondomain.StatusPaused {
			return subscriptiondomain.ErrInvalidTransition
		}
		return s.resumeLocked(ctx, sub, now)
	})
}

// resumeLocked flips paused back to active. A period that fully
// elapsed during the pause restarts from now.
func (s *Service) resumeLocked(ctx context.Context, sub *subscriptiondomain.Subscription, now time.Time) error {
	sub.Status = subscriptiondomain.StatusActive
	sub.PauseUntil = nil
	if !sub.CurrentPeriodEnd.After(now) {
		plan, err := s.catalog.GetPlan(ctx, sub.PlanID.String())
		if err != nil {
			return err
		}
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = plan.Interval.NextBoundary(now)
	}
	return nil
}

func (s *Service) Cancel(ctx context.Context, id string, atPeriodEnd bool) (*subscriptiondomain.Subscription, error) {
	return s.mutate(ctx, id, func(sub *subscriptiondomain.Subscription, now time.Time) error {
		if sub.Status.Terminal() {
			return subscriptiondomain.ErrInvalidTransition
		}
		// A paused subscription resumes first, then cancels.
		if sub.Status == subscriptiondomain.StatusPaused {
			return subscriptiondomain.ErrInvalidTransition
		}
		if atPeriodEnd {
			sub.CancelAtPeriodEnd = true
			return nil
		}
		return cancelNow(sub, now)
	})
}

func cancelNow(sub *subscriptiondomain.Subscription, now time.Time) error {
	if !sub.Status.CanTransition(subscriptiondomain.StatusCanceled) {
		return subscriptiondomain.ErrInvalidTransition
	}
	sub.Status = subscriptiondomain.StatusCanceled
	sub.CanceledAt = &now
	sub.PauseUntil = nil
	sub.CancelAtPeriodEnd = false
	return nil
}

func (s *Service) CloseCurrentPeriod(ctx context.Context, id string) (*subscriptiondomain.CloseResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	subID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	release := s.locks.acquire(subID)
	defer release()

	sub, err := s.repo.FindByID(ctx, s.db, orgID, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !sub.Status.Billable() {
		return nil, subscriptiondomain.ErrInvalidTransition
	}

	now := s.clock.Now(ctx)
	if now.Before(sub.CurrentPeriodEnd) {
		return nil, subscriptiondomain.ErrPeriodNotElapsed
	}

	invoice, err := s.invoices.BuildDraftInvoice(ctx, id, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}
	if _, err := s.invoices.FinalizeInvoice(ctx, invoice.ID.String()); err != nil {
		return nil, err
	}

	return s.collectLocked(ctx, sub, invoice)
}

func (s *Service) CollectInvoice(ctx context.Context, invoiceID string) (*subscriptiondomain.CloseResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	invoice, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	release := s.locks.acquire(invoice.SubscriptionID)
	defer release()

	sub, err := s.repo.FindByID(ctx, s.db, orgID, invoice.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	return s.collectLocked(ctx, sub, invoice)
}

// collectLocked charges the invoice and applies the outcome. Callers
// hold the subscription lock.
func (s *Service) collectLocked(
	ctx context.Context,
	sub *subscriptiondomain.Subscription,
	invoice *invoicedomain.Invoice,
) (*subscriptiondomain.CloseResult, error) {
	attempt, err := s.payments.Collect(ctx, invoice.ID.String())
	if err != nil {
		if errors.Is(err, paymentdomain.ErrNoInstrumentOnFile) {
			return s.applyOutcomeLocked(ctx, sub, invoice, string(paymentdomain.OutcomeDeclinedPermanent), "no_instrument_on_file")
		}
		return nil, err
	}

	failureReason := ""
	if attempt.FailureReason != nil {
		failureReason = *attempt.FailureReason
	}
	return s.applyOutcomeLocked(ctx, sub, invoice, string(attempt.Outcome), failureReason)
}

func (s *Service) HandlePaymentOutcome(ctx context.Context, invoiceID string, outcome string, failureReason string) (*subscriptiondomain.CloseResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	invoice, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	release := s.locks.acquire(invoice.SubscriptionID)
	defer release()

	sub, err := s.repo.FindByID(ctx, s.db, orgID, invoice.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	return s.applyOutcomeLocked(ctx, sub, invoice, outcome, failureReason)
}

func (s *Service) applyOutcomeLocked(
	ctx context.Context,
	sub *subscriptiondomain.Subscription,
	invoice *invoicedomain.Invoice,
	outcome string,
	failureReason string,
) (*subscriptiondomain.CloseResult, error) {
	now := s.clock.Now(ctx)
	result := &subscriptiondomain.CloseResult{
		Subscription:  sub,
		InvoiceID:     invoice.ID.String(),
		InvoiceNumber: invoice.InvoiceNumber,
		ChargeOutcome: outcome,
	}

	if outcome == string(paymentdomain.OutcomeSucceeded) {
		if sub.Status == subscriptiondomain.StatusPastDue {
			sub.Status = subscriptiondomain.StatusActive
		}
		// Advance only the period this invoice closed; replays of old
		// invoices must not move the clock twice.
		if sub.CurrentPeriodStart.Equal(invoice.PeriodStart) {
			if err := s.advancePeriodLocked(ctx, sub, now); err != nil {
				return nil, err
			}
		}
		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, s.db, sub); err != nil {
			return nil, err
		}
		return result, nil
	}

	decision, err := s.dunning.OnPaymentFailure(ctx, invoice.ID.String(), failureReason)
	if err != nil {
		return nil, err
	}
	result.DunningAction = string(decision.Action)

	switch decision.Action {
	case dunningdomain.ActionExhausted:
		if err := cancelNow(sub, now); err != nil {
			return nil, err
		}
	default:
		if sub.Status == subscriptiondomain.StatusActive {
			sub.Status = subscriptiondomain.StatusPastDue
		}
	}
	sub.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, sub); err != nil {
		return nil, err
	}

	s.log.Info("payment failure applied",
		zap.Int64("subscription_id", int64(sub.ID)),
		zap.String("status", string(sub.Status)),
		zap.String("dunning_action", string(decision.Action)))

	return result, nil
}

func (s *Service) advancePeriodLocked(ctx context.Context, sub *subscriptiondomain.Subscription, now time.Time) error {
	if sub.CancelAtPeriodEnd {
		return cancelNow(sub, now)
	}
	plan, err := s.catalog.GetPlan(ctx, sub.PlanID.String())
	if err != nil {
		return err
	}
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = plan.Interval.NextBoundary(sub.CurrentPeriodStart)
	return nil
}

// -- Scheduler entrypoints --

func (s *Service) ActivateTrialsDue(ctx context.Context) (int, error) {
	now := s.clock.Now(ctx)
	due, err := s.repo.ListTrialsDue(ctx, s.db, now, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range due {
		sub := &due[i]
		orgCtx := orgcontext.WithOrgID(ctx, sub.OrgID)
		err := s.withLock(sub.ID, func() error {
			fresh, err := s.repo.FindByID(orgCtx, s.db, sub.OrgID, sub.ID)
			if err != nil || fresh == nil {
				return err
			}
			if fresh.Status != subscriptiondomain.StatusTrialing {
				return nil
			}
			// A trial only converts once the customer can actually be
			// charged; otherwise it stays trialing and the next sweep
			// re-checks.
			if _, err := s.instruments.DefaultFor(orgCtx, fresh.CustomerRef); err != nil {
				if errors.Is(err, paymentdomain.ErrNoInstrumentOnFile) {
					s.log.Info("trial held, no instrument on file",
						zap.Int64("subscription_id", int64(fresh.ID)))
					return nil
				}
				return err
			}
			plan, err := s.catalog.GetPlan(orgCtx, fresh.PlanID.String())
			if err != nil {
				return err
			}
			start := now
			if fresh.TrialEndAt != nil {
				start = *fresh.TrialEndAt
			}
			fresh.Status = subscriptiondomain.StatusActive
			fresh.CurrentPeriodStart = start
			fresh.CurrentPeriodEnd = plan.Interval.NextBoundary(start)
			fresh.UpdatedAt = now
			if err := s.repo.Update(orgCtx, s.db, fresh); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			s.log.Warn("trial activation failed", zap.Int64("subscription_id", int64(sub.ID)), zap.Error(err))
		}
	}
	return count, nil
}

func (s *Service) ResumePausesDue(ctx context.Context) (int, error) {
	now := s.clock.Now(ctx)
	due, err := s.repo.ListPausesDue(ctx, s.db, now, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range due {
		sub := &due[i]
		orgCtx := orgcontext.WithOrgID(ctx, sub.OrgID)
		err := s.withLock(sub.ID, func() error {
			fresh, err := s.repo.FindByID(orgCtx, s.db, sub.OrgID, sub.ID)
			if err != nil || fresh == nil {
				return err
			}
			if fresh.Status != subscriptiondomain.StatusPaused {
				return nil
			}
			if err := s.resumeLocked(orgCtx, fresh, now); err != nil {
				return err
			}
			fresh.UpdatedAt = now
			if err := s.repo.Update(orgCtx, s.db, fresh); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			s.log.Warn("auto-resume failed", zap.Int64("subscription_id", int64(sub.ID)), zap.Error(err))
		}
	}
	return count, nil
}

func (s *Service) CancelAtPeriodEndDue(ctx context.Context) (int, error) {
	now := s.clock.Now(ctx)
	due, err := s.repo.ListCancelAtPeriodEndDue(ctx, s.db, now, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range due {
		sub := &due[i]
		orgCtx := orgcontext.WithOrgID(ctx, sub.OrgID)
		err := s.withLock(sub.ID, func() error {
			fresh, err := s.repo.FindByID(orgCtx, s.db, sub.OrgID, sub.ID)
			if err != nil || fresh == nil {
				return err
			}
			if fresh.Status.Terminal() || !fresh.CancelAtPeriodEnd {
				return nil
			}
			// The flag survives a later pause; the cancel waits for
			// the resume.
			if fresh.Status == subscriptiondomain.StatusPaused {
				return nil
			}
			if err := cancelNow(fresh, now); err != nil {
				return err
			}
			fresh.UpdatedAt = now
			if err := s.repo.Update(orgCtx, s.db, fresh); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			s.log.Warn("deferred cancel failed", zap.Int64("subscription_id", int64(sub.ID)), zap.Error(err))
		}
	}
	return count, nil
}

func (s *Service) CloseRolloversDue(ctx context.Context) (int, error) {
	now := s.clock.Now(ctx)
	due, err := s.repo.ListRolloversDue(ctx, s.db, now, 0)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range due {
		sub := &due[i]
		orgCtx := orgcontext.WithOrgID(ctx, sub.OrgID)
		if _, err := s.CloseCurrentPeriod(orgCtx, sub.ID.String()); err != nil {
			// An open invoice means the previous close is still in
			// dunning; the retry job owns it.
			if errors.Is(err, invoicedomain.ErrOpenInvoiceExists) {
				continue
			}
			s.log.Warn("period close failed", zap.Int64("subscription_id", int64(sub.ID)), zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

func (s *Service) withLock(id snowflake.ID, fn func() error) error {
	release := s.locks.acquire(id)
	defer release()
	return fn()
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, subscriptiondomain.ErrInvalidSubscription
	}
	return id, nil
}

func (s *Service) mutate(ctx context.Context, id string, apply func(*subscriptiondomain.Subscription, time.Time) error) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	subID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	release := s.locks.acquire(subID)
	defer release()

	sub, err := s.repo.FindByID(ctx, s.db, orgID, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now(ctx)
	if err := apply(sub, now); err != nil {
		return nil, err
	}
	sub.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, sub); err != nil {
		return nil, err
	}
	return sub, nil
}
