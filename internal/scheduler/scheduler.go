package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	paymentrepo "github.com/tidewaylabs/tideway/internal/payment/repository"
	reconcilerdomain "github.com/tidewaylabs/tideway/internal/reconciler/domain"
	subscriptiondomain "github.com/tidewaylabs/tideway/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const retryBatchSize = 100

// Scheduler drives the time-based side of the engine: trial
// activation, pause expiry, deferred cancels, period rollovers,
// scheduled payment retries and event ledger retention.
type Scheduler struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	cfg           config.Config
	subscriptions subscriptiondomain.Service
	reconciler    reconcilerdomain.Service
	payments      paymentrepo.Repository

	cron *cron.Cron
}

type Param struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Cfg           config.Config
	Subscriptions subscriptiondomain.Service
	Reconciler    reconcilerdomain.Service
	Payments      paymentrepo.Repository
}

func New(p Param) *Scheduler {
	return &Scheduler{
		db:            p.DB,
		log:           p.Log.Named("scheduler"),
		clock:         p.Clock,
		cfg:           p.Cfg,
		subscriptions: p.Subscriptions,
		reconciler:    p.Reconciler,
		payments:      p.Payments,
	}
}

// Start registers the tick on the configured cron spec and runs the
// loop until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := s.cfg.Scheduler.CronSpec
	if spec == "" {
		spec = "@every 1m"
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, func() {
		s.Tick(context.Background())
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info("scheduler started", zap.String("spec", spec))
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron != nil {
		stopped := s.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped")
	return nil
}

// Tick runs every job once. Jobs are independent; one failing does not
// stop the others.
func (s *Scheduler) Tick(ctx context.Context) {
	s.RunLifecycleSweeps(ctx)
	s.RunPaymentRetries(ctx)
	s.RunEventRetention(ctx)
}

func (s *Scheduler) RunLifecycleSweeps(ctx context.Context) {
	type sweep struct {
		name string
		run  func(context.Context) (int, error)
	}
	sweeps := []sweep{
		{"activate_trials", s.subscriptions.ActivateTrialsDue},
		{"resume_pauses", s.subscriptions.ResumePausesDue},
		{"cancel_at_period_end", s.subscriptions.CancelAtPeriodEndDue},
		{"close_rollovers", s.subscriptions.CloseRolloversDue},
	}
	for _, job := range sweeps {
		count, err := job.run(ctx)
		if err != nil {
			s.log.Error("lifecycle sweep failed", zap.String("job", job.name), zap.Error(err))
			continue
		}
		if count > 0 {
			s.log.Info("lifecycle sweep completed", zap.String("job", job.name), zap.Int("processed", count))
		}
	}
}

// RunPaymentRetries dispatches charges whose dunning retry window has
// arrived. The retry stamp is cleared before charging so a crash
// mid-batch re-schedules instead of double-charging.
func (s *Scheduler) RunPaymentRetries(ctx context.Context) {
	now := s.clock.Now(ctx)
	due, err := s.payments.ListRetriesDue(ctx, s.db, now, retryBatchSize)
	if err != nil {
		s.log.Error("retry scan failed", zap.Error(err))
		return
	}

	for i := range due {
		attempt := &due[i]
		orgCtx := orgcontext.WithOrgID(ctx, attempt.OrgID)

		if err := s.payments.SetNextRetry(orgCtx, s.db, attempt.ID, nil); err != nil {
			s.log.Error("retry stamp clear failed",
				zap.Int64("attempt_id", int64(attempt.ID)), zap.Error(err))
			continue
		}

		result, err := s.subscriptions.CollectInvoice(orgCtx, attempt.InvoiceID.String())
		if err != nil {
			s.log.Warn("scheduled retry failed",
				zap.Int64("invoice_id", int64(attempt.InvoiceID)), zap.Error(err))
			continue
		}
		s.log.Info("scheduled retry completed",
			zap.Int64("invoice_id", int64(attempt.InvoiceID)),
			zap.String("outcome", result.ChargeOutcome),
			zap.String("dunning_action", result.DunningAction))
	}
}

func (s *Scheduler) RunEventRetention(ctx context.Context) {
	retentionDays := s.cfg.Billing.EventRetention
	if retentionDays <= 0 {
		return
	}
	cutoff := s.clock.Now(ctx).AddDate(0, 0, -retentionDays)
	if _, err := s.reconciler.PurgeEventsBefore(ctx, cutoff); err != nil {
		s.log.Error("event retention failed", zap.Error(err))
	}
}
