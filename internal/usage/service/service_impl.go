package service

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	catalogdomain "github.com/tidewaylabs/tideway/internal/catalog/domain"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/config"
	notificationdomain "github.com/tidewaylabs/tideway/internal/notification/domain"
	"github.com/tidewaylabs/tideway/internal/observability"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	quotadomain "github.com/tidewaylabs/tideway/internal/quota/domain"
	usagedomain "github.com/tidewaylabs/tideway/internal/usage/domain"
	"github.com/tidewaylabs/tideway/internal/usage/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    repository.Repository
	bands   usagedomain.Bands
	catalog catalogdomain.Service
	quota   quotadomain.Service
	notify  notificationdomain.Requester
	metrics *observability.Metrics
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
	Quota   quotadomain.Service `optional:"true"`
	Notify  notificationdomain.Requester
	Metrics *observability.Metrics `optional:"true"`
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		bands:   bandsFromConfig(p.Cfg.Billing.ThresholdBands),
		catalog: p.Catalog,
		quota:   p.Quota,
		notify:  p.Notify,
		metrics: p.Metrics,
	}
}

func bandsFromConfig(cfg []config.ThresholdBand) usagedomain.Bands {
	if len(cfg) == 0 {
		return usagedomain.DefaultBands()
	}
	bands := make(usagedomain.Bands, 0, len(cfg))
	for _, b := range cfg {
		bands = append(bands, usagedomain.ThresholdBand{
			Level:      usagedomain.ThresholdLevel(strings.ToUpper(strings.TrimSpace(b.Level))),
			MinPercent: b.MinPercent,
		})
	}
	return bands
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}

	if req.Quantity < 0 {
		return nil, usagedomain.ErrInvalidQuantity
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		return nil, usagedomain.ErrInvalidIdempotencyKey
	}

	subscriptionID, err := parseID(req.SubscriptionID)
	if err != nil {
		return nil, usagedomain.ErrInvalidSubscription
	}

	if existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, orgID, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	if s.quota != nil {
		if err := s.quota.CanIngestUsage(ctx, orgID); err != nil {
			return nil, err
		}
	}

	sub, err := s.repo.FindSubscriptionRow(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, usagedomain.ErrInvalidSubscription
	}

	plan, err := s.catalog.GetPlan(ctx, sub.PlanID.String())
	if err != nil {
		return nil, err
	}

	featureCode := strings.TrimSpace(req.FeatureCode)
	feature, entitled := plan.Feature(featureCode)
	if !entitled {
		return nil, usagedomain.ErrUnknownFeature
	}

	now := s.clock.Now(ctx)
	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = now
	}
	recordedAt = recordedAt.UTC()

	// Usage for an already-closed period is rejected rather than
	// silently merged into the current one.
	if recordedAt.Before(sub.CurrentPeriodStart) {
		return nil, usagedomain.ErrPeriodClosed
	}

	record := &usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		PublicID:       newPublicID(recordedAt),
		OrgID:          orgID,
		SubscriptionID: subscriptionID,
		FeatureCode:    featureCode,
		Quantity:       req.Quantity,
		RecordedAt:     recordedAt,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
	}

	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		if existing, findErr := s.repo.FindByIdempotencyKey(ctx, s.db, orgID, idempotencyKey); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.UsageIngested.Inc()
	}

	s.notifyThreshold(ctx, sub, plan, feature, record)

	return record, nil
}

func (s *Service) notifyThreshold(
	ctx context.Context,
	sub *repository.SubscriptionRow,
	plan *catalogdomain.Plan,
	feature catalogdomain.PlanFeature,
	record *usagedomain.UsageRecord,
) {
	consumed, err := s.repo.SumQuantity(ctx, s.db, record.OrgID, record.SubscriptionID, record.FeatureCode, sub.CurrentPeriodStart, sub.CurrentPeriodEnd)
	if err != nil {
		s.log.Warn("threshold check failed", zap.Error(err))
		return
	}

	level := s.bands.Classify(consumed, feature.IncludedUnits)
	if level != usagedomain.ThresholdCritical && level != usagedomain.ThresholdExceeded {
		return
	}

	// Only notify on the record that crossed the band boundary.
	before := s.bands.Classify(consumed-record.Quantity, feature.IncludedUnits)
	if before == level {
		return
	}

	s.notify.Request(ctx, notificationdomain.Notification{
		UserRef:  sub.CustomerRef,
		Template: notificationdomain.TemplateUsageThreshold,
		Channel:  notificationdomain.ChannelInApp,
		Data: map[string]any{
			"feature_code":   record.FeatureCode,
			"level":          string(level),
			"consumed":       consumed,
			"included_units": feature.IncludedUnits,
			"plan_code":      plan.Code,
		},
	})
}

func (s *Service) Consumption(ctx context.Context, req usagedomain.ConsumptionRequest) (int64, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, usagedomain.ErrInvalidOrganization
	}

	subscriptionID, err := parseID(req.SubscriptionID)
	if err != nil {
		return 0, usagedomain.ErrInvalidSubscription
	}

	featureCode := strings.TrimSpace(req.FeatureCode)
	if featureCode == "" {
		return 0, usagedomain.ErrUnknownFeature
	}

	return s.repo.SumQuantity(ctx, s.db, orgID, subscriptionID, featureCode, req.PeriodStart, req.PeriodEnd)
}

func (s *Service) Summary(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) ([]usagedomain.FeatureConsumption, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}

	subID, err := parseID(subscriptionID)
	if err != nil {
		return nil, usagedomain.ErrInvalidSubscription
	}

	sub, err := s.repo.FindSubscriptionRow(ctx, s.db, orgID, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, usagedomain.ErrInvalidSubscription
	}

	plan, err := s.catalog.GetPlan(ctx, sub.PlanID.String())
	if err != nil {
		return nil, err
	}

	summaries := make([]usagedomain.FeatureConsumption, 0, len(plan.Features))
	for _, feature := range plan.Features {
		consumed, err := s.repo.SumQuantity(ctx, s.db, orgID, subID, feature.FeatureCode, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, usagedomain.FeatureConsumption{
			FeatureCode:   feature.FeatureCode,
			Consumed:      consumed,
			IncludedUnits: feature.IncludedUnits,
			OverageUnits:  usagedomain.ComputeOverage(consumed, feature.IncludedUnits),
			OverageRate:   feature.OverageRate,
			Level:         s.bands.Classify(consumed, feature.IncludedUnits),
		})
	}
	return summaries, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, usagedomain.ErrInvalidSubscription
	}
	return id, nil
}

func newPublicID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return "usg_" + ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
