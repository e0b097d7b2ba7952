package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/tidewaylabs/tideway/internal/catalog/domain"
	"github.com/tidewaylabs/tideway/internal/catalog/repository"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  repository.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreatePlanRequest) (*domain.Plan, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidPlan
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = name
	}
	code = slug.Make(code)

	interval, err := parseInterval(req.Interval)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, domain.ErrInvalidCurrency
	}
	if req.BasePrice < 0 || req.TrialDays < 0 {
		return nil, domain.ErrInvalidPlan
	}

	now := s.clock.Now(ctx)
	plan := domain.Plan{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Code:      code,
		Name:      name,
		BasePrice: req.BasePrice,
		Currency:  currency,
		Interval:  interval,
		TrialDays: req.TrialDays,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	seen := make(map[string]struct{}, len(req.Features))
	features := make([]domain.PlanFeature, 0, len(req.Features))
	for _, f := range req.Features {
		fc := slug.Make(strings.TrimSpace(f.FeatureCode))
		if fc == "" {
			return nil, domain.ErrInvalidPlan
		}
		if _, dup := seen[fc]; dup {
			return nil, domain.ErrDuplicateFeature
		}
		seen[fc] = struct{}{}
		if f.IncludedUnits < 0 || f.OverageRate < 0 {
			return nil, domain.ErrInvalidPlan
		}
		features = append(features, domain.PlanFeature{
			ID:            s.genID.Generate(),
			OrgID:         orgID,
			PlanID:        plan.ID,
			FeatureCode:   fc,
			IncludedUnits: f.IncludedUnits,
			OverageRate:   f.OverageRate,
			CreatedAt:     now,
		})
	}

	if err := s.repo.Insert(ctx, s.db, &plan, features); err != nil {
		return nil, err
	}
	plan.Features = features
	return &plan, nil
}

func (s *Service) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	planID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || planID == 0 {
		return nil, domain.ErrInvalidPlan
	}

	plan, err := s.repo.FindByID(ctx, s.db, orgID, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) GetPlanByCode(ctx context.Context, code string) (*domain.Plan, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}

	code = slug.Make(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrInvalidPlan
	}

	plan, err := s.repo.FindByCode(ctx, s.db, orgID, code)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Plan, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.List(ctx, s.db, orgID)
}

func parseInterval(value string) (domain.BillingInterval, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "monthly":
		return domain.IntervalMonthly, nil
	case "weekly":
		return domain.IntervalWeekly, nil
	case "daily":
		return domain.IntervalDaily, nil
	default:
		return "", domain.ErrInvalidInterval
	}
}
