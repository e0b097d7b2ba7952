package service

import (
	"context"
	"strings"

	"github.com/tidewaylabs/tideway/internal/orgcontext"
	"github.com/tidewaylabs/tideway/internal/tax/domain"
	"github.com/tidewaylabs/tideway/internal/tax/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Resolver struct {
	db   *gorm.DB
	log  *zap.Logger
	repo repository.Repository
}

type ResolverParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo repository.Repository
}

func NewResolver(p ResolverParam) domain.Resolver {
	return &Resolver{
		db:   p.DB,
		log:  p.Log.Named("tax.resolver"),
		repo: p.Repo,
	}
}

// LookupRates is read-only; an unknown jurisdiction yields no rates,
// which callers treat as zero tax.
func (r *Resolver) LookupRates(ctx context.Context, jurisdiction string) ([]domain.Rate, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidJurisdiction
	}

	jurisdiction = strings.ToUpper(strings.TrimSpace(jurisdiction))
	if jurisdiction == "" {
		return nil, domain.ErrInvalidJurisdiction
	}

	rows, err := r.repo.ListActive(ctx, r.db, orgID, jurisdiction)
	if err != nil {
		return nil, err
	}

	rates := make([]domain.Rate, 0, len(rows))
	for _, row := range rows {
		rates = append(rates, domain.Rate{Name: row.Name, Percentage: row.Percentage})
	}
	return rates, nil
}
