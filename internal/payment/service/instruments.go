package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/tidewaylabs/tideway/internal/clock"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	paymentdomain "github.com/tidewaylabs/tideway/internal/payment/domain"
	"github.com/tidewaylabs/tideway/internal/payment/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Instruments struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository
}

type InstrumentsParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  repository.Repository
}

func NewInstruments(p InstrumentsParam) paymentdomain.InstrumentService {
	return &Instruments{
		db:    p.DB,
		log:   p.Log.Named("payment.instruments"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Instruments) Attach(ctx context.Context, customerRef, provider, providerRef string, makeDefault bool) (*paymentdomain.Instrument, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}

	customerRef = strings.TrimSpace(customerRef)
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerRef = strings.TrimSpace(providerRef)
	if customerRef == "" || provider == "" || providerRef == "" {
		return nil, paymentdomain.ErrInstrumentNotFound
	}

	now := s.clock.Now(ctx)
	instrument := &paymentdomain.Instrument{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		CustomerRef: customerRef,
		Provider:    provider,
		ProviderRef: providerRef,
		IsDefault:   makeDefault,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The first instrument on file always becomes the default.
	existing, err := s.repo.ListInstruments(ctx, s.db, orgID, customerRef)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		instrument.IsDefault = true
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if instrument.IsDefault {
			if err := s.repo.ClearDefault(ctx, tx, orgID, customerRef); err != nil {
				return err
			}
		}
		return s.repo.InsertInstrument(ctx, tx, instrument)
	})
	if err != nil {
		return nil, err
	}
	return instrument, nil
}

func (s *Instruments) Detach(ctx context.Context, instrumentID string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(instrumentID))
	if err != nil || id == 0 {
		return paymentdomain.ErrInstrumentNotFound
	}
	return s.repo.DeleteInstrument(ctx, s.db, orgID, id)
}

func (s *Instruments) DefaultFor(ctx context.Context, customerRef string) (*paymentdomain.Instrument, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	instrument, err := s.repo.FindDefaultInstrument(ctx, s.db, orgID, strings.TrimSpace(customerRef))
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, paymentdomain.ErrNoInstrumentOnFile
	}
	return instrument, nil
}

func (s *Instruments) ListFor(ctx context.Context, customerRef string) ([]paymentdomain.Instrument, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	return s.repo.ListInstruments(ctx, s.db, orgID, strings.TrimSpace(customerRef))
}
