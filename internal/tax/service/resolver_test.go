package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/tidewaylabs/tideway/internal/orgcontext"
	"github.com/tidewaylabs/tideway/internal/tax/domain"
	"github.com/tidewaylabs/tideway/internal/tax/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newResolver(t *testing.T) (domain.Resolver, *gorm.DB, context.Context) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&domain.TaxRate{}))

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)
	orgID := node.Generate()

	resolver := NewResolver(ResolverParam{
		DB:   db,
		Log:  zap.NewNop(),
		Repo: repository.NewRepository(),
	})

	seed := []domain.TaxRate{
		{ID: node.Generate(), OrgID: orgID, Jurisdiction: "US", Name: "Sales Tax", Percentage: 8.5, Active: true},
		{ID: node.Generate(), OrgID: orgID, Jurisdiction: "US", Name: "County Tax", Percentage: 1.0, Active: true},
		{ID: node.Generate(), OrgID: orgID, Jurisdiction: "US", Name: "Legacy", Percentage: 3.0, Active: false},
		{ID: node.Generate(), OrgID: orgID, Jurisdiction: "DE", Name: "VAT", Percentage: 19.0, Active: true},
	}
	assert.NoError(t, db.Create(&seed).Error)

	return resolver, db, orgcontext.WithOrgID(context.Background(), orgID)
}

func TestLookupRatesActiveOnly(t *testing.T) {
	resolver, _, ctx := newResolver(t)

	rates, err := resolver.LookupRates(ctx, "us")
	assert.NoError(t, err)
	assert.Len(t, rates, 2)
	names := []string{rates[0].Name, rates[1].Name}
	assert.Contains(t, names, "Sales Tax")
	assert.Contains(t, names, "County Tax")
}

func TestLookupRatesUnknownJurisdictionIsEmpty(t *testing.T) {
	resolver, _, ctx := newResolver(t)

	rates, err := resolver.LookupRates(ctx, "FR")
	assert.NoError(t, err)
	assert.Empty(t, rates)
}

func TestLookupRatesRejectsBlankJurisdiction(t *testing.T) {
	resolver, _, ctx := newResolver(t)

	_, err := resolver.LookupRates(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidJurisdiction)
}

func TestRateApplyRoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		rate   float64
		amount int64
		want   int64
	}{
		{10, 1000, 100},
		{8.5, 999, 85},  // 84.915 rounds up
		{1.0, 49, 0},    // 0.49 rounds down
		{1.0, 50, 1},    // 0.50 rounds up
		{10, -1000, -100},
		{0, 1000, 0},
	}
	for _, tc := range cases {
		rate := domain.Rate{Name: "t", Percentage: tc.rate}
		assert.Equal(t, tc.want, rate.Apply(tc.amount), "%v%% of %d", tc.rate, tc.amount)
	}
}
