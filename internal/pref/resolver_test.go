package pref

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordo-ai/accordo/internal/model"
	"github.com/accordo-ai/accordo/internal/testutil"
)

type stubTemplates struct {
	templates map[uuid.UUID]model.NegotiationConfig
}

func (s *stubTemplates) GetTemplate(_ context.Context, id uuid.UUID) (model.NegotiationConfig, error) {
	tpl, ok := s.templates[id]
	if !ok {
		return model.NegotiationConfig{}, model.ErrConfigInvalid
	}
	return tpl, nil
}

type stubProfiles struct {
	profiles map[uuid.UUID]model.VendorNegotiationProfile
}

func (s *stubProfiles) GetProfile(_ context.Context, vendorID uuid.UUID) (model.VendorNegotiationProfile, error) {
	p, ok := s.profiles[vendorID]
	if !ok {
		return model.VendorNegotiationProfile{}, model.ErrProfileNotFound
	}
	return p, nil
}

func validTemplate() model.NegotiationConfig {
	return model.NegotiationConfig{
		Batna:              decimal.NewFromInt(1000),
		MaxAcceptablePrice: decimal.NewFromInt(1300),
		MinAcceptablePrice: decimal.NewFromInt(700),
		Weights: map[string]float64{
			model.AttrPrice:        0.5,
			model.AttrPaymentTerms: 0.3,
			model.AttrDelivery:     0.2,
		},
		Constraints: model.Constraints{
			Payment: model.PaymentConstraint{MinDays: 15, MaxDays: 60, PreferredDays: 45},
			Delivery: model.DeliveryConstraint{
				RequiredDate: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
				MaxSlipDays:  14,
			},
		},
		AcceptThreshold:   0.85,
		EscalateThreshold: 0.55,
		WalkAwayThreshold: 0.30,
		MaxRounds:         6,
		Beta:              1.4,
		MesoVariance:      0.02,
		MesoRounds:        []int{2, 4},
		StalledEpsilon:    0.02,
	}
}

func newTestResolver(templates *stubTemplates, profiles *stubProfiles) *Resolver {
	var ts TemplateSource
	var ps ProfileSource
	if templates != nil {
		ts = templates
	}
	if profiles != nil {
		ps = profiles
	}
	return NewResolver(ts, ps, testutil.TestLogger())
}

func strPtr(s string) *string { return &s }

func f64Ptr(f float64) *float64 { return &f }

func TestResolveFromTemplate(t *testing.T) {
	tplID := uuid.New()
	r := newTestResolver(&stubTemplates{
		templates: map[uuid.UUID]model.NegotiationConfig{tplID: validTemplate()},
	}, nil)

	dealID := uuid.New()
	cfg, err := r.Resolve(context.Background(), dealID, uuid.New(), &tplID, nil)
	require.NoError(t, err)

	assert.Equal(t, dealID, cfg.DealID)
	assert.NotEqual(t, uuid.Nil, cfg.ID)
	assert.True(t, cfg.Batna.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 0.85, cfg.AcceptThreshold)
}

func TestResolveOverrideMergesOverTemplate(t *testing.T) {
	tplID := uuid.New()
	r := newTestResolver(&stubTemplates{
		templates: map[uuid.UUID]model.NegotiationConfig{tplID: validTemplate()},
	}, nil)

	override := &model.ConfigOverride{
		Batna:           strPtr("900"),
		AcceptThreshold: f64Ptr(0.80),
	}
	cfg, err := r.Resolve(context.Background(), uuid.New(), uuid.New(), &tplID, override)
	require.NoError(t, err)

	// Overridden fields win; absent fields keep the template value.
	assert.True(t, cfg.Batna.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, 0.80, cfg.AcceptThreshold)
	assert.True(t, cfg.MaxAcceptablePrice.Equal(decimal.NewFromInt(1300)))
	assert.Equal(t, 6, cfg.MaxRounds)
}

func TestResolveUnparsableMoney(t *testing.T) {
	tplID := uuid.New()
	r := newTestResolver(&stubTemplates{
		templates: map[uuid.UUID]model.NegotiationConfig{tplID: validTemplate()},
	}, nil)

	_, err := r.Resolve(context.Background(), uuid.New(), uuid.New(), &tplID, &model.ConfigOverride{
		Batna: strPtr("not-a-number"),
	})
	require.ErrorIs(t, err, model.ErrConfigInvalid)
}

func TestResolveCachesPerDeal(t *testing.T) {
	tplID := uuid.New()
	templates := &stubTemplates{
		templates: map[uuid.UUID]model.NegotiationConfig{tplID: validTemplate()},
	}
	r := newTestResolver(templates, nil)

	dealID := uuid.New()
	first, err := r.Resolve(context.Background(), dealID, uuid.New(), &tplID, nil)
	require.NoError(t, err)

	// Mutating the template after resolution must not change the snapshot.
	tpl := validTemplate()
	tpl.AcceptThreshold = 0.99
	tpl.EscalateThreshold = 0.90
	templates.templates[tplID] = tpl

	second, err := r.Resolve(context.Background(), dealID, uuid.New(), &tplID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.AcceptThreshold, second.AcceptThreshold)

	// Eviction forces a re-resolve.
	r.Evict(dealID)
	third, err := r.Resolve(context.Background(), dealID, uuid.New(), &tplID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, 0.99, third.AcceptThreshold)
}

func TestCacheAndCached(t *testing.T) {
	r := newTestResolver(nil, nil)

	cfg := validTemplate()
	cfg.ID = uuid.New()
	cfg.DealID = uuid.New()

	_, ok := r.Cached(cfg.DealID)
	assert.False(t, ok)

	r.Cache(cfg)
	got, ok := r.Cached(cfg.DealID)
	require.True(t, ok)
	assert.Equal(t, cfg.ID, got.ID)
}

func TestResolveAggressiveVendorBias(t *testing.T) {
	tplID := uuid.New()
	vendorID := uuid.New()
	templates := &stubTemplates{
		templates: map[uuid.UUID]model.NegotiationConfig{tplID: validTemplate()},
	}
	profiles := &stubProfiles{
		profiles: map[uuid.UUID]model.VendorNegotiationProfile{
			vendorID: {
				VendorID:         vendorID,
				NegotiationStyle: model.StyleAggressive,
				StyleConfidence:  0.8,
			},
		},
	}
	r := newTestResolver(templates, profiles)

	cfg, err := r.Resolve(context.Background(), uuid.New(), vendorID, &tplID, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.82, cfg.AcceptThreshold, 1e-9)

	// Low confidence: no bias.
	lowConf := uuid.New()
	profiles.profiles[lowConf] = model.VendorNegotiationProfile{
		VendorID:         lowConf,
		NegotiationStyle: model.StyleAggressive,
		StyleConfidence:  0.4,
	}
	cfg, err = r.Resolve(context.Background(), uuid.New(), lowConf, &tplID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.AcceptThreshold)

	// Unknown vendor: profile miss is advisory, resolution succeeds unbiased.
	cfg, err = r.Resolve(context.Background(), uuid.New(), uuid.New(), &tplID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.AcceptThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.NegotiationConfig)
		wantErr bool
	}{
		{"valid config", func(c *model.NegotiationConfig) {}, false},
		{"negative weight", func(c *model.NegotiationConfig) {
			c.Weights[model.AttrPrice] = -0.1
			c.Weights[model.AttrPaymentTerms] = 0.9
		}, true},
		{"unknown attribute", func(c *model.NegotiationConfig) {
			c.Weights = map[string]float64{model.AttrPrice: 0.5, "warranty": 0.5}
		}, true},
		{"weights sum below one", func(c *model.NegotiationConfig) {
			c.Weights = map[string]float64{
				model.AttrPrice:        0.3,
				model.AttrPaymentTerms: 0.3,
				model.AttrDelivery:     0.2,
			}
		}, true},
		{"weight sum within tolerance", func(c *model.NegotiationConfig) {
			c.Weights = map[string]float64{
				model.AttrPrice:        0.50049,
				model.AttrPaymentTerms: 0.3,
				model.AttrDelivery:     0.2,
			}
		}, false},
		{"payment range inverted", func(c *model.NegotiationConfig) {
			c.Constraints.Payment = model.PaymentConstraint{MinDays: 60, MaxDays: 30, PreferredDays: 45}
		}, true},
		{"preferred outside payment range", func(c *model.NegotiationConfig) {
			c.Constraints.Payment = model.PaymentConstraint{MinDays: 15, MaxDays: 30, PreferredDays: 45}
		}, true},
		{"negative slip days", func(c *model.NegotiationConfig) {
			c.Constraints.Delivery.MaxSlipDays = -1
		}, true},
		{"thresholds out of order", func(c *model.NegotiationConfig) {
			c.AcceptThreshold = 0.5
			c.EscalateThreshold = 0.6
		}, true},
		{"threshold equality rejected", func(c *model.NegotiationConfig) {
			c.EscalateThreshold = c.AcceptThreshold
		}, true},
		{"batna above max acceptable", func(c *model.NegotiationConfig) {
			c.Batna = decimal.NewFromInt(2000)
		}, true},
		{"batna below min acceptable", func(c *model.NegotiationConfig) {
			c.Batna = decimal.NewFromInt(100)
		}, true},
		{"zero max rounds", func(c *model.NegotiationConfig) {
			c.MaxRounds = 0
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTemplate()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr {
				require.ErrorIs(t, err, model.ErrConfigInvalid)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDefaultsAreInternallyConsistent(t *testing.T) {
	d := Defaults()
	var sum float64
	for _, w := range d.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Less(t, d.WalkAwayThreshold, d.EscalateThreshold)
	assert.Less(t, d.EscalateThreshold, d.AcceptThreshold)
	assert.Positive(t, d.MaxRounds)
}
