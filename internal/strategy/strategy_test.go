package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordo-ai/accordo/internal/model"
	"github.com/accordo-ai/accordo/internal/scoring"
)

func testConfig() model.NegotiationConfig {
	return model.NegotiationConfig{
		Batna:              decimal.NewFromInt(100),
		MaxAcceptablePrice: decimal.NewFromInt(130),
		Weights: map[string]float64{
			model.AttrPrice:        0.6,
			model.AttrPaymentTerms: 0.25,
			model.AttrDelivery:     0.15,
		},
		Constraints: model.Constraints{
			Payment: model.PaymentConstraint{
				MinDays:       15,
				MaxDays:       60,
				PreferredDays: 45,
			},
			Delivery: model.DeliveryConstraint{
				RequiredDate: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
				MaxSlipDays:  14,
			},
		},
		AcceptThreshold:   0.75,
		EscalateThreshold: 0.40,
		WalkAwayThreshold: 0.25,
		MaxRounds:         8,
		Beta:              1.0,
	}
}

func TestTargetUtilityEndpoints(t *testing.T) {
	cfg := testConfig()

	// Round 0 targets the accept threshold; the final round targets walk-away.
	assert.InDelta(t, cfg.AcceptThreshold, TargetUtility(cfg, 0), 1e-9)
	assert.InDelta(t, cfg.WalkAwayThreshold, TargetUtility(cfg, cfg.MaxRounds), 1e-9)

	// Past the final round the target stays clamped at walk-away.
	assert.InDelta(t, cfg.WalkAwayThreshold, TargetUtility(cfg, cfg.MaxRounds+5), 1e-9)
	// Negative rounds clamp to the start.
	assert.InDelta(t, cfg.AcceptThreshold, TargetUtility(cfg, -1), 1e-9)
}

func TestTargetUtilityLinear(t *testing.T) {
	cfg := testConfig()
	cfg.Beta = 1.0

	// Halfway through with beta=1, the target is halfway down the band.
	mid := cfg.AcceptThreshold - (cfg.AcceptThreshold-cfg.WalkAwayThreshold)*0.5
	assert.InDelta(t, mid, TargetUtility(cfg, 4), 1e-9)
}

func TestTargetUtilityBoulware(t *testing.T) {
	cfg := testConfig()

	// beta > 1 concedes slower in early rounds than beta = 1.
	cfg.Beta = 3.0
	firm := TargetUtility(cfg, 2)
	cfg.Beta = 1.0
	linear := TargetUtility(cfg, 2)
	assert.Greater(t, firm, linear, "Boulware curve must hold a higher target early")

	// beta < 1 concedes faster early.
	cfg.Beta = 0.5
	eager := TargetUtility(cfg, 2)
	assert.Less(t, eager, linear)
}

func TestTargetUtilityMonotonicNonIncreasing(t *testing.T) {
	for _, beta := range []float64{0.5, 1.0, 2.0, 5.0} {
		cfg := testConfig()
		cfg.Beta = beta
		prev := TargetUtility(cfg, 0)
		for r := 1; r <= cfg.MaxRounds; r++ {
			cur := TargetUtility(cfg, r)
			require.LessOrEqual(t, cur, prev, "beta=%v round=%d", beta, r)
			prev = cur
		}
	}
}

func TestTargetUtilityInvalidInputs(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 0
	assert.Equal(t, cfg.AcceptThreshold, TargetUtility(cfg, 3))

	cfg = testConfig()
	cfg.Beta = 0 // treated as 1
	assert.InDelta(t, TargetUtility(testConfig(), 4), TargetUtility(cfg, 4), 1e-9)
}

func TestAllocateScoresTargetMet(t *testing.T) {
	cfg := testConfig()
	for _, target := range []float64{1.0, 0.85, 0.6, 0.4, 0.25, 0.0} {
		scores := AllocateScores(cfg.Weights, target)
		var total float64
		for a, w := range cfg.Weights {
			total += w * scores[a]
		}
		assert.InDelta(t, target, total, 1e-9, "target %v", target)
	}
}

func TestAllocateScoresConcedesCheapestFirst(t *testing.T) {
	cfg := testConfig()

	// A small deficit comes entirely out of delivery (lowest weight 0.15).
	scores := AllocateScores(cfg.Weights, 0.90)
	assert.Equal(t, 1.0, scores[model.AttrPrice])
	assert.Equal(t, 1.0, scores[model.AttrPaymentTerms])
	assert.InDelta(t, 1.0-0.10/0.15, scores[model.AttrDelivery], 1e-9)

	// A bigger deficit zeroes delivery then eats into payment terms; price is
	// held firm as long as possible.
	scores = AllocateScores(cfg.Weights, 0.70)
	assert.Equal(t, 1.0, scores[model.AttrPrice])
	assert.Equal(t, 0.0, scores[model.AttrDelivery])
	assert.InDelta(t, 1.0-0.15/0.25, scores[model.AttrPaymentTerms], 1e-9)
}

func TestAllocateScoresDeterministicOnTies(t *testing.T) {
	weights := map[string]float64{
		model.AttrPaymentTerms: 0.5,
		model.AttrDelivery:     0.5,
	}
	first := AllocateScores(weights, 0.7)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, AllocateScores(weights, 0.7))
	}
	// Tie broken by name: "delivery" < "payment_terms", so delivery concedes.
	assert.Equal(t, 1.0, first[model.AttrPaymentTerms])
	assert.InDelta(t, 1.0-0.3/0.5, first[model.AttrDelivery], 1e-9)
}

func TestPriceForScore(t *testing.T) {
	cfg := testConfig()

	assert.True(t, PriceForScore(1.0, cfg).Equal(decimal.NewFromInt(100)))
	assert.True(t, PriceForScore(0.0, cfg).Equal(decimal.NewFromInt(130)))
	assert.True(t, PriceForScore(0.5, cfg).Equal(decimal.NewFromInt(115)))
}

func TestPriceForScoreRoundTrip(t *testing.T) {
	cfg := testConfig()
	for _, s := range []float64{0.0, 0.25, 0.5, 0.8, 1.0} {
		price := PriceForScore(s, cfg)
		// Cent rounding may move the realized score a hair.
		assert.InDelta(t, s, scoring.PriceScore(price, cfg), 0.001, "score %v", s)
	}
}

func TestPaymentDaysForScore(t *testing.T) {
	c := model.PaymentConstraint{MinDays: 15, MaxDays: 60, PreferredDays: 45}

	// Toward the max edge.
	assert.Equal(t, 45, PaymentDaysForScore(1.0, c, 1))
	assert.Equal(t, 60, PaymentDaysForScore(0.0, c, 1))
	// Toward the min edge.
	assert.Equal(t, 45, PaymentDaysForScore(1.0, c, -1))
	assert.Equal(t, 15, PaymentDaysForScore(0.0, c, -1))

	// Realized score matches the requested score.
	for _, s := range []float64{0.0, 0.5, 1.0} {
		days := PaymentDaysForScore(s, c, 1)
		assert.InDelta(t, s, scoring.PaymentScore(days, c), 0.05)
	}
}

func TestDeliveryDateForScore(t *testing.T) {
	c := model.DeliveryConstraint{
		RequiredDate: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		MaxSlipDays:  14,
	}

	assert.True(t, DeliveryDateForScore(1.0, c).Equal(c.RequiredDate))
	assert.True(t, DeliveryDateForScore(0.0, c).Equal(c.RequiredDate.AddDate(0, 0, 14)))

	mid := DeliveryDateForScore(0.5, c)
	assert.InDelta(t, 0.5, scoring.DeliveryScore(mid, c), 0.01)
}

func TestBuildCounterHitsTarget(t *testing.T) {
	cfg := testConfig()
	for r := 1; r <= cfg.MaxRounds; r++ {
		offer, target := BuildCounter(cfg, r, nil)
		require.NotNil(t, offer.Price)
		require.NotNil(t, offer.PaymentTermDays)
		require.NotNil(t, offer.DeliveryDate)

		// Rounding to cents / whole days / whole hours shifts the realized
		// utility slightly off the analytic target.
		got := scoring.Score(offer, cfg)
		assert.InDelta(t, target, got, 0.02, "round %d", r)
	}
}

func TestBuildCounterPaymentFollowsVendorSide(t *testing.T) {
	cfg := testConfig()

	// Vendor asked for shorter terms than preferred: concession moves toward
	// the min edge.
	short := 20
	vendor := &model.Offer{PaymentTermDays: &short}
	offer, _ := BuildCounter(cfg, cfg.MaxRounds, vendor)
	require.NotNil(t, offer.PaymentTermDays)
	assert.LessOrEqual(t, *offer.PaymentTermDays, cfg.Constraints.Payment.PreferredDays)

	// No vendor signal: default toward longer terms.
	offer, _ = BuildCounter(cfg, cfg.MaxRounds, nil)
	require.NotNil(t, offer.PaymentTermDays)
	assert.GreaterOrEqual(t, *offer.PaymentTermDays, cfg.Constraints.Payment.PreferredDays)
}
