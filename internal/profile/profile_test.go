package profile

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordo-ai/accordo/internal/model"
)

func sample(outcome model.DealStatus, rounds int, utility, concession float64) ClosureSample {
	return ClosureSample{
		DealID:         uuid.New(),
		VendorID:       uuid.New(),
		Outcome:        outcome,
		Rounds:         rounds,
		FinalUtility:   utility,
		ConcessionRate: concession,
	}
}

func TestApplyCounters(t *testing.T) {
	var p model.VendorNegotiationProfile

	p = Apply(p, sample(model.DealAccepted, 3, 0.8, 0.1))
	p = Apply(p, sample(model.DealAccepted, 5, 0.7, 0.12))
	p = Apply(p, sample(model.DealWalkedAway, 6, 0.2, 0.02))
	p = Apply(p, sample(model.DealEscalated, 8, 0.4, 0.03))

	assert.Equal(t, 4, p.TotalDeals)
	assert.Equal(t, 2, p.AcceptedDeals)
	assert.Equal(t, 1, p.WalkedAwayDeals)
	assert.Equal(t, 1, p.EscalatedDeals)
}

func TestApplyIncrementalAverageMatchesBatch(t *testing.T) {
	samples := []ClosureSample{
		sample(model.DealAccepted, 3, 0.82, 0.11),
		sample(model.DealAccepted, 5, 0.71, 0.16),
		sample(model.DealWalkedAway, 7, 0.22, 0.01),
		sample(model.DealAccepted, 2, 0.91, 0.20),
		sample(model.DealEscalated, 8, 0.45, 0.04),
	}

	var p model.VendorNegotiationProfile
	var sumConc, sumRounds, sumUtil float64
	for _, s := range samples {
		p = Apply(p, s)
		sumConc += s.ConcessionRate
		sumRounds += float64(s.Rounds)
		sumUtil += s.FinalUtility
	}

	n := float64(len(samples))
	assert.InDelta(t, sumConc/n, p.AvgConcessionRate, 1e-9)
	assert.InDelta(t, sumRounds/n, p.AvgRoundsToClose, 1e-9)
	assert.InDelta(t, sumUtil/n, p.AvgFinalUtility, 1e-9)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		profile model.VendorNegotiationProfile
		want    model.NegotiationStyle
	}{
		{
			"no data is unknown",
			model.VendorNegotiationProfile{},
			model.StyleUnknown,
		},
		{
			"low concession long deals is aggressive",
			model.VendorNegotiationProfile{
				TotalDeals:        10,
				AcceptedDeals:     3,
				AvgConcessionRate: 0.02,
				AvgRoundsToClose:  6.0,
			},
			model.StyleAggressive,
		},
		{
			"high concession high acceptance is collaborative",
			model.VendorNegotiationProfile{
				TotalDeals:        10,
				AcceptedDeals:     8,
				AvgConcessionRate: 0.20,
				AvgRoundsToClose:  3.0,
			},
			model.StyleCollaborative,
		},
		{
			"quick high-utility closes are passive",
			model.VendorNegotiationProfile{
				TotalDeals:        10,
				AcceptedDeals:     8,
				AvgConcessionRate: 0.10,
				AvgRoundsToClose:  1.5,
				AvgFinalUtility:   0.85,
			},
			model.StylePassive,
		},
		{
			"mixed behavior is unknown",
			model.VendorNegotiationProfile{
				TotalDeals:        10,
				AcceptedDeals:     4,
				AvgConcessionRate: 0.08,
				AvgRoundsToClose:  3.0,
				AvgFinalUtility:   0.5,
			},
			model.StyleUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			style, _ := Classify(tt.profile)
			assert.Equal(t, tt.want, style)
		})
	}
}

func TestClassifyConfidenceGrowsWithDeals(t *testing.T) {
	prev := -1.0
	for _, n := range []int{1, 2, 5, 10, 50} {
		_, conf := Classify(model.VendorNegotiationProfile{TotalDeals: n})
		require.Greater(t, conf, prev, "n=%d", n)
		require.Less(t, conf, 1.0)
		prev = conf
	}
}

func decPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func roundWithPrice(price string) model.NegotiationRound {
	return model.NegotiationRound{
		VendorOffer: &model.Offer{Price: decPtr(price)},
	}
}

func TestConcessionRate(t *testing.T) {
	// 1000 → 900 over two steps: 10% total drop, 5% per step.
	rounds := []model.NegotiationRound{
		roundWithPrice("1000"),
		roundWithPrice("950"),
		roundWithPrice("900"),
	}
	assert.InDelta(t, 0.05, ConcessionRate(rounds), 1e-9)
}

func TestConcessionRateEdgeCases(t *testing.T) {
	// No priced offers.
	assert.Equal(t, 0.0, ConcessionRate(nil))
	assert.Equal(t, 0.0, ConcessionRate([]model.NegotiationRound{{}}))

	// Single priced offer: no movement observable.
	assert.Equal(t, 0.0, ConcessionRate([]model.NegotiationRound{roundWithPrice("1000")}))

	// Price went up: clamped at zero, not negative.
	rounds := []model.NegotiationRound{roundWithPrice("1000"), roundWithPrice("1100")}
	assert.Equal(t, 0.0, ConcessionRate(rounds))

	// Zero first price guards the division.
	rounds = []model.NegotiationRound{roundWithPrice("0"), roundWithPrice("100")}
	assert.Equal(t, 0.0, ConcessionRate(rounds))

	// Unpriced rounds in the middle are skipped, not treated as zero.
	rounds = []model.NegotiationRound{
		roundWithPrice("1000"),
		{},
		roundWithPrice("900"),
	}
	assert.InDelta(t, 0.1, ConcessionRate(rounds), 1e-9)
}

func TestLiveSignalLeavesAggregatesUntouched(t *testing.T) {
	p := model.VendorNegotiationProfile{
		TotalDeals:        10,
		AcceptedDeals:     3,
		AvgConcessionRate: 0.02,
		AvgRoundsToClose:  6.0,
		AvgFinalUtility:   0.5,
	}

	got := LiveSignal(p, 0.01)

	assert.Equal(t, p.TotalDeals, got.TotalDeals)
	assert.Equal(t, p.AvgConcessionRate, got.AvgConcessionRate)
	assert.Equal(t, p.AvgRoundsToClose, got.AvgRoundsToClose)
	assert.Equal(t, p.AvgFinalUtility, got.AvgFinalUtility)

	// This vendor still looks aggressive with the live observation folded in.
	assert.Equal(t, model.StyleAggressive, got.NegotiationStyle)
}

func TestLiveSignalConfidenceCapped(t *testing.T) {
	p := model.VendorNegotiationProfile{
		TotalDeals:        2,
		AvgConcessionRate: 0.02,
		AvgRoundsToClose:  6.0,
	}
	got := LiveSignal(p, 0.01)

	// Confidence never exceeds what the persisted deal count grants.
	_, persisted := Classify(p)
	assert.LessOrEqual(t, got.StyleConfidence, persisted)
}
