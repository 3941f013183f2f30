// Package profile maintains the rolling behavioral profile of each vendor:
// counters, running averages, and a style classification learned from
// negotiation history. All aggregate math lives in pure functions; the
// Updater wires them to storage with idempotent, per-vendor-serialized writes.
package profile

import (
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/accordo-ai/accordo/internal/model"
)

// confidenceScale is the deal count at which style confidence reaches ~63%
// (confidence = 1 − e^(−totalDeals/confidenceScale), monotone in totalDeals).
const confidenceScale = 5.0

// Style classification cut-offs.
const (
	lowConcessionRate  = 0.05 // per-round relative price movement
	highConcessionRate = 0.15
	highAcceptanceRate = 0.5
	manyRounds         = 4.0
	fewRounds          = 2.0
	lowUtility         = 0.6
)

// ClosureSample is the summary of one closed (or escalated) deal fed into the
// vendor's aggregate.
type ClosureSample struct {
	DealID         uuid.UUID
	VendorID       uuid.UUID
	Outcome        model.DealStatus
	Rounds         int
	FinalUtility   float64
	ConcessionRate float64
}

// Apply folds a closure sample into the profile incrementally — counters
// bumped, running averages advanced with avg += (sample − avg)/n — and
// re-classifies the style. Pure: the caller owns persistence and idempotency.
func Apply(p model.VendorNegotiationProfile, s ClosureSample) model.VendorNegotiationProfile {
	p.TotalDeals++
	switch s.Outcome {
	case model.DealAccepted:
		p.AcceptedDeals++
	case model.DealWalkedAway:
		p.WalkedAwayDeals++
	case model.DealEscalated:
		p.EscalatedDeals++
	}

	n := float64(p.TotalDeals)
	p.AvgConcessionRate += (s.ConcessionRate - p.AvgConcessionRate) / n
	p.AvgRoundsToClose += (float64(s.Rounds) - p.AvgRoundsToClose) / n
	p.AvgFinalUtility += (s.FinalUtility - p.AvgFinalUtility) / n

	p.NegotiationStyle, p.StyleConfidence = Classify(p)
	return p
}

// Classify derives the vendor's negotiation style from the aggregate:
//
//   - aggressive: barely concedes and drags negotiations long
//   - collaborative: concedes readily and deals close accepted
//   - passive: folds fast, accepting at low utility for the buyer's counterpart
//   - unknown: anything else, or too little data
//
// Confidence grows monotonically with the number of observed deals.
func Classify(p model.VendorNegotiationProfile) (model.NegotiationStyle, float64) {
	confidence := 1.0 - math.Exp(-float64(p.TotalDeals)/confidenceScale)
	if p.TotalDeals == 0 {
		return model.StyleUnknown, 0
	}

	acceptRate := float64(p.AcceptedDeals) / float64(p.TotalDeals)

	switch {
	case p.AvgConcessionRate < lowConcessionRate && p.AvgRoundsToClose >= manyRounds:
		return model.StyleAggressive, confidence
	case p.AvgConcessionRate >= highConcessionRate && acceptRate >= highAcceptanceRate:
		return model.StyleCollaborative, confidence
	case p.AvgRoundsToClose <= fewRounds && acceptRate >= highAcceptanceRate && p.AvgFinalUtility >= lowUtility:
		return model.StylePassive, confidence
	default:
		return model.StyleUnknown, confidence
	}
}

// ConcessionRate measures how much the vendor moved on price across the
// negotiation: the relative first-to-last offer drop divided by the number of
// offer-over-offer steps. Clamped to [0,1]; fewer than two priced offers
// yields 0 (no movement observed).
func ConcessionRate(rounds []model.NegotiationRound) float64 {
	var prices []decimal.Decimal
	for _, r := range rounds {
		if r.VendorOffer != nil && r.VendorOffer.Price != nil {
			prices = append(prices, *r.VendorOffer.Price)
		}
	}
	if len(prices) < 2 {
		return 0
	}
	first, last := prices[0], prices[len(prices)-1]
	if !first.IsPositive() {
		return 0
	}
	drop := first.Sub(last).Div(first).InexactFloat64()
	rate := drop / float64(len(prices)-1)
	return math.Max(0, math.Min(1, rate))
}

// LiveSignal re-classifies a profile mid-negotiation using the in-flight
// concession rate as a provisional extra observation. Counters and persisted
// averages stay untouched; only the style fields move, and confidence is
// capped below what a real closure would grant.
func LiveSignal(p model.VendorNegotiationProfile, inflightConcessionRate float64) model.VendorNegotiationProfile {
	shadow := p
	n := float64(p.TotalDeals + 1)
	shadow.AvgConcessionRate += (inflightConcessionRate - shadow.AvgConcessionRate) / n
	style, confidence := Classify(shadow)

	p.NegotiationStyle = style
	if limit := 1.0 - math.Exp(-float64(p.TotalDeals)/confidenceScale); confidence > limit {
		confidence = limit
	}
	p.StyleConfidence = confidence
	return p
}
