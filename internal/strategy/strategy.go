// Package strategy computes the engine's concession targets and turns them
// into concrete counter-offers. The time-dependent curve decides how much
// utility to give up at a given round; the inversion decides which attributes
// pay for it, conceding cheapest-weighted attributes first.
package strategy

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/accordo-ai/accordo/internal/model"
)

// TargetUtility returns the utility the engine aims for in its round-r
// counter-offer:
//
//	target(r) = accept − (accept − walkAway) · (r/maxRounds)^β
//
// β > 1 holds firm and concedes late (Boulware); β < 1 concedes fast early.
// The round is clamped to [0, maxRounds] so the target never drops below the
// walk-away threshold.
func TargetUtility(cfg model.NegotiationConfig, round int) float64 {
	if cfg.MaxRounds <= 0 {
		return cfg.AcceptThreshold
	}
	r := float64(round)
	if r < 0 {
		r = 0
	}
	if r > float64(cfg.MaxRounds) {
		r = float64(cfg.MaxRounds)
	}
	beta := cfg.Beta
	if beta <= 0 {
		beta = 1
	}
	frac := math.Pow(r/float64(cfg.MaxRounds), beta)
	return cfg.AcceptThreshold - (cfg.AcceptThreshold-cfg.WalkAwayThreshold)*frac
}

// AllocateScores distributes a target composite utility across attributes.
// Every attribute starts at its best score (1.0); the deficit to the target
// is shed from the lowest-weighted attribute first, holding the
// highest-weighted attribute firm as long as possible. Ties break on
// attribute name so allocation is deterministic.
func AllocateScores(weights map[string]float64, target float64) map[string]float64 {
	attrs := make([]string, 0, len(weights))
	for a := range weights {
		attrs = append(attrs, a)
	}
	sort.Slice(attrs, func(i, j int) bool {
		wi, wj := weights[attrs[i]], weights[attrs[j]]
		if wi != wj {
			return wi < wj
		}
		return attrs[i] < attrs[j]
	})

	scores := make(map[string]float64, len(attrs))
	for _, a := range attrs {
		scores[a] = 1.0
	}

	deficit := 1.0 - target
	if deficit <= 0 {
		return scores
	}
	for _, a := range attrs {
		w := weights[a]
		if w <= 0 {
			continue
		}
		// Dropping this attribute's score to 0 sheds exactly w utility.
		if deficit >= w {
			scores[a] = 0
			deficit -= w
			continue
		}
		scores[a] = 1.0 - deficit/w
		deficit = 0
		break
	}
	return scores
}

// OfferForScores inverts the per-attribute linear scoring functions: given a
// score per attribute it produces the concrete offer values that realize
// those scores under the config. The payment concession moves from the
// preferred day value toward the vendor-favorable edge, taken from the
// vendor's last offer when one exists and defaulting to the max edge.
func OfferForScores(scores map[string]float64, cfg model.NegotiationConfig, vendorOffer *model.Offer) model.Offer {
	var out model.Offer

	if s, ok := scores[model.AttrPrice]; ok {
		p := PriceForScore(s, cfg)
		out.Price = &p
	}
	if s, ok := scores[model.AttrPaymentTerms]; ok {
		d := PaymentDaysForScore(s, cfg.Constraints.Payment, vendorPaymentSide(vendorOffer, cfg.Constraints.Payment))
		out.PaymentTermDays = &d
	}
	if s, ok := scores[model.AttrDelivery]; ok {
		t := DeliveryDateForScore(s, cfg.Constraints.Delivery)
		out.DeliveryDate = &t
	}
	return out
}

// BuildCounter produces the counter-offer for the next round along with the
// target utility it was built for.
func BuildCounter(cfg model.NegotiationConfig, round int, vendorOffer *model.Offer) (model.Offer, float64) {
	target := TargetUtility(cfg, round)
	scores := AllocateScores(cfg.Weights, target)
	return OfferForScores(scores, cfg, vendorOffer), target
}

// PriceForScore inverts the buyer price score: score 1 at BATNA, score 0 at
// the maximum acceptable price. Rounded to cents.
func PriceForScore(score float64, cfg model.NegotiationConfig) decimal.Decimal {
	score = clamp01(score)
	span := cfg.MaxAcceptablePrice.Sub(cfg.Batna)
	return cfg.Batna.Add(span.Mul(decimal.NewFromFloat(1.0 - score))).Round(2)
}

// PaymentDaysForScore inverts the payment-term score toward the given side of
// the preferred value. side must be -1 (min edge) or +1 (max edge).
func PaymentDaysForScore(score float64, c model.PaymentConstraint, side int) int {
	score = clamp01(score)
	if side < 0 {
		span := c.PreferredDays - c.MinDays
		return c.PreferredDays - int(math.Round(float64(span)*(1.0-score)))
	}
	span := c.MaxDays - c.PreferredDays
	return c.PreferredDays + int(math.Round(float64(span)*(1.0-score)))
}

// DeliveryDateForScore inverts the delivery score: score 1 at the required
// date, score 0 at the full tolerable slip.
func DeliveryDateForScore(score float64, c model.DeliveryConstraint) time.Time {
	score = clamp01(score)
	slipDays := float64(c.MaxSlipDays) * (1.0 - score)
	return c.RequiredDate.Add(time.Duration(math.Round(slipDays*24)) * time.Hour)
}

// vendorPaymentSide picks the concession direction for payment terms: toward
// whichever edge the vendor's last offer sits on, or the max edge (longer
// terms, the conventional vendor ask) when there is no signal.
func vendorPaymentSide(vendorOffer *model.Offer, c model.PaymentConstraint) int {
	if vendorOffer != nil && vendorOffer.PaymentTermDays != nil && *vendorOffer.PaymentTermDays < c.PreferredDays {
		return -1
	}
	return 1
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
