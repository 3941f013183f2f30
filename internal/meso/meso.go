// Package meso generates Multiple Equivalent Simultaneous Offers: sets of
// attribute-distinct offers of near-equal utility. Instead of a single
// counter, the engine presents the set and reads the vendor's pick as a
// preference signal.
package meso

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/accordo-ai/accordo/internal/model"
	"github.com/accordo-ai/accordo/internal/scoring"
	"github.com/accordo-ai/accordo/internal/strategy"
)

// shiftMax caps how far one attribute's score is traded along an axis.
const shiftMax = 0.30

// minScoreDelta is the smallest score shift worth presenting; below it the
// option would be indistinguishable from the balanced one.
const minScoreDelta = 0.05

// axis is a directed trade: the taken attribute's score rises (more favorable
// to the buyer), paid for by the given attribute.
type axis struct {
	name string
	take string
	give string
}

var axes = []axis{
	{name: "price_over_terms", take: model.AttrPrice, give: model.AttrPaymentTerms},
	{name: "terms_over_price", take: model.AttrPaymentTerms, give: model.AttrPrice},
	{name: "price_over_delivery", take: model.AttrPrice, give: model.AttrDelivery},
	{name: "delivery_over_price", take: model.AttrDelivery, give: model.AttrPrice},
}

// Generate produces up to n attribute-distinct options each scoring within
// ±cfg.MesoVariance of the target utility. The balanced allocation is always
// the first candidate; the remaining options trade score between attribute
// pairs while holding the weighted total at the target. Options that fall
// outside the variance band (rounding of prices to cents and day counts to
// integers moves the realized utility slightly) or duplicate an earlier
// option are dropped.
func Generate(cfg model.NegotiationConfig, target float64, vendorOffer *model.Offer, n int) []model.MesoOption {
	if n <= 0 {
		n = 3
	}
	base := strategy.AllocateScores(cfg.Weights, target)

	candidates := []struct {
		name   string
		scores map[string]float64
	}{{name: "balanced", scores: base}}

	for _, ax := range axes {
		shifted, ok := shift(base, cfg.Weights, ax)
		if !ok {
			continue
		}
		candidates = append(candidates, struct {
			name   string
			scores map[string]float64
		}{name: ax.name, scores: shifted})
	}

	variance := cfg.MesoVariance
	if variance <= 0 {
		variance = 0.02
	}

	var options []model.MesoOption
	for _, cand := range candidates {
		offer := strategy.OfferForScores(cand.scores, cfg, vendorOffer)
		utility := scoring.Score(offer, cfg)
		if math.Abs(utility-target) > variance {
			continue
		}
		opt := model.MesoOption{
			ID:      uuid.New(),
			Axis:    cand.name,
			Offer:   offer,
			Utility: utility,
		}
		if duplicatesAny(opt, options, cfg) {
			continue
		}
		options = append(options, opt)
		if len(options) == n {
			break
		}
	}
	return options
}

// shift trades score from ax.give to ax.take keeping Σ weight·score constant.
// Returns false when either attribute is unweighted or the achievable shift
// is too small to distinguish the option.
func shift(base, weights map[string]float64, ax axis) (map[string]float64, bool) {
	wTake, wGive := weights[ax.take], weights[ax.give]
	if wTake <= 0 || wGive <= 0 {
		return nil, false
	}

	headroom := 1.0 - base[ax.take]
	dTake := math.Min(shiftMax, headroom)
	// Utility balance: wTake·dTake = wGive·dGive.
	dGive := dTake * wTake / wGive
	if dGive > base[ax.give] {
		dGive = base[ax.give]
		dTake = dGive * wGive / wTake
	}
	if dTake < minScoreDelta && dGive < minScoreDelta {
		return nil, false
	}

	out := make(map[string]float64, len(base))
	for k, v := range base {
		out[k] = v
	}
	out[ax.take] += dTake
	out[ax.give] -= dGive
	return out, true
}

// duplicatesAny reports whether opt is attribute-identical (within minimum
// deltas) to any already-accepted option. Two options must differ in at least
// one attribute beyond the delta or the MESO degenerates to duplicates.
func duplicatesAny(opt model.MesoOption, accepted []model.MesoOption, cfg model.NegotiationConfig) bool {
	for _, other := range accepted {
		if !distinct(opt.Offer, other.Offer, cfg) {
			return true
		}
	}
	return false
}

func distinct(a, b model.Offer, cfg model.NegotiationConfig) bool {
	// Price delta threshold: 0.5% of the acceptable span, at least one cent.
	if a.Price != nil && b.Price != nil {
		span := cfg.MaxAcceptablePrice.Sub(cfg.Batna).InexactFloat64()
		minDelta := math.Max(span*0.005, 0.01)
		if math.Abs(a.Price.Sub(*b.Price).InexactFloat64()) >= minDelta {
			return true
		}
	}
	if a.PaymentTermDays != nil && b.PaymentTermDays != nil {
		if abs(*a.PaymentTermDays-*b.PaymentTermDays) >= 1 {
			return true
		}
	}
	if a.DeliveryDate != nil && b.DeliveryDate != nil {
		if math.Abs(a.DeliveryDate.Sub(*b.DeliveryDate).Hours()) >= 24 {
			return true
		}
	}
	return false
}

// attrScores recomputes each attribute's score for an option's offer.
func attrScores(offer model.Offer, cfg model.NegotiationConfig) map[string]float64 {
	scores := make(map[string]float64, len(cfg.Weights))
	for attr := range cfg.Weights {
		scores[attr] = scoring.AttributeScore(attr, offer, cfg)
	}
	return scores
}

func sortedAttrs(weights map[string]float64) []string {
	attrs := make([]string, 0, len(weights))
	for a := range weights {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)
	return attrs
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
