// Package scoring computes normalized [0,1] utilities for candidate offers
// under a weighted preference model. Scoring is pure and deterministic:
// identical offer + config always yields an identical utility, which both
// testability and MESO equal-utility construction depend on.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/accordo-ai/accordo/internal/model"
)

// Score computes the composite utility of an offer: the weighted sum of
// per-attribute scores over the config's weight map. A missing attribute is
// treated as the least-favorable in-range value for the buyer, which on every
// linear segment is the zero end — never a favorable default.
// Summation runs in sorted attribute order: float addition is not
// associative, and map range order would otherwise leak into the last ULP of
// the result.
func Score(offer model.Offer, cfg model.NegotiationConfig) float64 {
	attrs := make([]string, 0, len(cfg.Weights))
	for attr := range cfg.Weights {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	var utility float64
	for _, attr := range attrs {
		utility += cfg.Weights[attr] * AttributeScore(attr, offer, cfg)
	}
	return clamp01(utility)
}

// AttributeScore maps one raw attribute value to [0,1]. Unknown attribute
// names score 0 (the resolver rejects configs that weight them, so this only
// shows up on hand-built configs in tests).
func AttributeScore(attr string, offer model.Offer, cfg model.NegotiationConfig) float64 {
	switch attr {
	case model.AttrPrice:
		if offer.Price == nil {
			return 0
		}
		return PriceScore(*offer.Price, cfg)
	case model.AttrPaymentTerms:
		if offer.PaymentTermDays == nil {
			return 0
		}
		return PaymentScore(*offer.PaymentTermDays, cfg.Constraints.Payment)
	case model.AttrDelivery:
		if offer.DeliveryDate == nil {
			return 0
		}
		return DeliveryScore(*offer.DeliveryDate, cfg.Constraints.Delivery)
	default:
		return 0
	}
}

// PriceScore is piecewise-linear on the buyer side: 1.0 at or below BATNA,
// 0.0 at or above the maximum acceptable price, interpolated between.
func PriceScore(price decimal.Decimal, cfg model.NegotiationConfig) float64 {
	if price.LessThanOrEqual(cfg.Batna) {
		return 1.0
	}
	if price.GreaterThanOrEqual(cfg.MaxAcceptablePrice) {
		return 0.0
	}
	span := cfg.MaxAcceptablePrice.Sub(cfg.Batna)
	if span.IsZero() {
		return 0.0
	}
	frac := price.Sub(cfg.Batna).Div(span).InexactFloat64()
	return clamp01(1.0 - frac)
}

// DeliveryScore is 1.0 on or before the required date and decays linearly to
// 0.0 at the maximum tolerable slip past it.
func DeliveryScore(date time.Time, c model.DeliveryConstraint) float64 {
	if !date.After(c.RequiredDate) {
		return 1.0
	}
	if c.MaxSlipDays <= 0 {
		return 0.0
	}
	slipDays := date.Sub(c.RequiredDate).Hours() / 24.0
	return clamp01(1.0 - slipDays/float64(c.MaxSlipDays))
}

// PaymentScore is 1.0 at the preferred net-day value, decays linearly toward
// each edge of the acceptable range, and is 0.0 outside it.
func PaymentScore(days int, c model.PaymentConstraint) float64 {
	if days < c.MinDays || days > c.MaxDays {
		return 0.0
	}
	if days == c.PreferredDays {
		return 1.0
	}
	if days < c.PreferredDays {
		span := c.PreferredDays - c.MinDays
		if span == 0 {
			return 0.0
		}
		return clamp01(float64(days-c.MinDays) / float64(span))
	}
	span := c.MaxDays - c.PreferredDays
	if span == 0 {
		return 0.0
	}
	return clamp01(float64(c.MaxDays-days) / float64(span))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
