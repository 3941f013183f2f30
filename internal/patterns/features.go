package patterns

import (
	"github.com/accordo-ai/accordo/internal/model"
)

// Features builds the deterministic fingerprint of a negotiation. Two deals
// with similar buyer preferences and similar room to maneuver land close in
// feature space regardless of vendor or category.
//
// Dimensions are scaled to roughly [0, 1] so cosine similarity is not
// dominated by any single component.
func Features(cfg model.NegotiationConfig, deal model.Deal) []float32 {
	f := make([]float32, FeatureDims)
	f[0] = priceHeadroom(cfg)
	f[1] = float32(cfg.Weights[model.AttrPrice])
	f[2] = float32(cfg.Weights[model.AttrPaymentTerms])
	f[3] = float32(cfg.Weights[model.AttrDelivery])
	f[4] = scale(float64(cfg.MaxRounds), 12)
	f[5] = float32(cfg.AcceptThreshold)
	f[6] = float32(cfg.WalkAwayThreshold)
	f[7] = scale(float64(cfg.Constraints.Payment.PreferredDays), 90)
	return f
}

// priceHeadroom is the negotiable span relative to the walk-away price:
// (max - batna) / max. Zero when the config leaves no room at all.
func priceHeadroom(cfg model.NegotiationConfig) float32 {
	if cfg.MaxAcceptablePrice.IsZero() {
		return 0
	}
	span := cfg.MaxAcceptablePrice.Sub(cfg.Batna)
	ratio, _ := span.Div(cfg.MaxAcceptablePrice).Round(6).Float64()
	return clampUnit(float32(ratio))
}

func scale(v, max float64) float32 {
	if max <= 0 {
		return 0
	}
	return clampUnit(float32(v / max))
}

func clampUnit(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
