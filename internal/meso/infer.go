package meso

import (
	"github.com/google/uuid"

	"github.com/accordo-ai/accordo/internal/model"
)

// smoothing keeps inferred weights strictly positive so a single observation
// never zeroes out an attribute entirely.
const smoothing = 0.05

// InferWeights estimates the vendor's preference weights from which MESO
// option they selected. The buyer's attribute scores run opposite to the
// vendor's interest, so an attribute where the selected option scores lower
// (for the buyer) than the non-selected average is one the vendor extracted
// value on — and therefore weights highly. Returns normalized weights and
// false when the selection is unknown or there is nothing to compare against.
func InferWeights(cfg model.NegotiationConfig, options []model.MesoOption, selectedID uuid.UUID) (map[string]float64, bool) {
	var selected *model.MesoOption
	var others []model.MesoOption
	for i := range options {
		if options[i].ID == selectedID {
			selected = &options[i]
		} else {
			others = append(others, options[i])
		}
	}
	if selected == nil || len(others) == 0 {
		return nil, false
	}

	selScores := attrScores(selected.Offer, cfg)

	attrs := sortedAttrs(cfg.Weights)
	gains := make(map[string]float64, len(attrs))
	minGain := 0.0
	for _, a := range attrs {
		var sum float64
		for _, o := range others {
			sum += attrScores(o.Offer, cfg)[a]
		}
		mean := sum / float64(len(others))
		// Positive gain: vendor took value here relative to the alternatives.
		g := mean - selScores[a]
		gains[a] = g
		if g < minGain {
			minGain = g
		}
	}

	var total float64
	for _, a := range attrs {
		gains[a] = gains[a] - minGain + smoothing
		total += gains[a]
	}
	if total <= 0 {
		return nil, false
	}
	weights := make(map[string]float64, len(attrs))
	for _, a := range attrs {
		weights[a] = gains[a] / total
	}
	return weights, true
}

// BlendWeights folds a new observation into the running estimate with the
// incremental moving-average step: est += (obs − est)/n, where n counts
// observations including this one. With no prior (n ≤ 1) the observation is
// returned as-is.
func BlendWeights(prior, obs map[string]float64, n int) map[string]float64 {
	if n <= 1 || len(prior) == 0 {
		out := make(map[string]float64, len(obs))
		for k, v := range obs {
			out[k] = v
		}
		return out
	}
	out := make(map[string]float64, len(obs))
	var total float64
	for k, v := range obs {
		p := prior[k]
		blended := p + (v-p)/float64(n)
		out[k] = blended
		total += blended
	}
	if total > 0 {
		for k := range out {
			out[k] /= total
		}
	}
	return out
}
