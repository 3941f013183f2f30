// Package pref resolves and validates per-deal negotiation configs, merging
// template defaults with deal-specific overrides. Resolution is a pure
// read+validate; the result is cached for the lifetime of the negotiation.
package pref

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/accordo-ai/accordo/internal/model"
)

// weightSumTolerance is the allowed deviation of Σ weights from 1.0.
const weightSumTolerance = 1e-3

// aggressiveBias is how far the accept threshold is nudged down for vendors
// classified aggressive with enough confidence. Bounded so the threshold
// ordering invariant survives the nudge.
const (
	aggressiveBias          = 0.03
	aggressiveMinConfidence = 0.6
)

// TemplateSource supplies named config templates.
type TemplateSource interface {
	GetTemplate(ctx context.Context, id uuid.UUID) (model.NegotiationConfig, error)
}

// ProfileSource supplies vendor profiles for optional threshold biasing.
// Implementations return model.ErrProfileNotFound for unseen vendors.
type ProfileSource interface {
	GetProfile(ctx context.Context, vendorID uuid.UUID) (model.VendorNegotiationProfile, error)
}

// Resolver merges templates and overrides into validated configs.
type Resolver struct {
	templates TemplateSource
	profiles  ProfileSource
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]model.NegotiationConfig
}

// NewResolver creates a Resolver. profiles may be nil (no threshold biasing).
func NewResolver(templates TemplateSource, profiles ProfileSource, logger *slog.Logger) *Resolver {
	return &Resolver{
		templates: templates,
		profiles:  profiles,
		logger:    logger,
		cache:     make(map[uuid.UUID]model.NegotiationConfig),
	}
}

// Resolve produces the validated config for a deal. templateID nil means
// start from built-in defaults. The resolved config is cached per deal;
// subsequent calls return the snapshot unchanged.
func (r *Resolver) Resolve(ctx context.Context, dealID, vendorID uuid.UUID, templateID *uuid.UUID, override *model.ConfigOverride) (model.NegotiationConfig, error) {
	r.mu.Lock()
	if cfg, ok := r.cache[dealID]; ok {
		r.mu.Unlock()
		return cfg, nil
	}
	r.mu.Unlock()

	cfg := Defaults()
	if templateID != nil {
		tpl, err := r.templates.GetTemplate(ctx, *templateID)
		if err != nil {
			return model.NegotiationConfig{}, fmt.Errorf("pref: load template %s: %w", *templateID, err)
		}
		cfg = tpl
	}

	if override != nil {
		if err := applyOverride(&cfg, override); err != nil {
			return model.NegotiationConfig{}, err
		}
	}

	cfg.ID = uuid.New()
	cfg.DealID = dealID

	r.biasForVendor(ctx, &cfg, vendorID)

	if err := Validate(cfg); err != nil {
		return model.NegotiationConfig{}, err
	}

	r.mu.Lock()
	r.cache[dealID] = cfg
	r.mu.Unlock()
	return cfg, nil
}

// Cache stores an already-persisted config (e.g. read back from storage on a
// later turn) so resolution stays a one-time event per negotiation.
func (r *Resolver) Cache(cfg model.NegotiationConfig) {
	r.mu.Lock()
	r.cache[cfg.DealID] = cfg
	r.mu.Unlock()
}

// Cached returns the cached config for a deal, if any.
func (r *Resolver) Cached(dealID uuid.UUID) (model.NegotiationConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.cache[dealID]
	return cfg, ok
}

// Evict drops a deal's cached config (requisition-edit events re-resolve).
func (r *Resolver) Evict(dealID uuid.UUID) {
	r.mu.Lock()
	delete(r.cache, dealID)
	r.mu.Unlock()
}

// biasForVendor nudges the accept threshold down for known aggressive
// vendors: patience costs more against a hard bargainer. Advisory only —
// profile lookup failures are logged and ignored.
func (r *Resolver) biasForVendor(ctx context.Context, cfg *model.NegotiationConfig, vendorID uuid.UUID) {
	if r.profiles == nil || vendorID == uuid.Nil {
		return
	}
	p, err := r.profiles.GetProfile(ctx, vendorID)
	if err != nil {
		r.logger.Debug("pref: profile lookup skipped", "vendor_id", vendorID, "error", err)
		return
	}
	if p.NegotiationStyle != model.StyleAggressive || p.StyleConfidence < aggressiveMinConfidence {
		return
	}
	lowered := cfg.AcceptThreshold - aggressiveBias
	// Never cross the escalate threshold; the ordering invariant holds.
	floor := cfg.EscalateThreshold + 0.01
	if lowered < floor {
		lowered = floor
	}
	if lowered < cfg.AcceptThreshold {
		r.logger.Info("pref: biased accept threshold for aggressive vendor",
			"vendor_id", vendorID, "from", cfg.AcceptThreshold, "to", lowered, "confidence", p.StyleConfidence)
		cfg.AcceptThreshold = lowered
	}
}

// Defaults returns the built-in baseline config used when no template is
// given. Money fields are zero and must come from template or override.
func Defaults() model.NegotiationConfig {
	return model.NegotiationConfig{
		Weights: map[string]float64{
			model.AttrPrice:        0.5,
			model.AttrPaymentTerms: 0.3,
			model.AttrDelivery:     0.2,
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

// BuildTemplate materializes a reusable named template: the built-in defaults
// with the override applied, validated. Deal-binding fields stay zero; Resolve
// fills them when a deal adopts the template.
func BuildTemplate(o *model.ConfigOverride) (model.NegotiationConfig, error) {
	cfg := Defaults()
	if o != nil {
		if err := applyOverride(&cfg, o); err != nil {
			return model.NegotiationConfig{}, err
		}
	}
	if err := Validate(cfg); err != nil {
		return model.NegotiationConfig{}, err
	}
	return cfg, nil
}

func applyOverride(cfg *model.NegotiationConfig, o *model.ConfigOverride) error {
	parseMoney := func(field, raw string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("pref: %s %q: %w", field, raw, model.ErrConfigInvalid)
		}
		return d, nil
	}

	if o.Batna != nil {
		d, err := parseMoney("batna", *o.Batna)
		if err != nil {
			return err
		}
		cfg.Batna = d
	}
	if o.MaxAcceptablePrice != nil {
		d, err := parseMoney("max_acceptable_price", *o.MaxAcceptablePrice)
		if err != nil {
			return err
		}
		cfg.MaxAcceptablePrice = d
	}
	if o.MinAcceptablePrice != nil {
		d, err := parseMoney("min_acceptable_price", *o.MinAcceptablePrice)
		if err != nil {
			return err
		}
		cfg.MinAcceptablePrice = d
	}
	if o.Weights != nil {
		cfg.Weights = o.Weights
	}
	if o.Payment != nil {
		cfg.Constraints.Payment = *o.Payment
	}
	if o.Delivery != nil {
		cfg.Constraints.Delivery = *o.Delivery
	}
	if o.AcceptThreshold != nil {
		cfg.AcceptThreshold = *o.AcceptThreshold
	}
	if o.EscalateThreshold != nil {
		cfg.EscalateThreshold = *o.EscalateThreshold
	}
	if o.WalkAwayThreshold != nil {
		cfg.WalkAwayThreshold = *o.WalkAwayThreshold
	}
	if o.MaxRounds != nil {
		cfg.MaxRounds = *o.MaxRounds
	}
	if o.Beta != nil {
		cfg.Beta = *o.Beta
	}
	return nil
}

// Validate enforces the config invariants. Violations wrap
// model.ErrConfigInvalid: a contradictory preference set must fail at the
// boundary, not propagate into scoring.
func Validate(cfg model.NegotiationConfig) error {
	var sum float64
	for attr, w := range cfg.Weights {
		if w < 0 {
			return fmt.Errorf("pref: weight %q is negative: %w", attr, model.ErrConfigInvalid)
		}
		switch attr {
		case model.AttrPrice, model.AttrPaymentTerms, model.AttrDelivery:
		default:
			return fmt.Errorf("pref: unknown attribute %q in weights: %w", attr, model.ErrConfigInvalid)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("pref: weights sum to %.4f, want 1.0: %w", sum, model.ErrConfigInvalid)
	}

	// Every constrained attribute must carry a weight.
	if cfg.Constraints.Payment != (model.PaymentConstraint{}) {
		if _, ok := cfg.Weights[model.AttrPaymentTerms]; !ok {
			return fmt.Errorf("pref: payment constraint without payment_terms weight: %w", model.ErrConfigInvalid)
		}
		p := cfg.Constraints.Payment
		if p.MinDays > p.MaxDays || p.PreferredDays < p.MinDays || p.PreferredDays > p.MaxDays {
			return fmt.Errorf("pref: payment day range [%d,%d] preferred %d: %w",
				p.MinDays, p.MaxDays, p.PreferredDays, model.ErrConfigInvalid)
		}
	}
	if !cfg.Constraints.Delivery.RequiredDate.IsZero() {
		if _, ok := cfg.Weights[model.AttrDelivery]; !ok {
			return fmt.Errorf("pref: delivery constraint without delivery weight: %w", model.ErrConfigInvalid)
		}
		if cfg.Constraints.Delivery.MaxSlipDays < 0 {
			return fmt.Errorf("pref: negative max slip days: %w", model.ErrConfigInvalid)
		}
	}

	if !(cfg.WalkAwayThreshold < cfg.EscalateThreshold && cfg.EscalateThreshold < cfg.AcceptThreshold) {
		return fmt.Errorf("pref: thresholds must satisfy walkAway < escalate < accept (got %.2f, %.2f, %.2f): %w",
			cfg.WalkAwayThreshold, cfg.EscalateThreshold, cfg.AcceptThreshold, model.ErrConfigInvalid)
	}
	if cfg.WalkAwayThreshold < 0 || cfg.AcceptThreshold > 1 {
		return fmt.Errorf("pref: thresholds must lie in [0,1]: %w", model.ErrConfigInvalid)
	}

	if _, ok := cfg.Weights[model.AttrPrice]; ok {
		if cfg.Batna.LessThan(cfg.MinAcceptablePrice) || cfg.Batna.GreaterThan(cfg.MaxAcceptablePrice) {
			// A BATNA outside the acceptable band is a data-entry contradiction.
			return fmt.Errorf("pref: batna %s outside [%s, %s]: %w",
				cfg.Batna, cfg.MinAcceptablePrice, cfg.MaxAcceptablePrice, model.ErrConfigInvalid)
		}
	}

	if cfg.MaxRounds <= 0 {
		return fmt.Errorf("pref: max_rounds must be positive: %w", model.ErrConfigInvalid)
	}
	return nil
}
