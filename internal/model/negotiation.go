package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Attribute names used in weights, constraints, and scoring.
const (
	AttrPrice        = "price"
	AttrPaymentTerms = "payment_terms"
	AttrDelivery     = "delivery"
)

// NegotiableAttributes lists every attribute the engine can score and trade on.
var NegotiableAttributes = []string{AttrPrice, AttrPaymentTerms, AttrDelivery}

// Offer is a point in attribute space. Attributes are nullable: a vendor
// offer may omit one, in which case scoring assumes the least-favorable
// in-range value for that attribute.
type Offer struct {
	Price           *decimal.Decimal `json:"price,omitempty"`
	PaymentTermDays *int             `json:"payment_term_days,omitempty"`
	DeliveryDate    *time.Time       `json:"delivery_date,omitempty"`
	Terms           *string          `json:"terms,omitempty"`
}

// PaymentConstraint bounds acceptable net-day payment terms.
// PreferredDays scores 1.0; the score decays linearly toward each edge.
type PaymentConstraint struct {
	MinDays       int `json:"min_days"`
	MaxDays       int `json:"max_days"`
	PreferredDays int `json:"preferred_days"`
}

// DeliveryConstraint bounds acceptable delivery dates. On/before RequiredDate
// scores 1.0; the score decays linearly to 0.0 at RequiredDate + MaxSlipDays.
type DeliveryConstraint struct {
	RequiredDate time.Time `json:"required_date"`
	MaxSlipDays  int       `json:"max_slip_days"`
}

// Constraints holds the per-attribute bounds of a negotiation config.
type Constraints struct {
	Payment  PaymentConstraint  `json:"payment"`
	Delivery DeliveryConstraint `json:"delivery"`
}

// NegotiationConfig is the per-deal preference snapshot. Immutable once the
// negotiation starts; re-resolved only by explicit requisition-edit events.
type NegotiationConfig struct {
	ID     uuid.UUID `json:"id"`
	DealID uuid.UUID `json:"deal_id"`

	Batna              decimal.Decimal `json:"batna"`
	MaxAcceptablePrice decimal.Decimal `json:"max_acceptable_price"`
	MinAcceptablePrice decimal.Decimal `json:"min_acceptable_price"`

	Weights     map[string]float64 `json:"weights"`
	Constraints Constraints        `json:"constraints"`

	AcceptThreshold   float64 `json:"accept_threshold"`
	EscalateThreshold float64 `json:"escalate_threshold"`
	WalkAwayThreshold float64 `json:"walk_away_threshold"`

	MaxRounds int `json:"max_rounds"`

	// Concession curve concavity: beta > 1 holds firm then concedes late
	// (Boulware), beta < 1 concedes fast early.
	Beta float64 `json:"beta"`

	// MESO tuning.
	MesoVariance float64 `json:"meso_variance"`
	MesoRounds   []int   `json:"meso_rounds"`

	// Offer-over-offer utility delta below which a below-acceptance
	// negotiation is considered plateaued.
	StalledEpsilon float64 `json:"stalled_epsilon"`

	CreatedAt time.Time `json:"created_at"`
}

// DealStatus is the lifecycle state of a deal. ACCEPTED and WALKED_AWAY are
// terminal; ESCALATED is a pause state a human can resume from.
type DealStatus string

const (
	DealNegotiating DealStatus = "NEGOTIATING"
	DealAccepted    DealStatus = "ACCEPTED"
	DealWalkedAway  DealStatus = "WALKED_AWAY"
	DealEscalated   DealStatus = "ESCALATED"
)

// Terminal reports whether the status permits no further transitions.
func (s DealStatus) Terminal() bool {
	return s == DealAccepted || s == DealWalkedAway
}

// DecisionAction is the engine's per-turn verdict.
type DecisionAction string

const (
	ActionAccept   DecisionAction = "ACCEPT"
	ActionCounter  DecisionAction = "COUNTER"
	ActionEscalate DecisionAction = "ESCALATE"
	ActionWalkAway DecisionAction = "WALK_AWAY"

	// ActionFailed marks a terminal-but-unscored round: both extractors
	// failed, the round is recorded with no utility, and the deal escalates.
	ActionFailed DecisionAction = "FAILED"
)

// GenerationSource tags how a counter-offer suggestion was produced.
type GenerationSource string

const (
	SourceLLM      GenerationSource = "llm"
	SourceFallback GenerationSource = "fallback"
)

// Deal is the aggregate root of one bilateral negotiation. Round, status, and
// the latest* fields are derived mirrors of the newest NegotiationRound.
type Deal struct {
	ID            uuid.UUID       `json:"id"`
	VendorID      uuid.UUID       `json:"vendor_id"`
	RequisitionID *uuid.UUID      `json:"requisition_id,omitempty"`
	Title         string          `json:"title"`
	Status        DealStatus      `json:"status"`
	Round         int             `json:"round"`
	LatestUtility *float64        `json:"latest_utility,omitempty"`
	LatestAction  *DecisionAction `json:"latest_action,omitempty"`
	ArchivedAt    *time.Time      `json:"archived_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MesoOption is one of the simultaneous equivalent offers in a MESO round.
type MesoOption struct {
	ID      uuid.UUID `json:"id"`
	Axis    string    `json:"axis"` // trade-off profile, e.g. "price_for_terms"
	Offer   Offer     `json:"offer"`
	Utility float64   `json:"utility"`
}

// NegotiationRound is the immutable record of one engine turn. Rounds are
// append-only and strictly ordered per deal by RoundNumber (1-based, no gaps).
// Utility is nil only for FAILED rounds.
type NegotiationRound struct {
	ID               uuid.UUID         `json:"id"`
	DealID           uuid.UUID         `json:"deal_id"`
	RoundNumber      int               `json:"round_number"`
	VendorOffer      *Offer            `json:"vendor_offer,omitempty"`
	Utility          *float64          `json:"utility,omitempty"`
	Action           DecisionAction    `json:"action"`
	CounterOffer     *Offer            `json:"counter_offer,omitempty"`
	MesoOptions      []MesoOption      `json:"meso_options,omitempty"`
	SelectedOptionID *uuid.UUID        `json:"selected_option_id,omitempty"`
	// InferredWeights is the vendor preference estimate produced when this
	// round resolved a MESO selection.
	InferredWeights  map[string]float64 `json:"inferred_weights,omitempty"`
	GenerationSource *GenerationSource  `json:"generation_source,omitempty"`
	Note             *string           `json:"note,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// NegotiationStyle classifies a vendor's observed bargaining behavior.
type NegotiationStyle string

const (
	StyleAggressive    NegotiationStyle = "aggressive"
	StyleCollaborative NegotiationStyle = "collaborative"
	StylePassive       NegotiationStyle = "passive"
	StyleUnknown       NegotiationStyle = "unknown"
)

// VendorNegotiationProfile is the append-only behavioral aggregate per vendor.
// Created lazily on the first deal, updated incrementally at each closure
// (and per round for live style signals), never deleted. Version is the
// optimistic concurrency token.
type VendorNegotiationProfile struct {
	VendorID          uuid.UUID        `json:"vendor_id"`
	TotalDeals        int              `json:"total_deals"`
	AcceptedDeals     int              `json:"accepted_deals"`
	WalkedAwayDeals   int              `json:"walked_away_deals"`
	EscalatedDeals    int              `json:"escalated_deals"`
	AvgConcessionRate float64          `json:"avg_concession_rate"`
	AvgRoundsToClose  float64          `json:"avg_rounds_to_close"`
	AvgFinalUtility   float64          `json:"avg_final_utility"`
	NegotiationStyle  NegotiationStyle `json:"negotiation_style"`
	StyleConfidence   float64          `json:"style_confidence"`
	Version           int              `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NegotiationPattern is an advisory record of a closed negotiation used for
// similar-deal retrieval. Features is a deterministic numeric fingerprint of
// the config and trajectory; it is indexed, not interpreted.
type NegotiationPattern struct {
	ID           uuid.UUID  `json:"id"`
	DealID       uuid.UUID  `json:"deal_id"`
	VendorID     uuid.UUID  `json:"vendor_id"`
	Outcome      DealStatus `json:"outcome"`
	Rounds       int        `json:"rounds"`
	FinalUtility float64    `json:"final_utility"`
	Features     []float32  `json:"-"`
	Summary      string     `json:"summary"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TrainingExample captures one generated suggestion for later model tuning.
type TrainingExample struct {
	ID            uuid.UUID        `json:"id"`
	DealID        uuid.UUID        `json:"deal_id"`
	RoundNumber   int              `json:"round_number"`
	TargetUtility float64          `json:"target_utility"`
	Suggestion    Offer            `json:"suggestion"`
	Source        GenerationSource `json:"generation_source"`
	CreatedAt     time.Time        `json:"created_at"`
}
