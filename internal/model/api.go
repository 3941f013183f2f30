// Package model defines the domain entities, API types, and error taxonomy
// of the Accordo negotiation engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Field length limit for inbound vendor messages. Caps what flows into the
// extraction pipeline and Postgres TEXT columns.
const MaxVendorMessageLen = 32 * 1024 // 32 KB

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeRoundConflict    = "ROUND_CONFLICT"
	ErrCodeConfigInvalid    = "CONFIG_INVALID"
	ErrCodeExtractionFailed = "EXTRACTION_FAILED"
	ErrCodeDealClosed       = "DEAL_CLOSED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// CreateDealRequest is the request body for POST /v1/deals.
type CreateDealRequest struct {
	VendorID      uuid.UUID       `json:"vendor_id"`
	RequisitionID *uuid.UUID      `json:"requisition_id,omitempty"`
	Title         string          `json:"title"`
	TemplateID    *uuid.UUID      `json:"template_id,omitempty"`
	Override      *ConfigOverride `json:"override,omitempty"`
}

// ConfigOverride carries deal-specific preference overrides merged over a
// template by the Preference Resolver. All fields are optional; absent fields
// keep the template value.
type ConfigOverride struct {
	Batna              *string             `json:"batna,omitempty"`
	MaxAcceptablePrice *string             `json:"max_acceptable_price,omitempty"`
	MinAcceptablePrice *string             `json:"min_acceptable_price,omitempty"`
	Weights            map[string]float64  `json:"weights,omitempty"`
	Payment            *PaymentConstraint  `json:"payment,omitempty"`
	Delivery           *DeliveryConstraint `json:"delivery,omitempty"`
	AcceptThreshold    *float64            `json:"accept_threshold,omitempty"`
	EscalateThreshold  *float64            `json:"escalate_threshold,omitempty"`
	WalkAwayThreshold  *float64            `json:"walk_away_threshold,omitempty"`
	MaxRounds          *int                `json:"max_rounds,omitempty"`
	Beta               *float64            `json:"beta,omitempty"`
}

// CreateTemplateRequest is the request body for POST /v1/templates. The
// override is applied over the built-in defaults and validated.
type CreateTemplateRequest struct {
	Name     string          `json:"name"`
	Override *ConfigOverride `json:"override,omitempty"`
}

// Template is a named reusable negotiation config.
type Template struct {
	ID     uuid.UUID         `json:"id"`
	Name   string            `json:"name"`
	Config NegotiationConfig `json:"config"`
}

// TurnRequest is the request body for POST /v1/deals/{deal_id}/turns.
// Exactly one of VendorMessage or Offer must be set. ExpectedRound, when
// present, is the optimistic concurrency check against the deal's current
// completed-round count.
type TurnRequest struct {
	VendorMessage    *string    `json:"vendor_message,omitempty"`
	Offer            *Offer     `json:"offer,omitempty"`
	SelectedOptionID *uuid.UUID `json:"selected_option_id,omitempty"`
	ExpectedRound    *int       `json:"expected_round,omitempty"`
}

// TurnResult is the engine's response to a processed turn.
type TurnResult struct {
	Deal         Deal             `json:"deal"`
	Round        NegotiationRound `json:"round"`
	Action       DecisionAction   `json:"action"`
	Utility      *float64         `json:"utility,omitempty"`
	CounterOffer *Offer           `json:"counter_offer,omitempty"`
	MesoOptions  []MesoOption     `json:"meso_options,omitempty"`
}
