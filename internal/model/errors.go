package model

import "errors"

// Error taxonomy of the negotiation engine. Callers branch on these with
// errors.Is; wrapping adds context at each layer.
var (
	// ErrConfigInvalid means the preference data is contradictory or
	// malformed. Fatal for the turn: no round is created.
	ErrConfigInvalid = errors.New("negotiation config invalid")

	// ErrExtractionFailed means neither the LLM extractor nor the rule-based
	// fallback produced a structured offer from the vendor message.
	ErrExtractionFailed = errors.New("offer extraction failed")

	// ErrRoundConflict means a concurrent turn advanced the deal first; the
	// caller must re-read the deal and retry with fresh state.
	ErrRoundConflict = errors.New("stale round: deal advanced concurrently")

	// ErrProfileUpdateFailed is non-fatal: the update is logged and retried
	// asynchronously, never blocking the negotiation path.
	ErrProfileUpdateFailed = errors.New("vendor profile update failed")

	ErrInvalidInput    = errors.New("invalid request input")
	ErrDealNotFound    = errors.New("deal not found")
	ErrDealArchived    = errors.New("deal archived")
	ErrDealClosed      = errors.New("deal already closed")
	ErrProfileNotFound = errors.New("vendor profile not found")
)
