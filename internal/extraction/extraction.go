// Package extraction turns free-text vendor messages into structured offers.
//
// Defines an Extractor interface, an LLM-backed implementation, and a
// rule-based fallback. The engine depends only on the result (an Offer or
// ErrExtractionFailed), never on the mechanics of the call: the chain
// enforces a bounded timeout on the LLM and fails into the fallback rather
// than hang.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/accordo-ai/accordo/internal/model"
)

// Extractor parses a vendor message into a structured offer.
type Extractor interface {
	Extract(ctx context.Context, message string, cfg model.NegotiationConfig) (model.Offer, error)
}

// Chain runs the LLM extractor first under a timeout, then the rule-based
// fallback. The selection policy is fixed and testable: always attempt the
// LLM; any error or timeout falls through.
type Chain struct {
	llm      Extractor // nil disables the LLM path entirely
	fallback Extractor
	timeout  time.Duration
	logger   *slog.Logger
}

// NewChain builds the extraction chain. llm may be nil (fallback only).
func NewChain(llm Extractor, fallback Extractor, timeout time.Duration, logger *slog.Logger) *Chain {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Chain{llm: llm, fallback: fallback, timeout: timeout, logger: logger}
}

// Extract returns the parsed offer and which extractor produced it.
// Both paths failing yields model.ErrExtractionFailed.
func (c *Chain) Extract(ctx context.Context, message string, cfg model.NegotiationConfig) (model.Offer, model.GenerationSource, error) {
	if c.llm != nil {
		llmCtx, cancel := context.WithTimeout(ctx, c.timeout)
		offer, err := c.llm.Extract(llmCtx, message, cfg)
		cancel()
		if err == nil {
			return offer, model.SourceLLM, nil
		}
		c.logger.Warn("extraction: llm extractor failed, using fallback", "error", err)
	}

	offer, err := c.fallback.Extract(ctx, message, cfg)
	if err != nil {
		return model.Offer{}, "", fmt.Errorf("extraction: fallback: %w", errors.Join(err, model.ErrExtractionFailed))
	}
	return offer, model.SourceFallback, nil
}
