// Package patterns provides advisory retrieval of similar past negotiations.
//
// Closed deals are recorded as deterministic feature vectors and retrieved by
// ANN search to enrich counter-offer generation context. The index is
// strictly advisory: every lookup failure degrades to the pgvector fallback
// or to an empty result, never to a blocked decision.
package patterns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/accordo-ai/accordo/internal/model"
	"github.com/accordo-ai/accordo/internal/storage"
)

// FeatureDims is the fixed dimensionality of pattern feature vectors.
const FeatureDims = 8

// Searcher is the interface for pattern ANN indexes.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// FindSimilar returns deal IDs with similar feature vectors.
	FindSimilar(ctx context.Context, features []float32, limit int) ([]Result, error)

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}

// Result holds a pattern's deal ID and raw similarity score from the index.
// The caller hydrates full patterns from Postgres (source of truth).
type Result struct {
	DealID uuid.UUID
	Score  float32
}

// Service records and retrieves negotiation patterns with a Qdrant-first,
// pgvector-fallback chain.
type Service struct {
	db       *storage.DB
	searcher Searcher // nil = pgvector only
	logger   *slog.Logger
}

// NewService creates a pattern Service. searcher may be nil.
func NewService(db *storage.DB, searcher Searcher, logger *slog.Logger) *Service {
	return &Service{db: db, searcher: searcher, logger: logger}
}

// Record stores a closed deal's pattern in Postgres and, best-effort, in the
// ANN index. Non-fatal end to end: the caller only logs failures.
func (s *Service) Record(ctx context.Context, deal model.Deal, cfg model.NegotiationConfig) error {
	utility := 0.0
	if deal.LatestUtility != nil {
		utility = *deal.LatestUtility
	}
	p := model.NegotiationPattern{
		DealID:       deal.ID,
		VendorID:     deal.VendorID,
		Outcome:      deal.Status,
		Rounds:       deal.Round,
		FinalUtility: utility,
		Features:     Features(cfg, deal),
		Summary: fmt.Sprintf("%s after %d rounds at utility %.2f",
			deal.Status, deal.Round, utility),
	}
	if err := s.db.InsertPattern(ctx, p); err != nil {
		return err
	}

	if s.searcher != nil {
		if up, ok := s.searcher.(Upserter); ok {
			if err := up.Upsert(ctx, p); err != nil {
				s.logger.Warn("patterns: index upsert failed (pgvector remains authoritative)", "deal_id", deal.ID, "error", err)
			}
		}
	}
	return nil
}

// Upserter is implemented by indexes that accept writes (QdrantIndex).
type Upserter interface {
	Upsert(ctx context.Context, p model.NegotiationPattern) error
}

// FindSimilar returns negotiations resembling the given deal's configuration.
// Chain: Qdrant when healthy, pgvector otherwise; any failure returns an
// empty advisory set.
func (s *Service) FindSimilar(ctx context.Context, cfg model.NegotiationConfig, deal model.Deal, limit int) []model.NegotiationPattern {
	features := Features(cfg, deal)

	if s.searcher != nil {
		if err := s.searcher.Healthy(ctx); err == nil {
			results, err := s.searcher.FindSimilar(ctx, features, limit)
			if err == nil {
				return s.hydrate(ctx, results)
			}
			s.logger.Warn("patterns: index query failed, falling back to pgvector", "error", err)
		} else {
			s.logger.Debug("patterns: index unhealthy, using pgvector", "error", err)
		}
	}

	found, err := s.db.FindSimilarPatterns(ctx, features, limit)
	if err != nil {
		s.logger.Warn("patterns: pgvector lookup failed (advisory, continuing)", "error", err)
		return nil
	}
	return found
}

// hydrate fetches full patterns from Postgres for index hits, preserving the
// index's similarity ordering. Hydration failures yield an empty advisory set.
func (s *Service) hydrate(ctx context.Context, results []Result) []model.NegotiationPattern {
	if len(results) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.DealID
	}
	byDeal, err := s.db.GetPatternsByDealIDs(ctx, ids)
	if err != nil {
		s.logger.Warn("patterns: hydrate failed", "error", err)
		return nil
	}
	hydrated := make([]model.NegotiationPattern, 0, len(results))
	for _, r := range results {
		if p, ok := byDeal[r.DealID]; ok {
			hydrated = append(hydrated, p)
		}
	}
	return hydrated
}
