package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/accordo-ai/accordo/internal/model"
)

// InsertPattern records a closed negotiation's fingerprint for later
// similar-deal retrieval. One pattern per deal; re-closing (escalate then
// resume then close) refreshes the row.
func (db *DB) InsertPattern(ctx context.Context, p model.NegotiationPattern) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO negotiation_patterns
		 (id, deal_id, vendor_id, outcome, rounds, final_utility, features, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (deal_id) DO UPDATE SET
			outcome = EXCLUDED.outcome, rounds = EXCLUDED.rounds,
			final_utility = EXCLUDED.final_utility, features = EXCLUDED.features,
			summary = EXCLUDED.summary`,
		p.ID, p.DealID, p.VendorID, p.Outcome, p.Rounds, p.FinalUtility,
		pgvector.NewVector(p.Features), p.Summary, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert pattern: %w", err)
	}
	return nil
}

// GetPatternsByDealIDs fetches recorded patterns for the given deals, keyed by
// deal so callers can preserve their own ranking order.
func (db *DB) GetPatternsByDealIDs(ctx context.Context, dealIDs []uuid.UUID) (map[uuid.UUID]model.NegotiationPattern, error) {
	if len(dealIDs) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, deal_id, vendor_id, outcome, rounds, final_utility, summary, created_at
		 FROM negotiation_patterns
		 WHERE deal_id = ANY($1)`,
		dealIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get patterns by deal: %w", err)
	}
	defer rows.Close()

	byDeal := make(map[uuid.UUID]model.NegotiationPattern, len(dealIDs))
	for rows.Next() {
		var p model.NegotiationPattern
		if err := rows.Scan(
			&p.ID, &p.DealID, &p.VendorID, &p.Outcome, &p.Rounds,
			&p.FinalUtility, &p.Summary, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan pattern: %w", err)
		}
		byDeal[p.DealID] = p
	}
	return byDeal, rows.Err()
}

// FindSimilarPatterns returns the closest recorded negotiations to the given
// feature vector by cosine distance. Used as the pgvector fallback behind the
// Qdrant index.
func (db *DB) FindSimilarPatterns(ctx context.Context, features []float32, limit int) ([]model.NegotiationPattern, error) {
	if limit <= 0 {
		limit = 5
	}
	if limit > 100 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, deal_id, vendor_id, outcome, rounds, final_utility, summary, created_at
		 FROM negotiation_patterns
		 ORDER BY features <=> $1
		 LIMIT $2`,
		pgvector.NewVector(features), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: find similar patterns: %w", err)
	}
	defer rows.Close()

	var patterns []model.NegotiationPattern
	for rows.Next() {
		var p model.NegotiationPattern
		if err := rows.Scan(
			&p.ID, &p.DealID, &p.VendorID, &p.Outcome, &p.Rounds,
			&p.FinalUtility, &p.Summary, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
