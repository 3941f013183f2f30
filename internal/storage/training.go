package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/accordo-ai/accordo/internal/model"
)

// InsertTrainingExample captures a generated counter-offer suggestion with
// its generation source (llm or fallback). Non-critical path: callers treat
// failures as log-and-continue.
func (db *DB) InsertTrainingExample(ctx context.Context, ex model.TrainingExample) error {
	if ex.ID == uuid.Nil {
		ex.ID = uuid.New()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO negotiation_training_data
		 (id, deal_id, round_number, target_utility, suggestion, generation_source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ex.ID, ex.DealID, ex.RoundNumber, ex.TargetUtility, ex.Suggestion, ex.Source, ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert training example: %w", err)
	}
	return nil
}

// ListTrainingExamples returns a deal's captured suggestions in round order.
func (db *DB) ListTrainingExamples(ctx context.Context, dealID uuid.UUID) ([]model.TrainingExample, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, deal_id, round_number, target_utility, suggestion, generation_source, created_at
		 FROM negotiation_training_data WHERE deal_id = $1 ORDER BY round_number ASC`,
		dealID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list training examples: %w", err)
	}
	defer rows.Close()

	var examples []model.TrainingExample
	for rows.Next() {
		var ex model.TrainingExample
		if err := rows.Scan(
			&ex.ID, &ex.DealID, &ex.RoundNumber, &ex.TargetUtility,
			&ex.Suggestion, &ex.Source, &ex.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan training example: %w", err)
		}
		examples = append(examples, ex)
	}
	return examples, rows.Err()
}
