package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/accordo-ai/accordo/internal/model"
)

const roundColumns = `id, deal_id, round_number, vendor_offer, utility, action,
	counter_offer, meso_options, selected_option_id, inferred_weights,
	generation_source, note, created_at`

// AppendRoundTx appends an immutable round record and mirrors its outcome
// onto the deal — atomically. The deal update is guarded by the expected
// prior round count (round.RoundNumber − 1), the NEGOTIATING status, and the
// absence of a soft delete; a guard miss is diagnosed into RoundConflict,
// DealArchived, DealClosed, or DealNotFound. The UNIQUE(deal_id, round_number)
// constraint is the second line of defense against concurrent turns.
func (db *DB) AppendRoundTx(ctx context.Context, round model.NegotiationRound, newStatus model.DealStatus) (model.NegotiationRound, model.Deal, error) {
	if round.ID == uuid.Nil {
		round.ID = uuid.New()
	}
	round.CreatedAt = time.Now().UTC()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.NegotiationRound{}, model.Deal{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var d model.Deal
	err = tx.QueryRow(ctx,
		`UPDATE deals
		 SET round = $1, status = $2, latest_utility = $3, latest_action = $4, updated_at = now()
		 WHERE id = $5 AND round = $6 AND status = $7 AND archived_at IS NULL
		 RETURNING `+dealColumns,
		round.RoundNumber, newStatus, round.Utility, round.Action,
		round.DealID, round.RoundNumber-1, model.DealNegotiating,
	).Scan(
		&d.ID, &d.VendorID, &d.RequisitionID, &d.Title, &d.Status, &d.Round,
		&d.LatestUtility, &d.LatestAction, &d.ArchivedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NegotiationRound{}, model.Deal{}, db.diagnoseRoundGuard(ctx, round)
		}
		return model.NegotiationRound{}, model.Deal{}, fmt.Errorf("storage: advance deal: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO negotiation_rounds
		 (id, deal_id, round_number, vendor_offer, utility, action, counter_offer,
		  meso_options, selected_option_id, inferred_weights, generation_source, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		round.ID, round.DealID, round.RoundNumber, round.VendorOffer, round.Utility,
		round.Action, round.CounterOffer, round.MesoOptions, round.SelectedOptionID,
		round.InferredWeights, round.GenerationSource, round.Note, round.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return model.NegotiationRound{}, model.Deal{}, fmt.Errorf("storage: round %d for deal %s: %w",
				round.RoundNumber, round.DealID, model.ErrRoundConflict)
		}
		return model.NegotiationRound{}, model.Deal{}, fmt.Errorf("storage: insert round: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.NegotiationRound{}, model.Deal{}, fmt.Errorf("storage: commit round: %w", err)
	}
	return round, d, nil
}

// diagnoseRoundGuard explains a failed guarded deal update.
func (db *DB) diagnoseRoundGuard(ctx context.Context, round model.NegotiationRound) error {
	current, err := db.GetDeal(ctx, round.DealID)
	if err != nil {
		return err
	}
	switch {
	case current.ArchivedAt != nil:
		return fmt.Errorf("storage: deal %s: %w", round.DealID, model.ErrDealArchived)
	case current.Status != model.DealNegotiating:
		return fmt.Errorf("storage: deal %s in status %s: %w", round.DealID, current.Status, model.ErrDealClosed)
	default:
		return fmt.Errorf("storage: deal %s at round %d, turn expected %d: %w",
			round.DealID, current.Round, round.RoundNumber-1, model.ErrRoundConflict)
	}
}

// ListRounds returns a deal's rounds ordered by round number ascending.
func (db *DB) ListRounds(ctx context.Context, dealID uuid.UUID) ([]model.NegotiationRound, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM negotiation_rounds WHERE deal_id = $1 ORDER BY round_number ASC`,
		dealID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list rounds: %w", err)
	}
	defer rows.Close()
	return scanRounds(rows)
}

// LatestRounds returns up to n most recent rounds, newest first.
func (db *DB) LatestRounds(ctx context.Context, dealID uuid.UUID, n int) ([]model.NegotiationRound, error) {
	if n <= 0 {
		n = 2
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM negotiation_rounds WHERE deal_id = $1 ORDER BY round_number DESC LIMIT $2`,
		dealID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: latest rounds: %w", err)
	}
	defer rows.Close()
	return scanRounds(rows)
}

func scanRounds(rows pgx.Rows) ([]model.NegotiationRound, error) {
	var rounds []model.NegotiationRound
	for rows.Next() {
		var r model.NegotiationRound
		if err := rows.Scan(
			&r.ID, &r.DealID, &r.RoundNumber, &r.VendorOffer, &r.Utility, &r.Action,
			&r.CounterOffer, &r.MesoOptions, &r.SelectedOptionID, &r.InferredWeights,
			&r.GenerationSource, &r.Note, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}
