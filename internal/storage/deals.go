package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/accordo-ai/accordo/internal/model"
)

const dealColumns = `id, vendor_id, requisition_id, title, status, round,
	latest_utility, latest_action, archived_at, created_at, updated_at`

// CreateDealTx inserts a deal and its resolved config snapshot atomically.
func (db *DB) CreateDealTx(ctx context.Context, d model.Deal, cfg model.NegotiationConfig) (model.Deal, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.Status = model.DealNegotiating
	d.Round = 0
	d.CreatedAt = now
	d.UpdatedAt = now

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Deal{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO deals (id, vendor_id, requisition_id, title, status, round, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.VendorID, d.RequisitionID, d.Title, d.Status, d.Round, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return model.Deal{}, fmt.Errorf("storage: insert deal: %w", err)
	}

	cfg.DealID = d.ID
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	cfg.CreatedAt = now
	if _, err := tx.Exec(ctx,
		`INSERT INTO negotiation_configs (id, deal_id, config, created_at) VALUES ($1, $2, $3, $4)`,
		cfg.ID, cfg.DealID, cfg, cfg.CreatedAt,
	); err != nil {
		return model.Deal{}, fmt.Errorf("storage: insert config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Deal{}, fmt.Errorf("storage: commit deal: %w", err)
	}
	return d, nil
}

// GetDeal retrieves a deal by ID.
func (db *DB) GetDeal(ctx context.Context, id uuid.UUID) (model.Deal, error) {
	var d model.Deal
	err := db.pool.QueryRow(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = $1`, id,
	).Scan(
		&d.ID, &d.VendorID, &d.RequisitionID, &d.Title, &d.Status, &d.Round,
		&d.LatestUtility, &d.LatestAction, &d.ArchivedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Deal{}, fmt.Errorf("storage: deal %s: %w", id, model.ErrDealNotFound)
		}
		return model.Deal{}, fmt.Errorf("storage: get deal: %w", err)
	}
	return d, nil
}

// ResumeDeal transitions an ESCALATED deal back to NEGOTIATING (human
// resume). Round numbering continues from the persisted counter.
func (db *DB) ResumeDeal(ctx context.Context, id uuid.UUID) (model.Deal, error) {
	var d model.Deal
	err := db.pool.QueryRow(ctx,
		`UPDATE deals SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = $3 AND archived_at IS NULL
		 RETURNING `+dealColumns,
		model.DealNegotiating, id, model.DealEscalated,
	).Scan(
		&d.ID, &d.VendorID, &d.RequisitionID, &d.Title, &d.Status, &d.Round,
		&d.LatestUtility, &d.LatestAction, &d.ArchivedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Deal{}, fmt.Errorf("storage: resume deal: %w", err)
	}

	// Distinguish why the guarded update matched nothing.
	current, gerr := db.GetDeal(ctx, id)
	if gerr != nil {
		return model.Deal{}, gerr
	}
	if current.ArchivedAt != nil {
		return model.Deal{}, fmt.Errorf("storage: resume deal %s: %w", id, model.ErrDealArchived)
	}
	return model.Deal{}, fmt.Errorf("storage: resume deal %s in status %s: %w", id, current.Status, model.ErrDealClosed)
}

// ArchiveDeal soft-deletes a deal. In-flight turns detect the archive before
// persisting their round and abort.
func (db *DB) ArchiveDeal(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE deals SET archived_at = now(), updated_at = now() WHERE id = $1 AND archived_at IS NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("storage: archive deal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: archive deal %s: %w", id, model.ErrDealNotFound)
	}
	return nil
}
