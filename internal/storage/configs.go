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

// GetConfigByDeal returns the config snapshot resolved for a deal.
func (db *DB) GetConfigByDeal(ctx context.Context, dealID uuid.UUID) (model.NegotiationConfig, error) {
	var cfg model.NegotiationConfig
	err := db.pool.QueryRow(ctx,
		`SELECT config FROM negotiation_configs WHERE deal_id = $1`, dealID,
	).Scan(&cfg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NegotiationConfig{}, fmt.Errorf("storage: config for deal %s: %w", dealID, model.ErrConfigInvalid)
		}
		return model.NegotiationConfig{}, fmt.Errorf("storage: get config: %w", err)
	}
	return cfg, nil
}

// GetTemplate loads a named config template.
func (db *DB) GetTemplate(ctx context.Context, id uuid.UUID) (model.NegotiationConfig, error) {
	var cfg model.NegotiationConfig
	err := db.pool.QueryRow(ctx,
		`SELECT config FROM negotiation_templates WHERE id = $1`, id,
	).Scan(&cfg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NegotiationConfig{}, fmt.Errorf("storage: template %s not found: %w", id, model.ErrConfigInvalid)
		}
		return model.NegotiationConfig{}, fmt.Errorf("storage: get template: %w", err)
	}
	return cfg, nil
}

// CreateTemplate stores a reusable config template.
func (db *DB) CreateTemplate(ctx context.Context, id uuid.UUID, name string, cfg model.NegotiationConfig) error {
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO negotiation_templates (id, name, config, created_at) VALUES ($1, $2, $3, $4)`,
		id, name, cfg, time.Now().UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return fmt.Errorf("storage: template name %q already exists: %w", name, model.ErrInvalidInput)
		}
		return fmt.Errorf("storage: create template: %w", err)
	}
	return nil
}
