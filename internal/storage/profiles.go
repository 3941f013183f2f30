package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/accordo-ai/accordo/internal/model"
	"github.com/accordo-ai/accordo/internal/profile"
)

const profileColumns = `vendor_id, total_deals, accepted_deals, walked_away_deals,
	escalated_deals, avg_concession_rate, avg_rounds_to_close, avg_final_utility,
	negotiation_style, style_confidence, version, created_at, updated_at`

// GetProfile returns a vendor's negotiation profile.
func (db *DB) GetProfile(ctx context.Context, vendorID uuid.UUID) (model.VendorNegotiationProfile, error) {
	var p model.VendorNegotiationProfile
	err := db.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM vendor_profiles WHERE vendor_id = $1`, vendorID,
	).Scan(
		&p.VendorID, &p.TotalDeals, &p.AcceptedDeals, &p.WalkedAwayDeals,
		&p.EscalatedDeals, &p.AvgConcessionRate, &p.AvgRoundsToClose, &p.AvgFinalUtility,
		&p.NegotiationStyle, &p.StyleConfidence, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.VendorNegotiationProfile{}, fmt.Errorf("storage: profile for vendor %s: %w", vendorID, model.ErrProfileNotFound)
		}
		return model.VendorNegotiationProfile{}, fmt.Errorf("storage: get profile: %w", err)
	}
	return p, nil
}

// ApplyProfileClosure folds a deal closure into the vendor's profile.
// Idempotent per deal: a processed marker (profile_applied) is written in the
// same transaction, so re-applying a closure reports applied=false and
// changes nothing. The row lock serializes concurrent updates per vendor;
// the version token guards the final write.
func (db *DB) ApplyProfileClosure(ctx context.Context, sample profile.ClosureSample, apply func(model.VendorNegotiationProfile) model.VendorNegotiationProfile) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO profile_applied (deal_id) VALUES ($1) ON CONFLICT DO NOTHING`, sample.DealID,
	)
	if err != nil {
		return false, fmt.Errorf("storage: mark closure applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already applied for this deal.
		return false, nil
	}

	p, err := lockOrCreateProfile(ctx, tx, sample.VendorID)
	if err != nil {
		return false, err
	}

	updated := apply(p)
	if err := writeProfile(ctx, tx, p.Version, updated); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("storage: commit profile closure: %w", err)
	}
	return true, nil
}

// UpdateProfileStyle applies a live style signal to an existing profile.
// Vendors with no profile yet are skipped — style signals do not create
// profiles, closures do.
func (db *DB) UpdateProfileStyle(ctx context.Context, vendorID uuid.UUID, apply func(model.VendorNegotiationProfile) model.VendorNegotiationProfile) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanProfileRow(tx.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM vendor_profiles WHERE vendor_id = $1 FOR UPDATE`, vendorID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("storage: lock profile: %w", err)
	}

	updated := apply(p)
	if err := writeProfile(ctx, tx, p.Version, updated); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit style update: %w", err)
	}
	return nil
}

// lockOrCreateProfile returns the vendor's profile row under FOR UPDATE,
// creating the lazily-initialized row on first contact.
func lockOrCreateProfile(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (model.VendorNegotiationProfile, error) {
	if _, err := tx.Exec(ctx,
		`INSERT INTO vendor_profiles (vendor_id, negotiation_style) VALUES ($1, $2)
		 ON CONFLICT (vendor_id) DO NOTHING`,
		vendorID, model.StyleUnknown,
	); err != nil {
		return model.VendorNegotiationProfile{}, fmt.Errorf("storage: init profile: %w", err)
	}

	p, err := scanProfileRow(tx.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM vendor_profiles WHERE vendor_id = $1 FOR UPDATE`, vendorID,
	))
	if err != nil {
		return model.VendorNegotiationProfile{}, fmt.Errorf("storage: lock profile: %w", err)
	}
	return p, nil
}

func writeProfile(ctx context.Context, tx pgx.Tx, expectedVersion int, p model.VendorNegotiationProfile) error {
	tag, err := tx.Exec(ctx,
		`UPDATE vendor_profiles SET
			total_deals = $1, accepted_deals = $2, walked_away_deals = $3,
			escalated_deals = $4, avg_concession_rate = $5, avg_rounds_to_close = $6,
			avg_final_utility = $7, negotiation_style = $8, style_confidence = $9,
			version = version + 1, updated_at = now()
		 WHERE vendor_id = $10 AND version = $11`,
		p.TotalDeals, p.AcceptedDeals, p.WalkedAwayDeals,
		p.EscalatedDeals, p.AvgConcessionRate, p.AvgRoundsToClose,
		p.AvgFinalUtility, p.NegotiationStyle, p.StyleConfidence,
		p.VendorID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("storage: write profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Cannot happen under the row lock; kept as the optimistic token check.
		return fmt.Errorf("storage: profile version moved for vendor %s: %w", p.VendorID, model.ErrProfileUpdateFailed)
	}
	return nil
}

func scanProfileRow(row pgx.Row) (model.VendorNegotiationProfile, error) {
	var p model.VendorNegotiationProfile
	err := row.Scan(
		&p.VendorID, &p.TotalDeals, &p.AcceptedDeals, &p.WalkedAwayDeals,
		&p.EscalatedDeals, &p.AvgConcessionRate, &p.AvgRoundsToClose, &p.AvgFinalUtility,
		&p.NegotiationStyle, &p.StyleConfidence, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}
