package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/accordo-ai/accordo/internal/model"
)

// Store is the persistence surface the Updater needs. Implementations must
// serialize updates per vendor (row lock or equivalent) and make ApplyClosure
// idempotent per deal: the second application for the same deal ID is a no-op
// reporting applied=false.
type Store interface {
	ApplyProfileClosure(ctx context.Context, sample ClosureSample, apply func(model.VendorNegotiationProfile) model.VendorNegotiationProfile) (applied bool, err error)
	UpdateProfileStyle(ctx context.Context, vendorID uuid.UUID, apply func(model.VendorNegotiationProfile) model.VendorNegotiationProfile) error
}

// Updater applies profile changes on deal closure and per-round signals.
// Failures are non-fatal to the negotiation path: callers use the Async
// variants from the engine and only log.
type Updater struct {
	store  Store
	logger *slog.Logger
}

// NewUpdater creates an Updater.
func NewUpdater(store Store, logger *slog.Logger) *Updater {
	return &Updater{store: store, logger: logger}
}

// OnDealClosed folds a closure sample into the vendor's profile. Applying the
// same deal twice is a no-op (processed marker in storage), so retries are
// safe.
func (u *Updater) OnDealClosed(ctx context.Context, sample ClosureSample) error {
	applied, err := u.store.ApplyProfileClosure(ctx, sample, func(p model.VendorNegotiationProfile) model.VendorNegotiationProfile {
		return Apply(p, sample)
	})
	if err != nil {
		return fmt.Errorf("profile: closure for deal %s: %w", sample.DealID, errors.Join(err, model.ErrProfileUpdateFailed))
	}
	if !applied {
		u.logger.Debug("profile: closure already applied", "deal_id", sample.DealID)
	}
	return nil
}

// OnDealClosedAsync runs OnDealClosed out-of-band with one delayed retry.
// The profile is advisory: eventual consistency with deal state is fine, a
// lost update after two attempts is only logged.
func (u *Updater) OnDealClosedAsync(sample ClosureSample) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := u.OnDealClosed(ctx, sample); err == nil {
			return
		} else {
			u.logger.Warn("profile: closure update failed, retrying", "deal_id", sample.DealID, "error", err)
		}
		time.Sleep(2 * time.Second)
		if err := u.OnDealClosed(ctx, sample); err != nil {
			u.logger.Error("profile: closure update failed after retry", "deal_id", sample.DealID, "error", err)
		}
	}()
}

// OnRoundAsync pushes a live style signal from an in-flight negotiation.
func (u *Updater) OnRoundAsync(vendorID uuid.UUID, inflightConcessionRate float64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := u.store.UpdateProfileStyle(ctx, vendorID, func(p model.VendorNegotiationProfile) model.VendorNegotiationProfile {
			return LiveSignal(p, inflightConcessionRate)
		})
		if err != nil {
			u.logger.Debug("profile: live style signal dropped", "vendor_id", vendorID, "error", err)
		}
	}()
}
