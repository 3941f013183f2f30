// Package engine is the negotiation decision state machine.
//
// It orchestrates one turn end to end: extract the vendor's offer, score it
// against the deal's preference config, apply threshold policy, build the
// counter (single offer or MESO set), and persist the result as an immutable
// round atomically with the deal's status advance. Turns for the same deal are
// serialized; everything off the decision path (profile updates, pattern
// recording) runs async and best-effort.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/accordo-ai/accordo/internal/extraction"
	"github.com/accordo-ai/accordo/internal/model"
	"github.com/accordo-ai/accordo/internal/patterns"
	"github.com/accordo-ai/accordo/internal/pref"
	"github.com/accordo-ai/accordo/internal/profile"
	"github.com/accordo-ai/accordo/internal/storage"
	"github.com/accordo-ai/accordo/internal/telemetry"
)

// Service encapsulates deal lifecycle and per-turn decision logic shared by
// all transport handlers.
type Service struct {
	db        *storage.DB
	resolver  *pref.Resolver
	extractor *extraction.Chain
	patterns  *patterns.Service
	profiles  *profile.Updater
	logger    *slog.Logger

	// dealLocks serializes turns per deal. The database round guard is the
	// hard invariant; the mutex just avoids burning a round number on every
	// duplicate webhook delivery.
	dealLocks sync.Map // uuid.UUID -> *sync.Mutex

	turnDuration    metric.Float64Histogram
	extractDuration metric.Float64Histogram
	decisionCount   metric.Int64Counter
}

// New creates the engine Service. patternSvc may be nil if similarity
// retrieval is not configured.
func New(db *storage.DB, resolver *pref.Resolver, extractor *extraction.Chain, patternSvc *patterns.Service, profiles *profile.Updater, logger *slog.Logger) *Service {
	meter := telemetry.Meter("accordo/engine")
	turnDur, _ := meter.Float64Histogram("accordo.turn.duration",
		metric.WithDescription("End-to-end turn processing time (ms)"),
		metric.WithUnit("ms"),
	)
	extractDur, _ := meter.Float64Histogram("accordo.extraction.duration",
		metric.WithDescription("Offer extraction time (ms)"),
		metric.WithUnit("ms"),
	)
	decisions, _ := meter.Int64Counter("accordo.decisions",
		metric.WithDescription("Turn decisions by action"),
	)
	return &Service{
		db:              db,
		resolver:        resolver,
		extractor:       extractor,
		patterns:        patternSvc,
		profiles:        profiles,
		logger:          logger,
		turnDuration:    turnDur,
		extractDuration: extractDur,
		decisionCount:   decisions,
	}
}

// CreateDeal resolves and validates the preference config, then persists the
// deal and its config snapshot atomically. The resolved config is cached for
// the negotiation's lifetime.
func (s *Service) CreateDeal(ctx context.Context, req model.CreateDealRequest) (model.Deal, error) {
	if req.VendorID == uuid.Nil {
		return model.Deal{}, fmt.Errorf("engine: vendor_id is required: %w", model.ErrInvalidInput)
	}
	if req.Title == "" {
		return model.Deal{}, fmt.Errorf("engine: title is required: %w", model.ErrInvalidInput)
	}

	dealID := uuid.New()
	cfg, err := s.resolver.Resolve(ctx, dealID, req.VendorID, req.TemplateID, req.Override)
	if err != nil {
		return model.Deal{}, err
	}

	deal, err := s.db.CreateDealTx(ctx, model.Deal{
		ID:            dealID,
		VendorID:      req.VendorID,
		RequisitionID: req.RequisitionID,
		Title:         req.Title,
	}, cfg)
	if err != nil {
		s.resolver.Evict(dealID)
		return model.Deal{}, err
	}

	s.logger.Info("deal created",
		"deal_id", deal.ID, "vendor_id", deal.VendorID, "max_rounds", cfg.MaxRounds)
	return deal, nil
}

// CreateTemplate stores a named reusable config that deals can adopt via
// template_id at creation.
func (s *Service) CreateTemplate(ctx context.Context, req model.CreateTemplateRequest) (model.Template, error) {
	if req.Name == "" {
		return model.Template{}, fmt.Errorf("engine: template name is required: %w", model.ErrInvalidInput)
	}
	cfg, err := pref.BuildTemplate(req.Override)
	if err != nil {
		return model.Template{}, err
	}

	id := uuid.New()
	if err := s.db.CreateTemplate(ctx, id, req.Name, cfg); err != nil {
		return model.Template{}, err
	}
	s.logger.Info("template created", "template_id", id, "name", req.Name)
	return model.Template{ID: id, Name: req.Name, Config: cfg}, nil
}

// Get returns a deal by ID.
func (s *Service) Get(ctx context.Context, dealID uuid.UUID) (model.Deal, error) {
	return s.db.GetDeal(ctx, dealID)
}

// Rounds returns a deal's full round history, oldest first.
func (s *Service) Rounds(ctx context.Context, dealID uuid.UUID) ([]model.NegotiationRound, error) {
	if _, err := s.db.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	return s.db.ListRounds(ctx, dealID)
}

// RecentRounds returns up to n most recent rounds, newest first. Serves tail
// views of long negotiations without shipping the whole history.
func (s *Service) RecentRounds(ctx context.Context, dealID uuid.UUID, n int) ([]model.NegotiationRound, error) {
	if _, err := s.db.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	return s.db.LatestRounds(ctx, dealID, n)
}

// TrainingExamples returns the generated suggestions captured for a deal, in
// round order. Export surface for the offer-generation tuning pipeline.
func (s *Service) TrainingExamples(ctx context.Context, dealID uuid.UUID) ([]model.TrainingExample, error) {
	if _, err := s.db.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	return s.db.ListTrainingExamples(ctx, dealID)
}

// Resume transitions an ESCALATED deal back to NEGOTIATING after a human
// decision. Round numbering continues from the last persisted round.
func (s *Service) Resume(ctx context.Context, dealID uuid.UUID) (model.Deal, error) {
	deal, err := s.db.ResumeDeal(ctx, dealID)
	if err != nil {
		return model.Deal{}, err
	}
	s.logger.Info("deal resumed", "deal_id", deal.ID, "round", deal.Round)
	return deal, nil
}

// Archive soft-deletes a deal. Archiving an ESCALATED deal counts as
// abandoning it, which closes it into the vendor's profile with the
// ESCALATED outcome.
func (s *Service) Archive(ctx context.Context, dealID uuid.UUID) error {
	deal, err := s.db.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}
	if err := s.db.ArchiveDeal(ctx, dealID); err != nil {
		return err
	}
	s.resolver.Evict(dealID)

	if deal.Status == model.DealEscalated {
		sample, err := s.closureSample(ctx, deal)
		if err != nil {
			s.logger.Warn("archive: closure sample failed", "deal_id", dealID, "error", err)
			return nil
		}
		s.profiles.OnDealClosedAsync(sample)
	}
	return nil
}

// SimilarPatterns returns closed negotiations resembling the given deal's
// configuration. Advisory only: lookup failures yield an empty set.
func (s *Service) SimilarPatterns(ctx context.Context, dealID uuid.UUID, limit int) ([]model.NegotiationPattern, error) {
	deal, err := s.db.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.config(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if s.patterns == nil {
		return nil, nil
	}
	return s.patterns.FindSimilar(ctx, cfg, deal, limit), nil
}

// Profile returns a vendor's behavioral profile.
func (s *Service) Profile(ctx context.Context, vendorID uuid.UUID) (model.VendorNegotiationProfile, error) {
	return s.db.GetProfile(ctx, vendorID)
}

// config returns the deal's preference snapshot, cache-first.
func (s *Service) config(ctx context.Context, dealID uuid.UUID) (model.NegotiationConfig, error) {
	if cfg, ok := s.resolver.Cached(dealID); ok {
		return cfg, nil
	}
	cfg, err := s.db.GetConfigByDeal(ctx, dealID)
	if err != nil {
		return model.NegotiationConfig{}, err
	}
	s.resolver.Cache(cfg)
	return cfg, nil
}

// lockDeal acquires the per-deal turn mutex. The returned func releases it.
func (s *Service) lockDeal(dealID uuid.UUID) func() {
	v, _ := s.dealLocks.LoadOrStore(dealID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// closureSample summarizes a finished deal for the profile updater.
func (s *Service) closureSample(ctx context.Context, deal model.Deal) (profile.ClosureSample, error) {
	rounds, err := s.db.ListRounds(ctx, deal.ID)
	if err != nil {
		return profile.ClosureSample{}, err
	}
	utility := 0.0
	if deal.LatestUtility != nil {
		utility = *deal.LatestUtility
	}
	return profile.ClosureSample{
		DealID:         deal.ID,
		VendorID:       deal.VendorID,
		Outcome:        deal.Status,
		Rounds:         deal.Round,
		FinalUtility:   utility,
		ConcessionRate: profile.ConcessionRate(rounds),
	}, nil
}

// recordPattern stores the deal's fingerprint for later similarity retrieval.
// Best-effort with its own deadline; the turn has already been committed.
func (s *Service) recordPattern(deal model.Deal, cfg model.NegotiationConfig) {
	if s.patterns == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.patterns.Record(ctx, deal, cfg); err != nil {
		s.logger.Warn("pattern record failed", "deal_id", deal.ID, "error", err)
	}
}
