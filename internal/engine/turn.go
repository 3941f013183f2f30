package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/accordo-ai/accordo/internal/meso"
	"github.com/accordo-ai/accordo/internal/model"
	"github.com/accordo-ai/accordo/internal/profile"
	"github.com/accordo-ai/accordo/internal/scoring"
	"github.com/accordo-ai/accordo/internal/strategy"
)

// mesoOptionCount is how many equivalent offers a MESO round presents.
const mesoOptionCount = 3

// Turn processes one negotiation turn: resolve the vendor's offer, score it,
// decide, build the next offer if countering, and persist the round atomically
// with the deal advance. Turns for the same deal are serialized; a stale
// ExpectedRound or a concurrent advance is rejected with RoundConflict.
//
// A double extraction failure does not drop the turn: a terminal-but-unscored
// FAILED round is recorded, the deal escalates, and the extraction error is
// surfaced alongside the result.
func (s *Service) Turn(ctx context.Context, dealID uuid.UUID, req model.TurnRequest) (model.TurnResult, error) {
	start := time.Now()
	unlock := s.lockDeal(dealID)
	defer unlock()

	deal, err := s.db.GetDeal(ctx, dealID)
	if err != nil {
		return model.TurnResult{}, err
	}
	switch {
	case deal.ArchivedAt != nil:
		return model.TurnResult{}, fmt.Errorf("engine: deal %s: %w", dealID, model.ErrDealArchived)
	case deal.Status != model.DealNegotiating:
		return model.TurnResult{}, fmt.Errorf("engine: deal %s in status %s: %w", dealID, deal.Status, model.ErrDealClosed)
	case req.ExpectedRound != nil && *req.ExpectedRound != deal.Round:
		return model.TurnResult{}, fmt.Errorf("engine: deal %s at round %d, caller expected %d: %w",
			dealID, deal.Round, *req.ExpectedRound, model.ErrRoundConflict)
	}

	cfg, err := s.config(ctx, dealID)
	if err != nil {
		return model.TurnResult{}, err
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("accordo.deal_id", dealID.String()),
		attribute.Int("accordo.round", deal.Round+1),
	)

	offer, source, extractErr := s.resolveOffer(ctx, req, cfg)
	if extractErr != nil {
		if errors.Is(extractErr, model.ErrInvalidInput) {
			return model.TurnResult{}, extractErr
		}
		return s.failTurn(ctx, deal, source, extractErr)
	}

	history, err := s.db.ListRounds(ctx, dealID)
	if err != nil {
		return model.TurnResult{}, err
	}

	roundNum := deal.Round + 1
	utility := scoring.Score(offer, cfg)
	action, newStatus := decide(cfg, utility, roundNum, previousUtility(history))

	round := model.NegotiationRound{
		DealID:           dealID,
		RoundNumber:      roundNum,
		VendorOffer:      &offer,
		Utility:          &utility,
		Action:           action,
		SelectedOptionID: req.SelectedOptionID,
		GenerationSource: source,
		InferredWeights:  s.inferSelection(cfg, history, req.SelectedOptionID),
	}

	var target float64
	if action == model.ActionCounter {
		target = strategy.TargetUtility(cfg, roundNum)
		if isMesoRound(cfg, roundNum) {
			if opts := meso.Generate(cfg, target, &offer, mesoOptionCount); len(opts) >= 2 {
				round.MesoOptions = opts
			}
		}
		if round.MesoOptions == nil {
			counter, _ := strategy.BuildCounter(cfg, roundNum, &offer)
			round.CounterOffer = &counter
		}
	}

	persisted, updated, err := s.db.AppendRoundTx(ctx, round, newStatus)
	if err != nil {
		return model.TurnResult{}, err
	}

	s.turnDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.decisionCount.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(action))))
	s.logger.Info("turn processed",
		"deal_id", dealID, "round", roundNum, "utility", utility,
		"action", action, "status", updated.Status)

	s.afterTurn(ctx, updated, cfg, persisted, append(history, persisted), target)

	return model.TurnResult{
		Deal:         updated,
		Round:        persisted,
		Action:       action,
		Utility:      &utility,
		CounterOffer: round.CounterOffer,
		MesoOptions:  round.MesoOptions,
	}, nil
}

// decide applies the threshold policy to a scored offer.
//
// Order matters: accept and walk-away are absolute, the round cap overrides
// the stalled check, and the stalled check only fires in the escalate band
// below acceptance.
func decide(cfg model.NegotiationConfig, utility float64, roundNum int, prevUtility *float64) (model.DecisionAction, model.DealStatus) {
	switch {
	case utility >= cfg.AcceptThreshold:
		return model.ActionAccept, model.DealAccepted
	case utility < cfg.WalkAwayThreshold:
		return model.ActionWalkAway, model.DealWalkedAway
	case roundNum >= cfg.MaxRounds:
		return model.ActionEscalate, model.DealEscalated
	case utility >= cfg.EscalateThreshold && prevUtility != nil &&
		math.Abs(utility-*prevUtility) < cfg.StalledEpsilon:
		// Plateaued below acceptance: the vendor has stopped moving.
		return model.ActionEscalate, model.DealEscalated
	default:
		return model.ActionCounter, model.DealNegotiating
	}
}

// resolveOffer turns the turn request into a structured offer. Exactly one of
// Offer or VendorMessage must be set; the message path runs the extraction
// chain (LLM first with timeout, rule-based fallback second).
func (s *Service) resolveOffer(ctx context.Context, req model.TurnRequest, cfg model.NegotiationConfig) (model.Offer, *model.GenerationSource, error) {
	switch {
	case req.Offer != nil && req.VendorMessage != nil:
		return model.Offer{}, nil, fmt.Errorf("engine: vendor_message and offer are mutually exclusive: %w", model.ErrInvalidInput)
	case req.Offer != nil:
		return *req.Offer, nil, nil
	case req.VendorMessage != nil:
		if len(*req.VendorMessage) > model.MaxVendorMessageLen {
			return model.Offer{}, nil, fmt.Errorf("engine: vendor_message exceeds %d bytes: %w",
				model.MaxVendorMessageLen, model.ErrInvalidInput)
		}
		start := time.Now()
		offer, src, err := s.extractor.Extract(ctx, *req.VendorMessage, cfg)
		s.extractDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		if err != nil {
			return model.Offer{}, nil, err
		}
		return offer, &src, nil
	default:
		return model.Offer{}, nil, fmt.Errorf("engine: one of vendor_message or offer is required: %w", model.ErrInvalidInput)
	}
}

// failTurn records a terminal-but-unscored FAILED round and escalates the
// deal, preserving audit continuity when both extractors fail. The extraction
// error is returned alongside the escalated state.
func (s *Service) failTurn(ctx context.Context, deal model.Deal, source *model.GenerationSource, cause error) (model.TurnResult, error) {
	note := cause.Error()
	round := model.NegotiationRound{
		DealID:           deal.ID,
		RoundNumber:      deal.Round + 1,
		Action:           model.ActionFailed,
		GenerationSource: source,
		Note:             &note,
	}
	persisted, updated, err := s.db.AppendRoundTx(ctx, round, model.DealEscalated)
	if err != nil {
		return model.TurnResult{}, fmt.Errorf("engine: record failed round: %w", err)
	}

	s.decisionCount.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(model.ActionFailed))))
	s.logger.Warn("turn failed, deal escalated",
		"deal_id", deal.ID, "round", round.RoundNumber, "error", cause)

	return model.TurnResult{
		Deal:   updated,
		Round:  persisted,
		Action: model.ActionFailed,
	}, cause
}

// inferSelection resolves a MESO selection against the previous round's
// option set into a vendor preference estimate, blended over prior
// observations. Returns nil when the turn carries no selection signal.
func (s *Service) inferSelection(cfg model.NegotiationConfig, history []model.NegotiationRound, selectedID *uuid.UUID) map[string]float64 {
	if selectedID == nil || len(history) == 0 {
		return nil
	}
	prev := history[len(history)-1]
	if len(prev.MesoOptions) == 0 {
		return nil
	}
	obs, ok := meso.InferWeights(cfg, prev.MesoOptions, *selectedID)
	if !ok {
		s.logger.Warn("meso selection did not match any offered option",
			"deal_id", prev.DealID, "selected_option_id", *selectedID)
		return nil
	}

	prior := cfg.Weights
	n := 1
	for _, r := range history {
		if len(r.InferredWeights) > 0 {
			prior = r.InferredWeights
			n++
		}
	}
	return meso.BlendWeights(prior, obs, n)
}

// afterTurn runs the off-path follow-ups: training-data capture, pattern
// recording, and profile updates. All best-effort; the round is already
// committed.
func (s *Service) afterTurn(ctx context.Context, deal model.Deal, cfg model.NegotiationConfig, round model.NegotiationRound, history []model.NegotiationRound, target float64) {
	if round.CounterOffer != nil || len(round.MesoOptions) > 0 {
		s.captureTraining(ctx, round, target)
	}

	switch deal.Status {
	case model.DealAccepted, model.DealWalkedAway:
		s.resolver.Evict(deal.ID)
		go s.recordPattern(deal, cfg)
		s.profiles.OnDealClosedAsync(profile.ClosureSample{
			DealID:         deal.ID,
			VendorID:       deal.VendorID,
			Outcome:        deal.Status,
			Rounds:         deal.Round,
			FinalUtility:   derefUtility(round.Utility),
			ConcessionRate: profile.ConcessionRate(history),
		})
	case model.DealEscalated:
		// Escalation may be resumed; the profile closure waits for a
		// terminal outcome or an archive. The pattern snapshot is still
		// worth recording (refreshed on re-close).
		go s.recordPattern(deal, cfg)
	default:
		if deal.Round >= 2 {
			s.profiles.OnRoundAsync(deal.VendorID, profile.ConcessionRate(history))
		}
	}
}

// captureTraining stores the generated suggestion for later tuning of the
// offer-generation models. Tagged with the source that produced the turn's
// offer; structured-offer turns count as the deterministic path.
func (s *Service) captureTraining(ctx context.Context, round model.NegotiationRound, target float64) {
	source := model.SourceFallback
	if round.GenerationSource != nil {
		source = *round.GenerationSource
	}
	suggestion := round.CounterOffer
	if suggestion == nil && len(round.MesoOptions) > 0 {
		suggestion = &round.MesoOptions[0].Offer
	}
	if suggestion == nil {
		return
	}
	ex := model.TrainingExample{
		DealID:        round.DealID,
		RoundNumber:   round.RoundNumber,
		TargetUtility: target,
		Suggestion:    *suggestion,
		Source:        source,
	}
	if err := s.db.InsertTrainingExample(ctx, ex); err != nil {
		s.logger.Warn("training capture failed", "deal_id", round.DealID, "error", err)
	}
}

func isMesoRound(cfg model.NegotiationConfig, roundNum int) bool {
	for _, r := range cfg.MesoRounds {
		if r == roundNum {
			return true
		}
	}
	return false
}

func previousUtility(history []model.NegotiationRound) *float64 {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Utility != nil {
			return history[i].Utility
		}
	}
	return nil
}

func derefUtility(u *float64) float64 {
	if u == nil {
		return 0
	}
	return *u
}
