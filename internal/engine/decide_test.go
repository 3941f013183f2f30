package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/accordo-ai/accordo/internal/model"
)

func decideConfig() model.NegotiationConfig {
	return model.NegotiationConfig{
		AcceptThreshold:   0.85,
		EscalateThreshold: 0.55,
		WalkAwayThreshold: 0.30,
		MaxRounds:         6,
		StalledEpsilon:    0.02,
		MesoRounds:        []int{2, 4},
	}
}

func f64(v float64) *float64 { return &v }

func TestDecide(t *testing.T) {
	cfg := decideConfig()

	tests := []struct {
		name       string
		utility    float64
		roundNum   int
		prev       *float64
		wantAction model.DecisionAction
		wantStatus model.DealStatus
	}{
		{"above accept threshold", 0.90, 1, nil, model.ActionAccept, model.DealAccepted},
		{"exactly at accept threshold", 0.85, 1, nil, model.ActionAccept, model.DealAccepted},
		{"below walk-away", 0.25, 1, nil, model.ActionWalkAway, model.DealWalkedAway},
		{"exactly at walk-away counters", 0.30, 1, nil, model.ActionCounter, model.DealNegotiating},
		{"round cap reached", 0.60, 6, nil, model.ActionEscalate, model.DealEscalated},
		{"round cap exceeded", 0.60, 9, nil, model.ActionEscalate, model.DealEscalated},
		{"stalled in escalate band", 0.60, 3, f64(0.595), model.ActionEscalate, model.DealEscalated},
		{"moving in escalate band", 0.60, 3, f64(0.50), model.ActionCounter, model.DealNegotiating},
		{"stalled below escalate band counters", 0.40, 3, f64(0.395), model.ActionCounter, model.DealNegotiating},
		{"no previous utility counters", 0.60, 3, nil, model.ActionCounter, model.DealNegotiating},
		{"mid-band first round", 0.50, 1, nil, model.ActionCounter, model.DealNegotiating},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, status := decide(cfg, tt.utility, tt.roundNum, tt.prev)
			assert.Equal(t, tt.wantAction, action)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestDecidePrecedence(t *testing.T) {
	cfg := decideConfig()

	// Accept wins even at the round cap.
	action, status := decide(cfg, 0.90, 6, nil)
	assert.Equal(t, model.ActionAccept, action)
	assert.Equal(t, model.DealAccepted, status)

	// Walk-away wins even at the round cap.
	action, status = decide(cfg, 0.10, 6, nil)
	assert.Equal(t, model.ActionWalkAway, action)
	assert.Equal(t, model.DealWalkedAway, status)

	// Round cap wins over the stalled check.
	action, _ = decide(cfg, 0.60, 6, f64(0.60))
	assert.Equal(t, model.ActionEscalate, action)
}

func TestIsMesoRound(t *testing.T) {
	cfg := decideConfig()

	assert.False(t, isMesoRound(cfg, 1))
	assert.True(t, isMesoRound(cfg, 2))
	assert.False(t, isMesoRound(cfg, 3))
	assert.True(t, isMesoRound(cfg, 4))
	assert.False(t, isMesoRound(cfg, 5))
}

func TestPreviousUtility(t *testing.T) {
	assert.Nil(t, previousUtility(nil))

	// FAILED rounds carry nil utility and are skipped.
	history := []model.NegotiationRound{
		{RoundNumber: 1, Utility: f64(0.5)},
		{RoundNumber: 2, Utility: f64(0.6)},
		{RoundNumber: 3, Utility: nil},
	}
	got := previousUtility(history)
	assert.NotNil(t, got)
	assert.Equal(t, 0.6, *got)

	// All unscored.
	assert.Nil(t, previousUtility([]model.NegotiationRound{{Utility: nil}}))
}
