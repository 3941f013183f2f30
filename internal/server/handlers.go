package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/accordo-ai/accordo/internal/engine"
	"github.com/accordo-ai/accordo/internal/model"
	"github.com/accordo-ai/accordo/internal/storage"
)

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	engine  *engine.Service
	db      *storage.DB
	logger  *slog.Logger
	version string
}

// HandlersDeps holds dependencies for creating Handlers.
type HandlersDeps struct {
	Engine  *engine.Service
	DB      *storage.DB
	Logger  *slog.Logger
	Version string
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		engine:  deps.Engine,
		db:      deps.DB,
		logger:  deps.Logger,
		version: deps.Version,
	}
}

// HandleCreateDeal handles POST /v1/deals.
func (h *Handlers) HandleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var req model.CreateDealRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	deal, err := h.engine.CreateDeal(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, deal)
}

// HandleCreateTemplate handles POST /v1/templates.
func (h *Handlers) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	tpl, err := h.engine.CreateTemplate(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, tpl)
}

// HandleTurn handles POST /v1/deals/{deal_id}/turns.
//
// A double extraction failure is not a dropped turn: the engine records a
// FAILED round and escalates, and the response carries both the error code
// and the escalated state.
func (h *Handlers) HandleTurn(w http.ResponseWriter, r *http.Request) {
	dealID, ok := parseIDPath(w, r, "deal_id")
	if !ok {
		return
	}

	var req model.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
		return
	}

	result, err := h.engine.Turn(r.Context(), dealID, req)
	if err != nil {
		if errors.Is(err, model.ErrExtractionFailed) && result.Action == model.ActionFailed {
			writeErrorWith(w, r, http.StatusUnprocessableEntity, model.ErrCodeExtractionFailed,
				"offer extraction failed, deal escalated", result)
			return
		}
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleResume handles POST /v1/deals/{deal_id}/resume.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	dealID, ok := parseIDPath(w, r, "deal_id")
	if !ok {
		return
	}
	deal, err := h.engine.Resume(r.Context(), dealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, deal)
}

// HandleGetDeal handles GET /v1/deals/{deal_id}.
func (h *Handlers) HandleGetDeal(w http.ResponseWriter, r *http.Request) {
	dealID, ok := parseIDPath(w, r, "deal_id")
	if !ok {
		return
	}
	deal, err := h.engine.Get(r.Context(), dealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, deal)
}

// HandleListRounds handles GET /v1/deals/{deal_id}/rounds.
// Without a limit the full history returns oldest first; with ?limit=N the N
// most recent rounds return newest first.
func (h *Handlers) HandleListRounds(w http.ResponseWriter, r *http.Request) {
	dealID, ok := parseIDPath(w, r, "deal_id")
	if !ok {
		return
	}

	var (
		rounds []model.NegotiationRound
		err    error
	)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 || n > 200 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be between 1 and 200")
			return
		}
		rounds, err = h.engine.RecentRounds(r.Context(), dealID, n)
	} else {
		rounds, err = h.engine.Rounds(r.Context(), dealID)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if rounds == nil {
		rounds = []model.NegotiationRound{}
	}
	writeJSON(w, r, http.StatusOK, rounds)
}

// HandleListTraining handles GET /v1/deals/{deal_id}/training: the captured
// counter/MESO suggestions for the offer-generation tuning pipeline.
func (h *Handlers) HandleListTraining(w http.ResponseWriter, r *http.Request) {
	dealID, ok := parseIDPath(w, r, "deal_id")
	if !ok {
		return
	}
	examples, err := h.engine.TrainingExamples(r.Context(), dealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if examples == nil {
		examples = []model.TrainingExample{}
	}
	writeJSON(w, r, http.StatusOK, examples)
}

// HandleSimilar handles GET /v1/deals/{deal_id}/similar.
// Advisory lookup: an unavailable index yields an empty list, never an error.
func (h *Handlers) HandleSimilar(w http.ResponseWriter, r *http.Request) {
	dealID, ok := parseIDPath(w, r, "deal_id")
	if !ok {
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 50 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	similar, err := h.engine.SimilarPatterns(r.Context(), dealID, limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if similar == nil {
		similar = []model.NegotiationPattern{}
	}
	writeJSON(w, r, http.StatusOK, similar)
}

// HandleArchiveDeal handles DELETE /v1/deals/{deal_id} (soft delete).
func (h *Handlers) HandleArchiveDeal(w http.ResponseWriter, r *http.Request) {
	dealID, ok := parseIDPath(w, r, "deal_id")
	if !ok {
		return
	}
	if err := h.engine.Archive(r.Context(), dealID); err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "archived"})
}

// HandleGetProfile handles GET /v1/vendors/{vendor_id}/profile.
func (h *Handlers) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := parseIDPath(w, r, "vendor_id")
	if !ok {
		return
	}
	p, err := h.engine.Profile(r.Context(), vendorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("health: database unreachable", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]string{"status": status, "version": h.version})
}

// respondError maps domain errors onto HTTP statuses and envelope codes.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, model.ErrConfigInvalid):
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeConfigInvalid, err.Error())
	case errors.Is(err, model.ErrRoundConflict):
		writeError(w, r, http.StatusConflict, model.ErrCodeRoundConflict, err.Error())
	case errors.Is(err, model.ErrDealNotFound), errors.Is(err, model.ErrProfileNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, model.ErrDealArchived), errors.Is(err, model.ErrDealClosed):
		writeError(w, r, http.StatusConflict, model.ErrCodeDealClosed, err.Error())
	default:
		h.logger.Error("request failed",
			"error", err, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
	}
}

// parseIDPath extracts and parses a UUID path parameter, writing a 400 on
// failure.
func parseIDPath(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// writeErrorWith writes an error envelope carrying structured details.
func writeErrorWith(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message, Details: details},
		Meta:  responseMeta(r),
	})
}
