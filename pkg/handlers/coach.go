package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/agent"
	"github.com/benefitsai/portal-engine/pkg/auth"
)

// CoachHandler exposes the benefits-coach agent.
type CoachHandler struct {
	coach  agent.CoachAgent
	logger *zap.Logger
}

// NewCoachHandler creates a new CoachHandler. The coach may be nil when no
// agent endpoint is configured; the route then reports unavailability.
func NewCoachHandler(coach agent.CoachAgent, logger *zap.Logger) *CoachHandler {
	return &CoachHandler{coach: coach, logger: logger}
}

// RegisterRoutes registers the coach handler's routes on the given mux.
func (h *CoachHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("POST /api/coach", mw.RequireSessionFunc(h.Ask))
}

type coachRequest struct {
	Question string `json:"question"`
}

// Ask handles POST /api/coach.
func (h *CoachHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.coach == nil {
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "coach_unavailable", "the benefits coach is not configured")
		return
	}

	sess, _ := auth.GetSession(r.Context())

	var req coachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Question == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	reply, err := h.coach.Ask(r.Context(), sess, req.Question)
	if err != nil {
		h.logger.Error("Coach request failed", zap.Error(err))
		_ = serviceError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, reply); err != nil {
		h.logger.Error("Failed to encode coach response", zap.Error(err))
	}
}
