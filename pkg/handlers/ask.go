package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/auth"
	"github.com/benefitsai/portal-engine/pkg/llm"
	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/semanticlayer"
	"github.com/benefitsai/portal-engine/pkg/services"
)

// AskHandler exposes the natural-language query path: a question is
// translated into a metric query and executed through the portal like any
// hand-built query.
type AskHandler struct {
	portal     services.PortalService
	translator *llm.Translator
	logger     *zap.Logger
}

// NewAskHandler creates a new AskHandler. The translator may be nil when no
// LLM endpoint is configured; the route then reports unavailability.
func NewAskHandler(portal services.PortalService, translator *llm.Translator, logger *zap.Logger) *AskHandler {
	return &AskHandler{
		portal:     portal,
		translator: translator,
		logger:     logger,
	}
}

// RegisterRoutes registers the ask handler's routes on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("POST /api/ask", mw.RequireSessionFunc(h.Ask))
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Explanation string                      `json:"explanation,omitempty"`
	Query       *models.QueryRequest        `json:"query"`
	Result      *semanticlayer.QueryOutcome `json:"result"`
}

// Ask handles POST /api/ask.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.translator == nil {
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "llm_unavailable", "natural-language queries are not configured")
		return
	}

	sess, _ := auth.GetSession(r.Context())

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Question == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	catalog, err := h.portal.LoadCatalog(r.Context(), sess)
	if err != nil {
		h.logger.Error("Failed to load catalog for translation", zap.Error(err))
		_ = serviceError(w, err)
		return
	}

	translated, err := h.translator.Translate(r.Context(), req.Question, catalog)
	if err != nil {
		h.logger.Warn("Translation failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusUnprocessableEntity, "translation_failed", err.Error())
		return
	}

	outcome, err := h.portal.ExecuteQuery(r.Context(), sess, services.QueryInput{
		Kind:    models.QueryKindLLM,
		Origin:  "ask",
		Request: translated.Request,
	})
	if err != nil {
		h.logger.Warn("Translated query rejected", zap.Error(err))
		_ = serviceError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, askResponse{
		Explanation: translated.Explanation,
		Query:       translated.Request,
		Result:      outcome,
	}); err != nil {
		h.logger.Error("Failed to encode ask response", zap.Error(err))
	}
}
