package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/auth"
	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/services"
)

// QueryHandler exposes the metric catalog and query execution.
type QueryHandler struct {
	portal services.PortalService
	logger *zap.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(portal services.PortalService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{portal: portal, logger: logger}
}

// RegisterRoutes registers the query handler's routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("GET /api/metrics", mw.RequireSessionFunc(h.Metrics))
	mux.HandleFunc("POST /api/query", mw.RequireSessionFunc(h.Execute))
	mux.HandleFunc("GET /api/saved-queries", mw.RequireSessionFunc(h.SavedQueries))
	mux.HandleFunc("POST /api/saved-queries/{name}/run", mw.RequireSessionFunc(h.RunSavedQuery))
}

// Metrics handles GET /api/metrics. It loads the catalog for the session's
// connection on every call; the portal caches underneath, per tenant.
func (h *QueryHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.GetSession(r.Context())

	catalog, err := h.portal.LoadCatalog(r.Context(), sess)
	if err != nil {
		h.logger.Error("Failed to load metric catalog", zap.Error(err))
		_ = serviceError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"metrics": catalog}); err != nil {
		h.logger.Error("Failed to encode metrics response", zap.Error(err))
	}
}

type executeRequest struct {
	models.QueryRequest
	Origin string `json:"origin,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Execute handles POST /api/query. The body is a query request plus an
// optional origin page; the kind defaults to a builder query.
func (h *QueryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.GetSession(r.Context())

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := req.QueryRequest.Validate(); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	kind := req.Kind
	switch kind {
	case "":
		kind = models.QueryKindBuilder
	case models.QueryKindDashboard, models.QueryKindBuilder:
	default:
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "kind must be dashboard or builder")
		return
	}

	outcome, err := h.portal.ExecuteQuery(r.Context(), sess, services.QueryInput{
		Kind:    kind,
		Origin:  req.Origin,
		Request: &req.QueryRequest,
	})
	if err != nil {
		h.logger.Warn("Query rejected", zap.Error(err))
		_ = serviceError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, outcome); err != nil {
		h.logger.Error("Failed to encode query response", zap.Error(err))
	}
}

// SavedQueries handles GET /api/saved-queries.
func (h *QueryHandler) SavedQueries(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.GetSession(r.Context())

	queries, err := h.portal.SavedQueries(r.Context(), sess)
	if err != nil {
		h.logger.Error("Failed to list saved queries", zap.Error(err))
		_ = serviceError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"saved_queries": queries}); err != nil {
		h.logger.Error("Failed to encode saved queries response", zap.Error(err))
	}
}

// RunSavedQuery handles POST /api/saved-queries/{name}/run.
func (h *QueryHandler) RunSavedQuery(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.GetSession(r.Context())

	name := r.PathValue("name")
	if name == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "saved query name is required")
		return
	}

	outcome, err := h.portal.RunSavedQuery(r.Context(), sess, name, "saved-queries")
	if err != nil {
		h.logger.Warn("Saved query failed",
			zap.String("name", name),
			zap.Error(err))
		_ = serviceError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, outcome); err != nil {
		h.logger.Error("Failed to encode saved query response", zap.Error(err))
	}
}
