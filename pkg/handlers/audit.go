package handlers

import (
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/audit"
	"github.com/benefitsai/portal-engine/pkg/auth"
)

// operatorKeyHeader carries the key authorizing destructive audit actions.
const operatorKeyHeader = "X-Operator-Key"

// AuditHandler exposes the audit log for inspection. The violations endpoint
// is the post-hoc scan: it re-checks every recorded entry for the identity
// filter instead of trusting that enforcement ran.
type AuditHandler struct {
	auditLog    *audit.Log
	operatorKey string
	logger      *zap.Logger
}

// NewAuditHandler creates a new AuditHandler. The operator key gates the
// clear endpoint; an empty key disables it.
func NewAuditHandler(auditLog *audit.Log, operatorKey string, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{auditLog: auditLog, operatorKey: operatorKey, logger: logger}
}

// RegisterRoutes registers the audit handler's routes on the given mux.
func (h *AuditHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("GET /api/audit/entries", mw.RequireSessionFunc(h.Entries))
	mux.HandleFunc("GET /api/audit/stats", mw.RequireSessionFunc(h.Stats))
	mux.HandleFunc("GET /api/audit/violations", mw.RequireSessionFunc(h.Violations))
	mux.HandleFunc("DELETE /api/audit/entries", mw.RequireSessionFunc(h.Clear))
}

// Entries handles GET /api/audit/entries.
func (h *AuditHandler) Entries(w http.ResponseWriter, r *http.Request) {
	entries := h.auditLog.Entries()
	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	}); err != nil {
		h.logger.Error("Failed to encode audit entries", zap.Error(err))
	}
}

// Stats handles GET /api/audit/stats.
func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, h.auditLog.Stats()); err != nil {
		h.logger.Error("Failed to encode audit stats", zap.Error(err))
	}
}

// Violations handles GET /api/audit/violations.
func (h *AuditHandler) Violations(w http.ResponseWriter, r *http.Request) {
	violations := h.auditLog.Violations()
	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"violations": violations,
		"count":      len(violations),
		"clean":      len(violations) == 0,
	}); err != nil {
		h.logger.Error("Failed to encode audit violations", zap.Error(err))
	}
}

// Clear handles DELETE /api/audit/entries. A member session is not enough:
// the request must also carry the configured operator key.
func (h *AuditHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if h.operatorKey == "" {
		_ = ErrorResponse(w, http.StatusForbidden, "operator_required", "audit log clearing is not enabled")
		return
	}
	provided := r.Header.Get(operatorKeyHeader)
	if subtle.ConstantTimeCompare([]byte(h.operatorKey), []byte(provided)) != 1 {
		h.logger.Warn("Audit clear rejected: invalid operator key")
		_ = ErrorResponse(w, http.StatusForbidden, "operator_required", "a valid operator key is required")
		return
	}

	removed := h.auditLog.Clear()
	h.logger.Info("Audit log cleared by operator", zap.Int("removed", removed))
	if err := WriteJSON(w, http.StatusOK, map[string]any{"removed": removed}); err != nil {
		h.logger.Error("Failed to encode audit clear response", zap.Error(err))
	}
}
