package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/auth"
	"github.com/benefitsai/portal-engine/pkg/services"
)

// MembersHandler exposes the roster and session selection. Selecting a
// member is the portal's login: everything downstream is scoped to the
// selected member's email.
type MembersHandler struct {
	roster      services.RosterService
	authService auth.AuthService
	portal      services.PortalService
	logger      *zap.Logger
}

// NewMembersHandler creates a new MembersHandler.
func NewMembersHandler(roster services.RosterService, authService auth.AuthService, portal services.PortalService, logger *zap.Logger) *MembersHandler {
	return &MembersHandler{
		roster:      roster,
		authService: authService,
		portal:      portal,
		logger:      logger,
	}
}

// RegisterRoutes registers the members handler's routes on the given mux.
func (h *MembersHandler) RegisterRoutes(mux *http.ServeMux, mw *auth.Middleware) {
	mux.HandleFunc("GET /api/members", h.List)
	mux.HandleFunc("POST /api/session", h.Select)
	mux.HandleFunc("DELETE /api/session", h.End)
	mux.HandleFunc("GET /api/session/security-context", mw.RequireSessionFunc(h.SecurityContext))
}

// List handles GET /api/members. The roster is not sensitive: it is the
// selection list, not the data behind it.
func (h *MembersHandler) List(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"members": h.roster.Members(),
	}); err != nil {
		h.logger.Error("Failed to encode members response", zap.Error(err))
	}
}

type selectRequest struct {
	MemberID string `json:"member_id"`
}

// Select handles POST /api/session. It binds the caller to a roster member
// and returns the new session.
func (h *MembersHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.MemberID == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "member_id is required")
		return
	}

	sess, err := h.authService.IssueSession(w, r, req.MemberID)
	if err != nil {
		h.logger.Warn("Member selection failed",
			zap.String("member_id", req.MemberID),
			zap.Error(err))
		_ = serviceError(w, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"member":     sess.Principal,
	}); err != nil {
		h.logger.Error("Failed to encode session response", zap.Error(err))
	}
}

// End handles DELETE /api/session.
func (h *MembersHandler) End(w http.ResponseWriter, r *http.Request) {
	if err := h.authService.ClearSession(w, r); err != nil {
		_ = serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SecurityContext handles GET /api/session/security-context. It shows the
// member which tenant credential scopes their session, with the token masked.
func (h *MembersHandler) SecurityContext(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.GetSession(r.Context())

	if err := WriteJSON(w, http.StatusOK, h.portal.SecurityContext(sess)); err != nil {
		h.logger.Error("Failed to encode security context", zap.Error(err))
	}
}
