package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Middleware attaches the resolved session context to requests.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates session middleware.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger.Named("auth-middleware"),
	}
}

// RequireSession rejects requests without a valid session and attaches the
// session context otherwise.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.logger.Debug("Request without valid session",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			http.Error(w, `{"error":"no active session; select a member first"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// RequireSessionFunc is RequireSession for plain handler funcs, matching
// the mux.HandleFunc registration style.
func (m *Middleware) RequireSessionFunc(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.RequireSession(next).ServeHTTP(w, r)
	}
}

// HTTPContextFunc adapts session resolution for transports that take a
// context function instead of middleware (the MCP streamable HTTP server).
// Requests without a session pass through; tools reject them individually.
func (m *Middleware) HTTPContextFunc() func(ctx context.Context, r *http.Request) context.Context {
	return func(ctx context.Context, r *http.Request) context.Context {
		sess, err := m.authService.ValidateRequest(r)
		if err != nil {
			return ctx
		}
		return WithSession(ctx, sess)
	}
}
