// Package auth provides cookie-session authentication for the portal.
// A member selects themselves from the roster, gets a signed session token,
// and every subsequent request resolves back to that member's context.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/benefitsai/portal-engine/pkg/services"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// SessionKey is the context key for storing the resolved session context.
const SessionKey contextKey = "session"

// Claims is the JWT claims structure carried inside the session cookie.
// It embeds RegisteredClaims for standard JWT fields (sub, exp, iat) and
// adds the portal's session binding.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	MemberID  string `json:"mid"`
	Email     string `json:"email,omitempty"`
}

// GetSession retrieves the session context from the request context.
// Returns nil and false if no session is present.
func GetSession(ctx context.Context) (*services.SessionContext, bool) {
	sess, ok := ctx.Value(SessionKey).(*services.SessionContext)
	return sess, ok
}

// WithSession returns a context carrying the session.
func WithSession(ctx context.Context, sess *services.SessionContext) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}
