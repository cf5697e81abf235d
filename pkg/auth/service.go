package auth

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/apperrors"
	"github.com/benefitsai/portal-engine/pkg/config"
	"github.com/benefitsai/portal-engine/pkg/semanticlayer"
	"github.com/benefitsai/portal-engine/pkg/services"
)

const tokenSessionValue = "token"

// AuthService defines the interface for session operations. The portal has
// no password login: a member is selected from the roster and the session
// binds everything that follows to that member.
type AuthService interface {
	// IssueSession creates a session for the selected member and sets the
	// session cookie on the response.
	IssueSession(w http.ResponseWriter, r *http.Request, memberID string) (*services.SessionContext, error)

	// ValidateRequest resolves the session cookie back to a session context.
	ValidateRequest(r *http.Request) (*services.SessionContext, error)

	// ClearSession removes the session cookie and forgets the session.
	ClearSession(w http.ResponseWriter, r *http.Request) error
}

type authService struct {
	cfg         config.SessionConfig
	store       *sessions.CookieStore
	roster      services.RosterService
	connections *semanticlayer.ConnectionManager
	logger      *zap.Logger

	mu     sync.Mutex
	active map[string]*services.SessionContext
}

// NewAuthService creates the session service. The signing key doubles as
// the cookie store key; it must be set outside of local development.
func NewAuthService(cfg config.SessionConfig, roster services.RosterService, connections *semanticlayer.ConnectionManager, logger *zap.Logger) (AuthService, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("session key is not configured")
	}

	store := sessions.NewCookieStore([]byte(cfg.Key))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.TTLMinutes * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &authService{
		cfg:         cfg,
		store:       store,
		roster:      roster,
		connections: connections,
		logger:      logger.Named("auth"),
		active:      make(map[string]*services.SessionContext),
	}, nil
}

var _ AuthService = (*authService)(nil)

func (s *authService) IssueSession(w http.ResponseWriter, r *http.Request, memberID string) (*services.SessionContext, error) {
	principal, err := s.roster.ByID(memberID)
	if err != nil {
		return nil, err
	}

	sess, err := services.NewSessionContext(principal, s.connections)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.cfg.TTLMinutes) * time.Minute)),
		},
		SessionID: sess.ID,
		MemberID:  principal.ID,
		Email:     principal.Email,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Key))
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	cookie, err := s.store.Get(r, s.cfg.CookieName)
	if err != nil {
		// A stale or tampered cookie decodes to an error but still yields a
		// fresh session to write into.
		s.logger.Debug("Replacing undecodable session cookie", zap.Error(err))
	}
	cookie.Values[tokenSessionValue] = token
	if err := cookie.Save(r, w); err != nil {
		return nil, fmt.Errorf("save session cookie: %w", err)
	}

	s.mu.Lock()
	s.active[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("Session issued",
		zap.String("session_id", sess.ID),
		zap.String("member_id", principal.ID))
	return sess, nil
}

func (s *authService) ValidateRequest(r *http.Request) (*services.SessionContext, error) {
	cookie, err := s.store.Get(r, s.cfg.CookieName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNoSession, err)
	}

	tokenString, ok := cookie.Values[tokenSessionValue].(string)
	if !ok || tokenString == "" {
		return nil, apperrors.ErrNoSession
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Key), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid session token", apperrors.ErrNoSession)
	}

	s.mu.Lock()
	sess, ok := s.active[claims.SessionID]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	// Token outlived the process (restart). Rebuild the context from the
	// roster under the same session id so audit trails stay continuous.
	principal, err := s.roster.ByID(claims.MemberID)
	if err != nil {
		return nil, fmt.Errorf("%w: member no longer in roster", apperrors.ErrNoSession)
	}
	sess, err = services.NewSessionContext(principal, s.connections)
	if err != nil {
		return nil, err
	}
	sess.ID = claims.SessionID

	s.mu.Lock()
	s.active[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("Session rebuilt from token",
		zap.String("session_id", sess.ID),
		zap.String("member_id", principal.ID))
	return sess, nil
}

func (s *authService) ClearSession(w http.ResponseWriter, r *http.Request) error {
	cookie, _ := s.store.Get(r, s.cfg.CookieName)

	if tokenString, ok := cookie.Values[tokenSessionValue].(string); ok && tokenString != "" {
		claims := &Claims{}
		if _, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			return []byte(s.cfg.Key), nil
		}); err == nil {
			s.mu.Lock()
			delete(s.active, claims.SessionID)
			s.mu.Unlock()
		}
	}

	cookie.Options.MaxAge = -1
	delete(cookie.Values, tokenSessionValue)
	return cookie.Save(r, w)
}
