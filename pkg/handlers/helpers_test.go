package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/agent"
	"github.com/benefitsai/portal-engine/pkg/audit"
	"github.com/benefitsai/portal-engine/pkg/auth"
	"github.com/benefitsai/portal-engine/pkg/config"
	"github.com/benefitsai/portal-engine/pkg/llm"
	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/security"
	"github.com/benefitsai/portal-engine/pkg/semanticlayer"
	"github.com/benefitsai/portal-engine/pkg/services"
	"github.com/benefitsai/portal-engine/pkg/tenant"
)

// stubExecutor is a configurable backend stand-in for handler tests.
type stubExecutor struct {
	MetricsFunc      func(ctx context.Context, conn *models.ConnAttr) ([]models.Metric, error)
	SavedQueriesFunc func(ctx context.Context, conn *models.ConnAttr) ([]models.SavedQuery, error)
	ExecuteQueryFunc func(ctx context.Context, conn *models.ConnAttr, query *models.QueryRequest) *semanticlayer.QueryOutcome

	LastRequest *models.QueryRequest
}

var _ services.QueryExecutor = (*stubExecutor)(nil)

func (s *stubExecutor) Metrics(ctx context.Context, conn *models.ConnAttr) ([]models.Metric, error) {
	if s.MetricsFunc != nil {
		return s.MetricsFunc(ctx, conn)
	}
	return []models.Metric{{
		Name: "total_claims",
		Dimensions: []models.Dimension{
			{Name: "member__email"},
			{Name: "plan_type"},
		},
	}}, nil
}

func (s *stubExecutor) SavedQueries(ctx context.Context, conn *models.ConnAttr) ([]models.SavedQuery, error) {
	if s.SavedQueriesFunc != nil {
		return s.SavedQueriesFunc(ctx, conn)
	}
	return []models.SavedQuery{{
		Name: "monthly_claims",
		QueryParams: map[string]any{
			"metrics": []any{map[string]any{"name": "total_claims"}},
		},
	}}, nil
}

func (s *stubExecutor) ExecuteQuery(ctx context.Context, conn *models.ConnAttr, query *models.QueryRequest) *semanticlayer.QueryOutcome {
	s.LastRequest = query
	if s.ExecuteQueryFunc != nil {
		return s.ExecuteQueryFunc(ctx, conn, query)
	}
	return &semanticlayer.QueryOutcome{
		Rows: []map[string]any{{"total_claims": 42}},
		SQL:  "SELECT COUNT(*) FROM claims",
	}
}

// apiFixture wires the full HTTP surface over a stub executor.
type apiFixture struct {
	mux      *http.ServeMux
	executor *stubExecutor
	auditLog *audit.Log
	matcher  *security.IdentityMatcher
	portal   services.PortalService

	// translator used by /api/ask; nil unless set before buildRoutes.
	translator *llm.Translator
	// coach used by /api/coach; nil unless set before buildRoutes.
	coach agent.CoachAgent

	cookies []*http.Cookie
}

func newAPIFixture(t *testing.T) *apiFixture {
	f := &apiFixture{executor: &stubExecutor{}}
	f.buildRoutes(t)
	return f
}

func newAPIFixtureWithTranslator(t *testing.T, chat llm.ChatClient) *apiFixture {
	f := &apiFixture{executor: &stubExecutor{}}
	f.translator = llm.NewTranslator(chat, zap.NewNop())
	f.buildRoutes(t)
	return f
}

func (f *apiFixture) buildRoutes(t *testing.T) {
	t.Helper()
	logger := zap.NewNop()

	tenantCfg := config.TenantConfig{
		DomainMap:      map[string]string{"techcorp.com": "techcorp", "retailplus.com": "retailplus"},
		DefaultTenant:  "default",
		TokenEnvPrefix: "DBT_",
	}
	env := map[string]string{
		"DBT_TECHCORP_TOKEN":   "dbts_techcorp_secret_1234",
		"DBT_RETAILPLUS_TOKEN": "dbts_retailplus_secret_5678",
	}

	resolver := tenant.NewResolver(tenantCfg)
	credentials, err := tenant.NewCredentialStoreWithLookup(tenantCfg,
		func(key string) string { return env[key] }, logger)
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}

	f.matcher = security.NewIdentityMatcher("member__email")
	enforcer := security.NewFilterEnforcer(f.matcher, logger)
	f.auditLog = audit.NewLog(f.matcher, logger)

	connections := semanticlayer.NewConnectionManager(config.SemanticLayerConfig{
		Host:          "semantic-layer.cloud.getdbt.com",
		EnvironmentID: "384973",
	}, resolver, credentials, logger)

	f.portal = services.NewPortalService(f.executor, enforcer, f.auditLog, resolver, credentials, connections, logger)

	roster, err := services.NewRoster([]models.Principal{
		{ID: "M1001", Email: "sarah.chen@techcorp.com", FirstName: "Sarah", LastName: "Chen"},
		{ID: "M2001", Email: "maria.garcia@retailplus.com", FirstName: "Maria", LastName: "Garcia"},
	}, logger)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}

	authService, err := auth.NewAuthService(config.SessionConfig{
		CookieName: "portal_session",
		Key:        "test-session-key-32-bytes-long!!",
		TTLMinutes: 60,
	}, roster, connections, logger)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	mw := auth.NewMiddleware(authService, logger)

	f.mux = http.NewServeMux()
	NewHealthHandler(&config.Config{Version: "test", Env: "test"}, logger).RegisterRoutes(f.mux)
	NewMembersHandler(roster, authService, f.portal, logger).RegisterRoutes(f.mux, mw)
	NewQueryHandler(f.portal, logger).RegisterRoutes(f.mux, mw)
	NewAuditHandler(f.auditLog, testOperatorKey, logger).RegisterRoutes(f.mux, mw)
	NewAskHandler(f.portal, f.translator, logger).RegisterRoutes(f.mux, mw)
	NewCoachHandler(f.coach, logger).RegisterRoutes(f.mux, mw)
}

const testOperatorKey = "test-operator-key"

// do runs a request through the mux, replaying any captured session cookies.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	return f.doWithHeaders(t, method, path, body, nil)
}

func (f *apiFixture) doWithHeaders(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	r := httptest.NewRequest(method, path, reader)
	for _, c := range f.cookies {
		r.AddCookie(c)
	}
	for key, value := range headers {
		r.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

// login selects a member and captures the session cookie for later requests.
func (f *apiFixture) login(t *testing.T, memberID string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/session", map[string]string{"member_id": memberID})
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	f.cookies = w.Result().Cookies()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}
