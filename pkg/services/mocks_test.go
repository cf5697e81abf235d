package services

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/config"
	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/security"
	"github.com/benefitsai/portal-engine/pkg/semanticlayer"
	"github.com/benefitsai/portal-engine/pkg/tenant"

	auditpkg "github.com/benefitsai/portal-engine/pkg/audit"
)

// mockExecutor is a configurable QueryExecutor for tests.
type mockExecutor struct {
	MetricsFunc      func(ctx context.Context, conn *models.ConnAttr) ([]models.Metric, error)
	SavedQueriesFunc func(ctx context.Context, conn *models.ConnAttr) ([]models.SavedQuery, error)
	ExecuteQueryFunc func(ctx context.Context, conn *models.ConnAttr, query *models.QueryRequest) *semanticlayer.QueryOutcome

	MetricsCalls      int
	SavedQueriesCalls int
	ExecuteQueryCalls int

	// LastRequest captures the request as the executor saw it, after
	// enforcement.
	LastRequest *models.QueryRequest
	LastConn    *models.ConnAttr
}

var _ QueryExecutor = (*mockExecutor)(nil)

func (m *mockExecutor) Metrics(ctx context.Context, conn *models.ConnAttr) ([]models.Metric, error) {
	m.MetricsCalls++
	if m.MetricsFunc != nil {
		return m.MetricsFunc(ctx, conn)
	}
	return []models.Metric{{Name: "total_claims"}}, nil
}

func (m *mockExecutor) SavedQueries(ctx context.Context, conn *models.ConnAttr) ([]models.SavedQuery, error) {
	m.SavedQueriesCalls++
	if m.SavedQueriesFunc != nil {
		return m.SavedQueriesFunc(ctx, conn)
	}
	return nil, nil
}

func (m *mockExecutor) ExecuteQuery(ctx context.Context, conn *models.ConnAttr, query *models.QueryRequest) *semanticlayer.QueryOutcome {
	m.ExecuteQueryCalls++
	m.LastRequest = query
	m.LastConn = conn
	if m.ExecuteQueryFunc != nil {
		return m.ExecuteQueryFunc(ctx, conn, query)
	}
	return &semanticlayer.QueryOutcome{
		Rows: []map[string]any{{"total_claims": 42}},
		SQL:  "SELECT COUNT(*) FROM claims",
	}
}

// portalFixture wires a portal service over a mock executor with real
// security, tenant and audit components.
type portalFixture struct {
	portal      PortalService
	executor    *mockExecutor
	auditLog    *auditpkg.Log
	matcher     *security.IdentityMatcher
	connections *semanticlayer.ConnectionManager
}

func newPortalFixture(t *testing.T) *portalFixture {
	return newPortalFixtureWithEnv(t, map[string]string{
		"DBT_TECHCORP_TOKEN": "dbts_techcorp_secret_1234",
	})
}

func newPortalFixtureWithEnv(t *testing.T, env map[string]string) *portalFixture {
	t.Helper()
	logger := zap.NewNop()

	tenantCfg := config.TenantConfig{
		DomainMap: map[string]string{
			"techcorp.com":   "techcorp",
			"retailplus.com": "retailplus",
		},
		DefaultTenant:  "default",
		TokenEnvPrefix: "DBT_",
	}

	resolver := tenant.NewResolver(tenantCfg)
	credentials, err := tenant.NewCredentialStoreWithLookup(tenantCfg,
		func(key string) string { return env[key] }, logger)
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}

	matcher := security.NewIdentityMatcher("member__email")
	enforcer := security.NewFilterEnforcer(matcher, logger)
	auditLog := auditpkg.NewLog(matcher, logger)

	connections := semanticlayer.NewConnectionManager(config.SemanticLayerConfig{
		Host:          "semantic-layer.cloud.getdbt.com",
		EnvironmentID: "384973",
	}, resolver, credentials, logger)

	executor := &mockExecutor{}
	portal := NewPortalService(executor, enforcer, auditLog, resolver, credentials, connections, logger)

	return &portalFixture{
		portal:      portal,
		executor:    executor,
		auditLog:    auditLog,
		matcher:     matcher,
		connections: connections,
	}
}

func (f *portalFixture) session(t *testing.T, email string) *SessionContext {
	t.Helper()
	sess, err := NewSessionContext(&models.Principal{ID: "M1001", Email: email}, f.connections)
	if err != nil {
		t.Fatalf("NewSessionContext: %v", err)
	}
	return sess
}
