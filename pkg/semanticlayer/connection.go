package semanticlayer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/config"
	"github.com/benefitsai/portal-engine/pkg/logging"
	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/tenant"
)

// ConnectionManager owns the single active backend connection for a session.
// It rebuilds the connection when the active member's tenant changes and
// otherwise hands back the cached descriptor unchanged, so connection churn
// is bounded to tenant switches.
type ConnectionManager struct {
	cfg         config.SemanticLayerConfig
	resolver    *tenant.Resolver
	credentials *tenant.CredentialStore
	logger      *zap.Logger

	mu        sync.Mutex
	current   *models.ConnAttr
	attrCache map[string]*models.ConnAttr
	onRebuild func(old *models.ConnAttr)
}

// NewConnectionManager creates a manager over the given resolver and
// credential store.
func NewConnectionManager(cfg config.SemanticLayerConfig, resolver *tenant.Resolver, credentials *tenant.CredentialStore, logger *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		cfg:         cfg,
		resolver:    resolver,
		credentials: credentials,
		logger:      logger.Named("connection-manager"),
		attrCache:   make(map[string]*models.ConnAttr),
	}
}

// SetRebuildHook registers a callback invoked with the replaced descriptor
// whenever the connection is rebuilt. Downstream caches keyed by the old
// descriptor (metric catalog, saved queries) invalidate themselves here.
func (m *ConnectionManager) SetRebuildHook(hook func(old *models.ConnAttr)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRebuild = hook
}

// Ensure returns the connection descriptor for the member's tenant. For a
// fixed member with unchanged tenant, repeated calls return the same
// descriptor without rebuilding. A tenant change forces a rebuild regardless
// of forceRefresh. When no credential can be resolved at all, the error is
// terminal: query issuance must stop rather than proceed unauthenticated.
func (m *ConnectionManager) Ensure(principal *models.Principal, forceRefresh bool) (*models.ConnAttr, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}

	tenantID := m.resolver.Resolve(principal.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.TenantID == tenantID && !forceRefresh {
		return m.current, nil
	}

	if m.current != nil && m.current.TenantID != tenantID {
		m.logger.Info("Tenant changed, rebuilding connection",
			zap.String("previous_tenant", m.current.TenantID),
			zap.String("tenant", tenantID))
	}

	jdbcURL, err := m.resolveDescriptor(tenantID)
	if err != nil {
		return nil, err
	}

	if forceRefresh {
		delete(m.attrCache, jdbcURL)
	}

	attrs, ok := m.attrCache[jdbcURL]
	if ok && attrs.TenantID != tenantID {
		// Operator JDBC_URL override: one descriptor string serves every
		// tenant, so re-stamp a copy rather than mutating the cached value.
		clone := *attrs
		clone.TenantID = tenantID
		attrs = &clone
		m.attrCache[jdbcURL] = attrs
	}
	if !ok {
		attrs, err = ParseJDBCURL(jdbcURL)
		if err != nil {
			return nil, fmt.Errorf("build connection attributes: %w", err)
		}
		attrs.TenantID = tenantID
		m.attrCache[jdbcURL] = attrs

		m.logger.Info("Constructed connection attributes",
			zap.String("host", attrs.Host),
			zap.String("environment_id", attrs.EnvironmentID()),
			zap.String("tenant", tenantID),
			zap.String("auth_header", logging.SanitizeAuthHeader(attrs.AuthHeader)))
	}

	old := m.current
	m.current = attrs // replace, never mutate in place

	if old != nil && old != attrs && m.onRebuild != nil {
		m.onRebuild(old)
	}

	return m.current, nil
}

// resolveDescriptor produces the JDBC URL for a tenant: the operator
// override when configured, otherwise host + environment + the tenant's
// resolved token.
func (m *ConnectionManager) resolveDescriptor(tenantID string) (string, error) {
	if m.cfg.JDBCURL != "" {
		return m.cfg.JDBCURL, nil
	}

	cred, err := m.credentials.CredentialFor(tenantID)
	if err != nil {
		return "", err
	}

	return BuildJDBCURL(m.cfg.Host, m.cfg.EnvironmentID, cred.SecretToken), nil
}
