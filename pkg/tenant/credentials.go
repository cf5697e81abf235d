package tenant

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/apperrors"
	"github.com/benefitsai/portal-engine/pkg/config"
	"github.com/benefitsai/portal-engine/pkg/logging"
	"github.com/benefitsai/portal-engine/pkg/models"
)

// CredentialStore resolves per-tenant service tokens from the environment.
// Tokens are read at resolution time and never cached across processes;
// a tenant id never resolves to another tenant's token.
type CredentialStore struct {
	cfg    config.TenantConfig
	getenv func(string) string
	logger *zap.Logger
}

// NewCredentialStore creates a CredentialStore and verifies at startup that
// at least one service token is present: either a tenant-specific
// <PREFIX><TENANT>_TOKEN or the shared <PREFIX>TOKEN fallback. Absence of
// all of them blocks query issuance entirely, so it fails here.
func NewCredentialStore(cfg config.TenantConfig, logger *zap.Logger) (*CredentialStore, error) {
	s := &CredentialStore{
		cfg:    cfg,
		getenv: os.Getenv,
		logger: logger.Named("credential-store"),
	}
	if err := s.validateStartup(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewCredentialStoreWithLookup is NewCredentialStore with an injectable
// environment lookup, so tests can run without touching process env.
func NewCredentialStoreWithLookup(cfg config.TenantConfig, getenv func(string) string, logger *zap.Logger) (*CredentialStore, error) {
	s := &CredentialStore{
		cfg:    cfg,
		getenv: getenv,
		logger: logger.Named("credential-store"),
	}
	if err := s.validateStartup(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CredentialStore) validateStartup() error {
	if strings.TrimSpace(s.getenv(s.fallbackKey())) != "" {
		return nil
	}
	for _, tenantID := range s.cfg.DomainMap {
		if strings.TrimSpace(s.getenv(s.tenantKey(tenantID))) != "" {
			return nil
		}
	}
	return fmt.Errorf("startup check failed (checked %s and per-tenant keys): %w",
		s.fallbackKey(), apperrors.ErrNoCredential)
}

// CredentialFor returns the service credential for a tenant. When the tenant
// has no dedicated token the shared fallback is substituted and the event is
// logged at warning level, since the fallback silently lowers isolation.
func (s *CredentialStore) CredentialFor(tenantID string) (models.TenantCredential, error) {
	key := s.tenantKey(tenantID)
	token := strings.TrimSpace(s.getenv(key))
	if token != "" {
		s.logger.Info("Resolved tenant service token",
			zap.String("tenant", tenantID),
			zap.String("env_key", key),
			zap.String("token", logging.MaskToken(token)))
		return models.TenantCredential{
			TenantID:     tenantID,
			SecretToken:  token,
			SourceEnvKey: key,
		}, nil
	}

	fallbackKey := s.fallbackKey()
	fallback := strings.TrimSpace(s.getenv(fallbackKey))
	if fallback == "" {
		return models.TenantCredential{}, fmt.Errorf("tenant %q: %w", tenantID, apperrors.ErrNoCredential)
	}

	// Degraded trust: the shared token is not scoped to this tenant.
	s.logger.Warn("Tenant-specific service token not found, falling back to shared token",
		zap.String("tenant", tenantID),
		zap.String("missing_env_key", key),
		zap.String("fallback_env_key", fallbackKey),
		zap.String("token", logging.MaskToken(fallback)))

	return models.TenantCredential{
		TenantID:     tenantID,
		SecretToken:  fallback,
		SourceEnvKey: fallbackKey,
		Fallback:     true,
	}, nil
}

// TenantEnvKey returns the environment key a tenant's token is read from.
// Used by the security-context endpoint to show members where their
// isolation comes from.
func (s *CredentialStore) TenantEnvKey(tenantID string) string {
	return s.tenantKey(tenantID)
}

func (s *CredentialStore) tenantKey(tenantID string) string {
	return s.cfg.TokenEnvPrefix + strings.ToUpper(tenantID) + "_TOKEN"
}

func (s *CredentialStore) fallbackKey() string {
	return s.cfg.TokenEnvPrefix + "TOKEN"
}
