package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for portal-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (service tokens, session key, AI keys) must only come from environment
// variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8487"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Semantic layer routing
	SemanticLayer SemanticLayerConfig `yaml:"semantic_layer"`

	// Tenant resolution and credentials
	Tenants TenantConfig `yaml:"tenants"`

	// Member roster source
	RosterPath string `yaml:"roster_path" env:"ROSTER_PATH" env-default:"roster.yaml"`

	// Session cookie configuration
	Session SessionConfig `yaml:"session"`

	// Audit log administration
	Audit AuditConfig `yaml:"audit"`

	// Optional Postgres mirror for the audit log
	AuditMirror AuditMirrorConfig `yaml:"audit_mirror"`

	// AI entry points
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
}

// SemanticLayerConfig holds routing for the metrics backend.
type SemanticLayerConfig struct {
	// Host is the semantic layer endpoint, without scheme.
	Host string `yaml:"host" env:"DBT_SL_HOST" env-default:"semantic-layer.cloud.getdbt.com"`
	// EnvironmentID is the backend environment the portal queries.
	EnvironmentID string `yaml:"environment_id" env:"DBT_PROD_ENV_ID" env-default:"384973"`
	// JDBCURL overrides host/environment/token resolution entirely when set.
	JDBCURL string `yaml:"-" env:"JDBC_URL"` // Secret - carries a token
	// PartnerSource is sent as the x-dbt-partner-source header.
	PartnerSource string `yaml:"partner_source" env:"SL_PARTNER_SOURCE" env-default:"portal-engine"`
	// FilterDimension is the identity dimension every query is scoped to.
	FilterDimension string `yaml:"filter_dimension" env:"USER_FILTER_DIMENSION" env-default:"member__email"`
}

// TenantConfig maps principal email domains to tenants and names the token
// environment keys.
type TenantConfig struct {
	// DomainMapStr is a comma-separated list of domain=tenant pairs.
	// Format: "techcorp.com=techcorp,retailplus.com=retailplus"
	DomainMapStr string `yaml:"domain_map" env:"TENANT_DOMAIN_MAP" env-default:"techcorp.com=techcorp,retailplus.com=retailplus,manufacturingco.com=manufacturingco"`

	// DomainMap is the parsed form of DomainMapStr (not from config file).
	DomainMap map[string]string `yaml:"-"`

	// DefaultTenant is used when an email's domain is unmapped or malformed.
	DefaultTenant string `yaml:"default_tenant" env:"TENANT_DEFAULT" env-default:"default"`

	// TokenEnvPrefix prefixes per-tenant token keys: <prefix><TENANT>_TOKEN,
	// with <prefix>TOKEN as the shared fallback.
	TokenEnvPrefix string `yaml:"token_env_prefix" env:"TENANT_TOKEN_ENV_PREFIX" env-default:"DBT_"`
}

// SessionConfig holds the member-session cookie settings.
type SessionConfig struct {
	CookieName string `yaml:"cookie_name" env:"SESSION_COOKIE_NAME" env-default:"portal_session"`
	// Key signs session JWTs and authenticates the cookie store.
	Key string `yaml:"-" env:"SESSION_KEY"` // Secret - not in YAML
	// TTLMinutes bounds how long a selected member context stays valid.
	TTLMinutes int `yaml:"ttl_minutes" env:"SESSION_TTL_MINUTES" env-default:"480"`
}

// AuditConfig holds audit log administration settings.
type AuditConfig struct {
	// OperatorKey authorizes destructive audit operations (log clear).
	// When unset, those operations are disabled entirely; a member session
	// alone never suffices.
	OperatorKey string `yaml:"-" env:"AUDIT_OPERATOR_KEY"` // Secret - not in YAML
}

// AuditMirrorConfig holds the optional Postgres audit persistence settings.
type AuditMirrorConfig struct {
	Enabled  bool   `yaml:"enabled" env:"AUDIT_MIRROR_ENABLED" env-default:"false"`
	Host     string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User     string `yaml:"user" env:"PGUSER" env-default:"portal"`
	Password string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"PGDATABASE" env-default:"portal_engine"`
	SSLMode  string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *AuditMirrorConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// OpenAIConfig holds the natural-language query translation endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL" env-default:""`
	Model   string `yaml:"model" env:"OPENAI_MODEL" env-default:"gpt-4o"`
}

// IsAvailable returns true if the NL query path is configured.
func (c *OpenAIConfig) IsAvailable() bool {
	return c.APIKey != "" || c.BaseURL != ""
}

// AnthropicConfig holds the benefits-coach agent endpoint.
type AnthropicConfig struct {
	APIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
	Model  string `yaml:"model" env:"ANTHROPIC_MODEL" env-default:"claude-sonnet-4-20250514"`
}

// IsAvailable returns true if the coach agent is configured.
func (c *AnthropicConfig) IsAvailable() bool {
	return c.APIKey != ""
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		// Environment-only deployments carry no config file.
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Tenants.DomainMap = parseDomainMap(c.Tenants.DomainMapStr)
	if c.Tenants.DefaultTenant == "" {
		return fmt.Errorf("default tenant must not be empty")
	}
	return nil
}

// parseDomainMap parses the domain map string into a map with lowercased keys.
// Format: "domain1=tenant1,domain2=tenant2"
func parseDomainMap(value string) map[string]string {
	domains := make(map[string]string)
	if value == "" {
		return domains
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.Split(pair, "=")
		if len(parts) == 2 {
			domain := strings.ToLower(strings.TrimSpace(parts[0]))
			domains[domain] = strings.TrimSpace(parts[1])
		}
	}
	return domains
}
