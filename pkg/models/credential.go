package models

// TenantCredential is a resolved service token for one tenant. Loaded from
// the environment at resolution time and read-only thereafter.
type TenantCredential struct {
	TenantID     string
	SecretToken  string
	SourceEnvKey string
	// Fallback is true when the tenant had no dedicated token and the
	// generic token was substituted. Callers log this as degraded trust.
	Fallback bool
}

// ConnAttr holds the resolved connection attributes for the active tenant:
// the HTTPS host, the query parameters carried over from the JDBC URL
// (environment id included), and the ready-to-send auth header.
// Owned exclusively by the ConnectionManager; rebuilt only on tenant switch.
type ConnAttr struct {
	Host       string
	Params     map[string]string
	AuthHeader string
	TenantID   string
}

// EnvironmentID returns the backend environment id parameter, if present.
func (c *ConnAttr) EnvironmentID() string {
	return c.Params["environmentid"]
}
