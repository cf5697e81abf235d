// Package tenant maps authenticated members to their tenant and the service
// credential authorized to query that tenant's data partition.
package tenant

import (
	"strings"

	"github.com/benefitsai/portal-engine/pkg/config"
)

// Resolver derives a tenant identifier from a member's email domain.
// Resolution is total: unknown or malformed emails map to the default
// tenant, never an error.
type Resolver struct {
	domainMap     map[string]string
	defaultTenant string
}

// NewResolver creates a Resolver from the tenant configuration.
func NewResolver(cfg config.TenantConfig) *Resolver {
	return &Resolver{
		domainMap:     cfg.DomainMap,
		defaultTenant: cfg.DefaultTenant,
	}
}

// Resolve returns the tenant id for an email address. Domain matching is
// case-insensitive and exact; emails without "@" resolve to the default.
func (r *Resolver) Resolve(email string) string {
	if email == "" || !strings.Contains(email, "@") {
		return r.defaultTenant
	}

	at := strings.LastIndex(email, "@")
	domain := strings.ToLower(email[at+1:])

	if tenant, ok := r.domainMap[domain]; ok {
		return tenant
	}
	return r.defaultTenant
}
