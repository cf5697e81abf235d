// Package security builds and verifies the row-level identity filter that
// scopes every backend query to the active member.
package security

import (
	"fmt"
	"regexp"
	"strings"
)

// Normalize collapses runs of whitespace so that filter construction and
// filter comparison cannot drift apart on formatting.
func Normalize(clause string) string {
	return strings.Join(strings.Fields(clause), " ")
}

// IdentityMatcher renders and recognizes identity predicates over one
// configured dimension. The same matcher instance is shared by the enforcer
// and the audit violation scan, so both sides always agree on the clause text.
type IdentityMatcher struct {
	dimension string
	pattern   *regexp.Regexp
}

// NewIdentityMatcher creates a matcher for the given identity dimension.
func NewIdentityMatcher(dimension string) *IdentityMatcher {
	escaped := regexp.QuoteMeta(dimension)
	pattern := regexp.MustCompile(`\{\{\s*Dimension\('` + escaped + `'\)\s*\}\}\s*=\s*'([^']*)'`)
	return &IdentityMatcher{
		dimension: dimension,
		pattern:   pattern,
	}
}

// Dimension returns the identity dimension name.
func (m *IdentityMatcher) Dimension() string {
	return m.dimension
}

// Canonical renders the identity predicate for the given member email.
// This is the one place the clause text is produced.
func (m *IdentityMatcher) Canonical(email string) string {
	return fmt.Sprintf("{{ Dimension('%s') }} = '%s'", m.dimension, email)
}

// Matches reports whether a clause is exactly the canonical predicate for
// the given email, after whitespace normalization.
func (m *IdentityMatcher) Matches(clause, email string) bool {
	return Normalize(clause) == Normalize(m.Canonical(email))
}

// Value extracts the compared value from a clause that references the
// identity dimension. Returns false when the clause is about something else.
func (m *IdentityMatcher) Value(clause string) (string, bool) {
	match := m.pattern.FindStringSubmatch(clause)
	if match == nil {
		return "", false
	}
	return match[1], true
}
