package security

import (
	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/models"
)

// FilterEnforcer guarantees that a query's filter set contains the active
// member's identity predicate before it can reach the executor. All entry
// points (builder, saved-query replay, LLM, tool-calling agents) pass their
// candidate filters through Enforce; none of them talk to the executor
// directly.
type FilterEnforcer struct {
	matcher *IdentityMatcher
	logger  *zap.Logger
}

// NewFilterEnforcer creates an enforcer over the given identity matcher.
func NewFilterEnforcer(matcher *IdentityMatcher, logger *zap.Logger) *FilterEnforcer {
	return &FilterEnforcer{
		matcher: matcher,
		logger:  logger.Named("filter-enforcer"),
	}
}

// Matcher exposes the identity matcher so the audit scan shares it.
func (e *FilterEnforcer) Matcher() *IdentityMatcher {
	return e.matcher
}

// Canonical renders the identity clause for a principal. The clause is built
// from the principal's own email, never from candidate input.
func (e *FilterEnforcer) Canonical(principal *models.Principal) string {
	return e.matcher.Canonical(principal.Email)
}

// Enforce returns a filter list guaranteed to contain the principal's
// identity predicate. If an exactly-equal clause is already present the
// input is returned unchanged, which makes Enforce idempotent. Clauses that
// reference the identity dimension with a different value are left in place;
// enforcement guarantees presence of the correct clause, and the audit scan
// flags conflicts after the fact.
func (e *FilterEnforcer) Enforce(principal *models.Principal, candidate []models.WhereInput) []models.WhereInput {
	for _, w := range candidate {
		if e.matcher.Matches(w.SQL, principal.Email) {
			return candidate
		}
	}

	enforced := make([]models.WhereInput, 0, len(candidate)+1)
	enforced = append(enforced, candidate...)
	enforced = append(enforced, models.WhereInput{SQL: e.Canonical(principal)})

	e.logger.Debug("Appended identity filter",
		zap.String("member_email", principal.Email),
		zap.Int("candidate_filters", len(candidate)))

	return enforced
}
