package security

import (
	"testing"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/models"
)

func newTestEnforcer() *FilterEnforcer {
	return NewFilterEnforcer(NewIdentityMatcher("member__email"), zap.NewNop())
}

func testPrincipal() *models.Principal {
	return &models.Principal{
		ID:    "M1001",
		Email: "sarah.chen@techcorp.com",
	}
}

func TestEnforceAppendsIdentityFilter(t *testing.T) {
	e := newTestEnforcer()
	p := testPrincipal()

	candidate := []models.WhereInput{
		{SQL: "{{ Dimension('plan_type') }} = 'PPO'"},
	}
	enforced := e.Enforce(p, candidate)

	if len(enforced) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(enforced))
	}
	if enforced[0].SQL != candidate[0].SQL {
		t.Errorf("candidate filter should be preserved, got %q", enforced[0].SQL)
	}
	if enforced[1].SQL != e.Canonical(p) {
		t.Errorf("last filter should be the identity clause, got %q", enforced[1].SQL)
	}
}

func TestEnforceOnEmptyCandidate(t *testing.T) {
	e := newTestEnforcer()
	p := testPrincipal()

	enforced := e.Enforce(p, nil)
	if len(enforced) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(enforced))
	}
	if !e.Matcher().Matches(enforced[0].SQL, p.Email) {
		t.Errorf("expected identity clause, got %q", enforced[0].SQL)
	}
}

func TestEnforceIsIdempotent(t *testing.T) {
	e := newTestEnforcer()
	p := testPrincipal()

	once := e.Enforce(p, []models.WhereInput{{SQL: "{{ Dimension('plan_type') }} = 'PPO'"}})
	twice := e.Enforce(p, once)

	if len(twice) != len(once) {
		t.Fatalf("second Enforce grew filters from %d to %d", len(once), len(twice))
	}
	count := 0
	for _, w := range twice {
		if e.Matcher().Matches(w.SQL, p.Email) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one identity clause, got %d", count)
	}
}

func TestEnforceRecognizesWhitespaceVariant(t *testing.T) {
	e := newTestEnforcer()
	p := testPrincipal()

	candidate := []models.WhereInput{
		{SQL: "{{Dimension('member__email')}} = 'sarah.chen@techcorp.com'"},
	}
	enforced := e.Enforce(p, candidate)
	if len(enforced) != 1 {
		t.Errorf("whitespace variant should satisfy enforcement, got %d filters", len(enforced))
	}
}

func TestEnforceKeepsConflictingClauseAndAppends(t *testing.T) {
	e := newTestEnforcer()
	p := testPrincipal()

	candidate := []models.WhereInput{
		{SQL: "{{ Dimension('member__email') }} = 'other@techcorp.com'"},
	}
	enforced := e.Enforce(p, candidate)

	// The conflicting clause stays (the audit scan flags it), and the
	// correct clause is guaranteed present.
	if len(enforced) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(enforced))
	}
	if !e.Matcher().Matches(enforced[1].SQL, p.Email) {
		t.Errorf("expected identity clause appended, got %q", enforced[1].SQL)
	}
}

func TestEnforceDoesNotMutateCandidate(t *testing.T) {
	e := newTestEnforcer()
	p := testPrincipal()

	candidate := make([]models.WhereInput, 0, 4)
	candidate = append(candidate, models.WhereInput{SQL: "{{ Dimension('plan_type') }} = 'PPO'"})

	_ = e.Enforce(p, candidate)
	if len(candidate) != 1 {
		t.Errorf("Enforce mutated the candidate slice: %d entries", len(candidate))
	}
}
