package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/security"
)

const testEmail = "sarah.chen@techcorp.com"

func newTestLog() (*Log, *security.IdentityMatcher) {
	matcher := security.NewIdentityMatcher("member__email")
	return NewLog(matcher, zap.NewNop()), matcher
}

func mustEntry(t *testing.T, kind, email string, filters []string) *models.AuditEntry {
	t.Helper()
	entry, err := models.NewAuditEntry(kind, email, filters, []string{"total_claims"})
	if err != nil {
		t.Fatalf("NewAuditEntry: %v", err)
	}
	return entry
}

func TestRecordAndEntries(t *testing.T) {
	log, matcher := newTestLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		log.Record(ctx, mustEntry(t, models.QueryKindBuilder, testEmail, []string{matcher.Canonical(testEmail)}))
	}

	entries := log.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestRecordDropsInvalidEntries(t *testing.T) {
	log, _ := newTestLog()
	ctx := context.Background()

	log.Record(ctx, nil)
	log.Record(ctx, &models.AuditEntry{QueryKind: "", PrincipalID: testEmail})
	log.Record(ctx, &models.AuditEntry{QueryKind: models.QueryKindBuilder, PrincipalID: ""})

	if got := len(log.Entries()); got != 0 {
		t.Errorf("invalid entries should be dropped, got %d recorded", got)
	}
}

func TestEntriesReturnsSnapshot(t *testing.T) {
	log, matcher := newTestLog()
	ctx := context.Background()

	log.Record(ctx, mustEntry(t, models.QueryKindBuilder, testEmail, []string{matcher.Canonical(testEmail)}))
	snapshot := log.Entries()
	log.Record(ctx, mustEntry(t, models.QueryKindBuilder, testEmail, []string{matcher.Canonical(testEmail)}))

	if len(snapshot) != 1 {
		t.Errorf("snapshot should not grow with later records, got %d", len(snapshot))
	}
}

func TestStats(t *testing.T) {
	log, matcher := newTestLog()
	ctx := context.Background()

	ok := mustEntry(t, models.QueryKindDashboard, testEmail, []string{matcher.Canonical(testEmail)})
	ok.OriginPage = "dashboard"
	log.Record(ctx, ok)

	failed := mustEntry(t, models.QueryKindBuilder, "maria.garcia@retailplus.com", []string{matcher.Canonical("maria.garcia@retailplus.com")})
	failed.Status = models.QueryStatusFailed
	failed.OriginPage = "builder"
	log.Record(ctx, failed)

	stats := log.Stats()
	if stats.TotalQueries != 2 {
		t.Errorf("TotalQueries = %d, want 2", stats.TotalQueries)
	}
	if stats.UniqueMembers != 2 {
		t.Errorf("UniqueMembers = %d, want 2", stats.UniqueMembers)
	}
	if stats.SuccessRate != 50 {
		t.Errorf("SuccessRate = %v, want 50", stats.SuccessRate)
	}
	if stats.QueriesByKind[models.QueryKindDashboard] != 1 {
		t.Errorf("QueriesByKind = %v", stats.QueriesByKind)
	}
	if stats.QueriesByPage["builder"] != 1 {
		t.Errorf("QueriesByPage = %v", stats.QueriesByPage)
	}
}

func TestStatsEmptyLog(t *testing.T) {
	log, _ := newTestLog()
	stats := log.Stats()
	if stats.TotalQueries != 0 || stats.SuccessRate != 0 {
		t.Errorf("empty log stats = %+v", stats)
	}
}

func TestViolationsCleanLog(t *testing.T) {
	log, matcher := newTestLog()
	ctx := context.Background()

	entry := mustEntry(t, models.QueryKindBuilder, testEmail, []string{
		"{{ Dimension('plan_type') }} = 'PPO'",
		matcher.Canonical(testEmail),
	})
	log.Record(ctx, entry)

	if violations := log.Violations(); len(violations) != 0 {
		t.Errorf("expected clean scan, got %+v", violations)
	}
}

func TestViolationsMissingIdentityFilter(t *testing.T) {
	log, _ := newTestLog()
	ctx := context.Background()

	// An entry recorded with only a non-identity filter, as if some entry
	// point had skipped enforcement.
	log.Record(ctx, mustEntry(t, models.QueryKindBuilder, testEmail, []string{
		"{{ Dimension('plan_type') }} = 'PPO'",
	}))

	violations := log.Violations()
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	if violations[0].Reason != models.ViolationMissingIdentityFilter {
		t.Errorf("Reason = %q", violations[0].Reason)
	}
}

func TestViolationsEmptyFilters(t *testing.T) {
	log, _ := newTestLog()
	log.Record(context.Background(), mustEntry(t, models.QueryKindBuilder, testEmail, nil))

	violations := log.Violations()
	if len(violations) != 1 || violations[0].Reason != models.ViolationMissingIdentityFilter {
		t.Fatalf("expected missing-filter violation, got %+v", violations)
	}
}

func TestViolationsConflictingIdentity(t *testing.T) {
	log, matcher := newTestLog()
	ctx := context.Background()

	// The member's own clause is present, but so is a clause naming another
	// member. Enforcement leaves it in place; the scan must flag it.
	log.Record(ctx, mustEntry(t, models.QueryKindBuilder, testEmail, []string{
		matcher.Canonical("maria.garcia@retailplus.com"),
		matcher.Canonical(testEmail),
	}))

	violations := log.Violations()
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	if violations[0].Reason != models.ViolationConflictingIdentity {
		t.Errorf("Reason = %q", violations[0].Reason)
	}
}

func TestViolationsWhitespaceVariantIsClean(t *testing.T) {
	log, _ := newTestLog()
	ctx := context.Background()

	log.Record(ctx, mustEntry(t, models.QueryKindBuilder, testEmail, []string{
		"{{Dimension('member__email')}} = '" + testEmail + "'",
	}))

	if violations := log.Violations(); len(violations) != 0 {
		t.Errorf("whitespace variant should pass the scan, got %+v", violations)
	}
}

func TestClear(t *testing.T) {
	log, matcher := newTestLog()
	ctx := context.Background()

	log.Record(ctx, mustEntry(t, models.QueryKindBuilder, testEmail, []string{matcher.Canonical(testEmail)}))
	log.Record(ctx, mustEntry(t, models.QueryKindBuilder, testEmail, []string{matcher.Canonical(testEmail)}))

	if removed := log.Clear(); removed != 2 {
		t.Errorf("Clear removed %d, want 2", removed)
	}
	if len(log.Entries()) != 0 {
		t.Error("log should be empty after Clear")
	}
}

// channelSink collects persisted entries for verification.
type channelSink struct {
	entries chan *models.AuditEntry
	err     error
}

func (s *channelSink) Persist(ctx context.Context, entry *models.AuditEntry) error {
	s.entries <- entry
	return s.err
}

func TestRecordMirrorsToSink(t *testing.T) {
	log, matcher := newTestLog()
	sink := &channelSink{entries: make(chan *models.AuditEntry, 1)}
	log.SetSink(sink)

	entry := mustEntry(t, models.QueryKindBuilder, testEmail, []string{matcher.Canonical(testEmail)})
	log.Record(context.Background(), entry)

	select {
	case got := <-sink.entries:
		if got.ID != entry.ID {
			t.Errorf("sink received wrong entry: %s", got.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the entry")
	}
}

func TestSinkFailureDoesNotAffectLog(t *testing.T) {
	log, matcher := newTestLog()
	sink := &channelSink{
		entries: make(chan *models.AuditEntry, 1),
		err:     fmt.Errorf("mirror down"),
	}
	log.SetSink(sink)

	log.Record(context.Background(), mustEntry(t, models.QueryKindBuilder, testEmail, []string{matcher.Canonical(testEmail)}))

	select {
	case <-sink.entries:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never called")
	}
	if len(log.Entries()) != 1 {
		t.Error("entry should be recorded even when the sink fails")
	}
}
