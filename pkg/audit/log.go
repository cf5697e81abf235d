// Package audit keeps a tamper-evident record of every query attempt and
// re-verifies after the fact that each attempt carried the required
// identity filter.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/security"
)

// Sink receives a copy of every recorded entry for durable storage.
// Persistence is best-effort: a sink failure never reaches the caller.
type Sink interface {
	Persist(ctx context.Context, entry *models.AuditEntry) error
}

// Log is the process-wide, append-only audit log. Appends happen in
// invocation order (query flow is synchronous per session) and entries are
// never mutated after recording. The only destructive operation is Clear,
// reachable solely from the operator endpoint.
type Log struct {
	mu      sync.Mutex
	entries []*models.AuditEntry

	matcher *security.IdentityMatcher
	sink    Sink
	logger  *zap.Logger
}

// NewLog creates an audit log sharing the enforcer's identity matcher, so
// the violation scan recognizes exactly the clause the enforcer produces.
func NewLog(matcher *security.IdentityMatcher, logger *zap.Logger) *Log {
	return &Log{
		matcher: matcher,
		logger:  logger.Named("audit-log"),
	}
}

// SetSink attaches a durable mirror for recorded entries. Set once during
// wiring, before any queries flow.
func (l *Log) SetSink(sink Sink) {
	l.sink = sink
}

// Record appends an entry. It never returns an error: a logging failure
// must not abort the member's query flow. Invalid entries are dropped with
// a warning rather than recorded half-shaped.
func (l *Log) Record(ctx context.Context, entry *models.AuditEntry) {
	if entry == nil {
		l.logger.Warn("Dropping nil audit entry")
		return
	}
	if entry.QueryKind == "" || entry.PrincipalID == "" {
		l.logger.Warn("Dropping audit entry with missing identity fields",
			zap.String("query_kind", entry.QueryKind),
			zap.String("member_email", entry.PrincipalID))
		return
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.Info("Recorded query attempt",
		zap.String("query_kind", entry.QueryKind),
		zap.String("member_email", entry.PrincipalID),
		zap.Strings("filters_applied", entry.FiltersApplied),
		zap.String("status", string(entry.Status)),
		zap.Int("row_count", entry.RowCount))

	if l.sink != nil {
		go l.persist(entry)
	}
}

// persist mirrors an entry to the sink with its own deadline, detached from
// the request lifecycle.
func (l *Log) persist(entry *models.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.sink.Persist(ctx, entry); err != nil {
		l.logger.Error("Failed to mirror audit entry",
			zap.String("entry_id", entry.ID.String()),
			zap.Error(err))
	}
}

// Entries returns a snapshot of the log in recording order.
func (l *Log) Entries() []*models.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := make([]*models.AuditEntry, len(l.entries))
	copy(snapshot, l.entries)
	return snapshot
}

// Stats aggregates the current log.
func (l *Log) Stats() models.AuditStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := models.AuditStats{
		TotalQueries:  len(l.entries),
		QueriesByKind: make(map[string]int),
		QueriesByPage: make(map[string]int),
	}

	members := make(map[string]struct{})
	successes := 0
	for _, e := range l.entries {
		members[e.PrincipalID] = struct{}{}
		if e.Status == models.QueryStatusSuccess {
			successes++
		}
		stats.QueriesByKind[e.QueryKind]++
		stats.QueriesByPage[e.OriginPage]++
	}

	stats.UniqueMembers = len(members)
	if len(l.entries) > 0 {
		stats.SuccessRate = float64(successes) / float64(len(l.entries)) * 100
	}
	return stats
}

// Violations re-verifies the enforcement invariant independently of the
// enforcement code path, so entry points that bypass the enforcer are still
// caught. An entry is flagged when its recorded filters do not contain the
// canonical identity clause for its own principal, or when a filter
// references the identity dimension with a different member's value.
func (l *Log) Violations() []models.Violation {
	l.mu.Lock()
	defer l.mu.Unlock()

	var violations []models.Violation
	for _, e := range l.entries {
		found := false
		conflicting := false
		for _, clause := range e.FiltersApplied {
			if l.matcher.Matches(clause, e.PrincipalID) {
				found = true
				continue
			}
			if value, ok := l.matcher.Value(clause); ok && value != e.PrincipalID {
				conflicting = true
			}
		}

		switch {
		case !found:
			violations = append(violations, models.Violation{
				Entry:  e,
				Reason: models.ViolationMissingIdentityFilter,
			})
		case conflicting:
			violations = append(violations, models.Violation{
				Entry:  e,
				Reason: models.ViolationConflictingIdentity,
			})
		}
	}
	return violations
}

// Clear erases the log and returns the number of entries removed.
// Destructive; wired only to the operator endpoint.
func (l *Log) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := len(l.entries)
	l.entries = nil

	l.logger.Warn("Audit log cleared by operator", zap.Int("entries_removed", removed))
	return removed
}
