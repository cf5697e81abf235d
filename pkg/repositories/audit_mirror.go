// Package repositories contains persistence for the portal's durable state.
// The in-memory audit log is authoritative for the session; the mirror here
// is the durable copy.
package repositories

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/audit"
	"github.com/benefitsai/portal-engine/pkg/database"
	"github.com/benefitsai/portal-engine/pkg/models"
)

// AuditMirrorRepository persists audit entries to Postgres. It implements
// audit.Sink; the log calls it asynchronously and tolerates failures.
type AuditMirrorRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewAuditMirrorRepository creates the audit mirror repository.
func NewAuditMirrorRepository(db *database.DB, logger *zap.Logger) *AuditMirrorRepository {
	return &AuditMirrorRepository{
		db:     db,
		logger: logger.Named("audit-mirror"),
	}
}

var _ audit.Sink = (*AuditMirrorRepository)(nil)

// Persist writes one audit entry. Entries are append-only; an id conflict
// means the entry was already mirrored and is not an error.
func (r *AuditMirrorRepository) Persist(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (
			id, recorded_at, query_kind, member_email, filters_applied,
			metrics, dimensions, row_count, status, error_message,
			origin_page, session_id, tool_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.QueryKind,
		entry.PrincipalID,
		entry.FiltersApplied,
		entry.Metrics,
		entry.Dimensions,
		entry.RowCount,
		entry.Status,
		entry.ErrorMessage,
		entry.OriginPage,
		entry.SessionID,
		entry.ToolName,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	r.logger.Debug("Mirrored audit entry",
		zap.String("entry_id", entry.ID.String()),
		zap.String("query_kind", entry.QueryKind))
	return nil
}

// Recent returns the most recent mirrored entries, newest first.
func (r *AuditMirrorRepository) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, recorded_at, query_kind, member_email, filters_applied,
		       metrics, dimensions, row_count, status, error_message,
		       origin_page, session_id, tool_name
		FROM audit_entries
		ORDER BY recorded_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.QueryKind, &e.PrincipalID, &e.FiltersApplied,
			&e.Metrics, &e.Dimensions, &e.RowCount, &e.Status, &e.ErrorMessage,
			&e.OriginPage, &e.SessionID, &e.ToolName,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
