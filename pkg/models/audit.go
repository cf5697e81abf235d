package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QueryStatus is the terminal outcome recorded for a query attempt.
type QueryStatus string

const (
	QueryStatusSuccess QueryStatus = "success"
	QueryStatusFailed  QueryStatus = "failed"
)

// Query kinds, one per entry point. The tool-calling paths append the tool
// name separately (ToolName) so the kind stays a closed set.
const (
	QueryKindDashboard  = "member_dashboard"
	QueryKindBuilder    = "query_builder"
	QueryKindSavedQuery = "saved_query"
	QueryKindLLM        = "llm_query"
	QueryKindCoach      = "coach_tool"
	QueryKindMCP        = "mcp_tool"
)

// AuditEntry records one query attempt: who, what, which filters, outcome.
// Entries are append-only and created at the point of invocation so failed
// submissions are recorded too.
type AuditEntry struct {
	ID             uuid.UUID   `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	QueryKind      string      `json:"query_kind"`
	PrincipalID    string      `json:"member_email"`
	FiltersApplied []string    `json:"filters_applied"`
	Metrics        []string    `json:"metrics"`
	Dimensions     []string    `json:"dimensions"`
	RowCount       int         `json:"row_count"`
	Status         QueryStatus `json:"status"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	OriginPage     string      `json:"page"`
	SessionID      string      `json:"session_id,omitempty"`
	ToolName       string      `json:"tool_name,omitempty"`
}

// NewAuditEntry constructs an entry, rejecting missing identity fields up
// front rather than accepting an arbitrary field bag.
func NewAuditEntry(kind, principalID string, filters, metrics []string) (*AuditEntry, error) {
	if strings.TrimSpace(kind) == "" {
		return nil, fmt.Errorf("audit entry requires a query kind")
	}
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("audit entry requires a principal id")
	}
	return &AuditEntry{
		ID:             uuid.New(),
		Timestamp:      time.Now().UTC(),
		QueryKind:      kind,
		PrincipalID:    principalID,
		FiltersApplied: filters,
		Metrics:        metrics,
		Dimensions:     []string{},
		Status:         QueryStatusSuccess,
		OriginPage:     "unknown",
	}, nil
}

// AuditStats is the aggregate view of the audit log.
type AuditStats struct {
	TotalQueries  int            `json:"total_queries"`
	UniqueMembers int            `json:"unique_members"`
	SuccessRate   float64        `json:"success_rate"`
	QueriesByKind map[string]int `json:"queries_by_kind"`
	QueriesByPage map[string]int `json:"queries_by_page"`
}

// Violation is an audit entry flagged by the post-hoc filter scan, with the
// reason it was flagged.
type Violation struct {
	Entry  *AuditEntry `json:"entry"`
	Reason string      `json:"reason"`
}

// Violation reasons.
const (
	ViolationMissingIdentityFilter = "missing_identity_filter"
	ViolationConflictingIdentity   = "conflicting_identity_filter"
)
