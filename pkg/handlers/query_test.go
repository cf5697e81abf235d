package handlers

import (
	"net/http"
	"testing"

	"github.com/benefitsai/portal-engine/pkg/models"
)

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")

	w := f.do(t, http.MethodGet, "/api/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d %s", w.Code, w.Body.String())
	}

	var resp struct {
		Metrics []models.Metric `json:"metrics"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Metrics) != 1 || resp.Metrics[0].Name != "total_claims" {
		t.Errorf("metrics = %+v", resp.Metrics)
	}
}

func TestExecuteQueryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")

	w := f.do(t, http.MethodPost, "/api/query", map[string]any{
		"metrics": []map[string]string{{"name": "total_claims"}},
		"groupBy": []map[string]string{{"name": "plan_type"}},
		"origin":  "dashboard",
		"kind":    "member_dashboard",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("query = %d %s", w.Code, w.Body.String())
	}

	var resp struct {
		Rows []map[string]any `json:"rows"`
		SQL  string           `json:"sql"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Rows) != 1 {
		t.Errorf("rows = %+v", resp.Rows)
	}

	// The executor must have received the identity clause for the member.
	if f.executor.LastRequest == nil {
		t.Fatal("executor never called")
	}
	clauses := f.executor.LastRequest.FilterClauses()
	found := false
	for _, c := range clauses {
		if f.matcher.Matches(c, "sarah.chen@techcorp.com") {
			found = true
		}
	}
	if !found {
		t.Errorf("identity clause missing: %v", clauses)
	}

	// And the attempt is in the audit log with the request's origin.
	entries := f.auditLog.Entries()
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d", len(entries))
	}
	if entries[0].QueryKind != models.QueryKindDashboard || entries[0].OriginPage != "dashboard" {
		t.Errorf("audit entry = %+v", entries[0])
	}
}

func TestExecuteQueryValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")

	// No metrics.
	if w := f.do(t, http.MethodPost, "/api/query", map[string]any{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty query = %d", w.Code)
	}

	// Kind outside the HTTP surface's closed set.
	w := f.do(t, http.MethodPost, "/api/query", map[string]any{
		"metrics": []map[string]string{{"name": "total_claims"}},
		"kind":    "mcp_tool",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("foreign kind = %d", w.Code)
	}
}

func TestExecuteQueryInjectionRejected(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")

	w := f.do(t, http.MethodPost, "/api/query", map[string]any{
		"metrics": []map[string]string{{"name": "total_claims"}},
		"where":   []map[string]string{{"sql": "{{ Dimension('plan_type') }} = '1 OR 1=1'"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("injection = %d %s", w.Code, w.Body.String())
	}

	var resp struct {
		Error string `json:"error"`
	}
	decodeBody(t, w, &resp)
	if resp.Error != "invalid_request" {
		t.Errorf("error = %q", resp.Error)
	}

	entries := f.auditLog.Entries()
	if len(entries) != 1 || entries[0].Status != models.QueryStatusFailed {
		t.Errorf("blocked attempt not audited: %+v", entries)
	}
}

func TestSavedQueriesEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")

	w := f.do(t, http.MethodGet, "/api/saved-queries", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("saved-queries = %d %s", w.Code, w.Body.String())
	}

	var resp struct {
		SavedQueries []models.SavedQuery `json:"saved_queries"`
	}
	decodeBody(t, w, &resp)
	if len(resp.SavedQueries) != 1 || resp.SavedQueries[0].Name != "monthly_claims" {
		t.Errorf("saved queries = %+v", resp.SavedQueries)
	}
}

func TestRunSavedQueryEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")

	w := f.do(t, http.MethodPost, "/api/saved-queries/monthly_claims/run", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("run = %d %s", w.Code, w.Body.String())
	}

	entries := f.auditLog.Entries()
	if len(entries) != 1 || entries[0].QueryKind != models.QueryKindSavedQuery {
		t.Errorf("audit entries = %+v", entries)
	}
}

func TestRunSavedQueryNotFoundEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")

	if w := f.do(t, http.MethodPost, "/api/saved-queries/absent/run", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown saved query = %d", w.Code)
	}
}
