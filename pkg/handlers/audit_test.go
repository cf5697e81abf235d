package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/models"
)

func runOneQuery(t *testing.T, f *apiFixture) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/query", map[string]any{
		"metrics": []map[string]string{{"name": "total_claims"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("query = %d %s", w.Code, w.Body.String())
	}
}

func TestAuditEntriesEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")
	runOneQuery(t, f)

	w := f.do(t, http.MethodGet, "/api/audit/entries", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("entries = %d", w.Code)
	}

	var resp struct {
		Entries []models.AuditEntry `json:"entries"`
		Count   int                 `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 1 || len(resp.Entries) != 1 {
		t.Fatalf("entries = %+v", resp)
	}
	if resp.Entries[0].PrincipalID != "sarah.chen@techcorp.com" {
		t.Errorf("entry = %+v", resp.Entries[0])
	}
}

func TestAuditStatsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")
	runOneQuery(t, f)

	w := f.do(t, http.MethodGet, "/api/audit/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}

	var stats models.AuditStats
	decodeBody(t, w, &stats)
	if stats.TotalQueries != 1 || stats.SuccessRate != 100 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAuditViolationsEndpointClean(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")
	runOneQuery(t, f)

	w := f.do(t, http.MethodGet, "/api/audit/violations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("violations = %d", w.Code)
	}

	var resp struct {
		Violations []models.Violation `json:"violations"`
		Count      int                `json:"count"`
		Clean      bool               `json:"clean"`
	}
	decodeBody(t, w, &resp)
	if !resp.Clean || resp.Count != 0 {
		t.Errorf("violations = %+v", resp)
	}
}

func TestAuditViolationsEndpointFlagsTampering(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")

	// Inject an entry recorded without the identity filter, as if an entry
	// point had bypassed enforcement.
	entry, err := models.NewAuditEntry(models.QueryKindBuilder, "sarah.chen@techcorp.com",
		[]string{"{{ Dimension('plan_type') }} = 'PPO'"}, []string{"total_claims"})
	if err != nil {
		t.Fatalf("NewAuditEntry: %v", err)
	}
	f.auditLog.Record(context.Background(), entry)

	w := f.do(t, http.MethodGet, "/api/audit/violations", nil)
	var resp struct {
		Count int  `json:"count"`
		Clean bool `json:"clean"`
	}
	decodeBody(t, w, &resp)
	if resp.Clean || resp.Count != 1 {
		t.Errorf("violations = %+v", resp)
	}
}

func TestAuditClearEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")
	runOneQuery(t, f)

	w := f.doWithHeaders(t, http.MethodDelete, "/api/audit/entries", nil,
		map[string]string{"X-Operator-Key": testOperatorKey})
	if w.Code != http.StatusOK {
		t.Fatalf("clear = %d %s", w.Code, w.Body.String())
	}

	var resp struct {
		Removed int `json:"removed"`
	}
	decodeBody(t, w, &resp)
	if resp.Removed != 1 {
		t.Errorf("removed = %d", resp.Removed)
	}

	if len(f.auditLog.Entries()) != 0 {
		t.Error("log not cleared")
	}
}

func TestAuditClearRequiresOperatorKey(t *testing.T) {
	f := newAPIFixture(t)
	f.login(t, "M1001")
	runOneQuery(t, f)

	// A member session alone must not clear the log.
	if w := f.do(t, http.MethodDelete, "/api/audit/entries", nil); w.Code != http.StatusForbidden {
		t.Errorf("clear without key = %d", w.Code)
	}
	w := f.doWithHeaders(t, http.MethodDelete, "/api/audit/entries", nil,
		map[string]string{"X-Operator-Key": "wrong-key"})
	if w.Code != http.StatusForbidden {
		t.Errorf("clear with wrong key = %d", w.Code)
	}

	if len(f.auditLog.Entries()) != 1 {
		t.Error("rejected clear must not touch the log")
	}
}

func TestAuditClearDisabledWithoutConfiguredKey(t *testing.T) {
	f := newAPIFixture(t)

	mux := http.NewServeMux()
	h := NewAuditHandler(f.auditLog, "", zap.NewNop())
	mux.HandleFunc("DELETE /api/audit/entries", h.Clear)

	r := httptest.NewRequest(http.MethodDelete, "/api/audit/entries", nil)
	r.Header.Set("X-Operator-Key", "anything")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Errorf("clear with no key configured = %d", w.Code)
	}
}
