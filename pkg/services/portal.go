package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/apperrors"
	"github.com/benefitsai/portal-engine/pkg/audit"
	"github.com/benefitsai/portal-engine/pkg/logging"
	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/security"
	"github.com/benefitsai/portal-engine/pkg/semanticlayer"
	"github.com/benefitsai/portal-engine/pkg/tenant"
)

// QueryExecutor is the backend protocol boundary. The portal reaches it
// only with enforcer-approved payloads.
type QueryExecutor interface {
	Metrics(ctx context.Context, conn *models.ConnAttr) ([]models.Metric, error)
	SavedQueries(ctx context.Context, conn *models.ConnAttr) ([]models.SavedQuery, error)
	ExecuteQuery(ctx context.Context, conn *models.ConnAttr, query *models.QueryRequest) *semanticlayer.QueryOutcome
}

// QueryInput describes one query attempt arriving from any entry point.
type QueryInput struct {
	Kind     string
	Origin   string
	ToolName string
	Request  *models.QueryRequest
}

// SecurityContextView is the member-visible explanation of which credential
// scopes their session. Tokens appear masked only.
type SecurityContextView struct {
	Email       string `json:"email"`
	EmailDomain string `json:"email_domain"`
	Tenant      string `json:"tenant"`
	TokenEnvKey string `json:"token_env_key"`
	MaskedToken string `json:"masked_token"`
	Fallback    bool   `json:"fallback"`
}

// PortalService is the single orchestration path for queries: every entry
// point funnels through ExecuteQuery, which enforces the identity filter,
// submits, and records the attempt, in that order.
type PortalService interface {
	// LoadCatalog returns the metric catalog for the session's connection.
	// The cached catalog is served only after the connection manager has
	// confirmed it belongs to the session's tenant; a tenant switch drops
	// it and refetches under the new credential.
	LoadCatalog(ctx context.Context, sess *SessionContext) ([]models.Metric, error)

	// SavedQueries lists backend-defined queries available for replay.
	SavedQueries(ctx context.Context, sess *SessionContext) ([]models.SavedQuery, error)

	// RunSavedQuery replays a saved query through the enforcement path.
	RunSavedQuery(ctx context.Context, sess *SessionContext, name, origin string) (*semanticlayer.QueryOutcome, error)

	// ExecuteQuery runs one query attempt through enforce → execute → record.
	ExecuteQuery(ctx context.Context, sess *SessionContext, input QueryInput) (*semanticlayer.QueryOutcome, error)

	// SecurityContext explains the session's credential scoping.
	SecurityContext(sess *SessionContext) SecurityContextView
}

type portalService struct {
	executor    QueryExecutor
	enforcer    *security.FilterEnforcer
	auditLog    *audit.Log
	resolver    *tenant.Resolver
	credentials *tenant.CredentialStore
	logger      *zap.Logger

	mu           sync.Mutex
	catalog      []models.Metric
	savedQueries []models.SavedQuery
}

// NewPortalService creates the portal orchestrator. It registers itself on
// the connection manager's rebuild hook so a tenant switch drops cached
// catalogs fetched under the previous credential.
func NewPortalService(
	executor QueryExecutor,
	enforcer *security.FilterEnforcer,
	auditLog *audit.Log,
	resolver *tenant.Resolver,
	credentials *tenant.CredentialStore,
	connections *semanticlayer.ConnectionManager,
	logger *zap.Logger,
) PortalService {
	s := &portalService{
		executor:    executor,
		enforcer:    enforcer,
		auditLog:    auditLog,
		resolver:    resolver,
		credentials: credentials,
		logger:      logger.Named("portal"),
	}
	if connections != nil {
		connections.SetRebuildHook(s.invalidateCaches)
	}
	return s
}

var _ PortalService = (*portalService)(nil)

// invalidateCaches drops responses cached against a replaced connection
// descriptor. Wired to the connection manager's rebuild hook.
func (s *portalService) invalidateCaches(old *models.ConnAttr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = nil
	s.savedQueries = nil
}

// LoadCatalog ensures the session's connection first: on a tenant switch the
// rebuild hook drops the cache, so a cached catalog is only ever served to
// the tenant whose credential fetched it.
func (s *portalService) LoadCatalog(ctx context.Context, sess *SessionContext) ([]models.Metric, error) {
	conn, err := sess.Connections.Ensure(sess.Principal, false)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.catalog != nil {
		cached := make([]models.Metric, len(s.catalog))
		copy(cached, s.catalog)
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	metrics, err := s.executor.Metrics(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("load metric catalog: %w", err)
	}

	s.mu.Lock()
	s.catalog = metrics
	s.mu.Unlock()

	s.logger.Info("Loaded metric catalog", zap.Int("metrics", len(metrics)))
	return metrics, nil
}

func (s *portalService) SavedQueries(ctx context.Context, sess *SessionContext) ([]models.SavedQuery, error) {
	conn, err := sess.Connections.Ensure(sess.Principal, false)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached := s.savedQueries
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	queries, err := s.executor.SavedQueries(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("list saved queries: %w", err)
	}

	s.mu.Lock()
	s.savedQueries = queries
	s.mu.Unlock()
	return queries, nil
}

func (s *portalService) RunSavedQuery(ctx context.Context, sess *SessionContext, name, origin string) (*semanticlayer.QueryOutcome, error) {
	queries, err := s.SavedQueries(ctx, sess)
	if err != nil {
		return nil, err
	}

	for _, sq := range queries {
		if sq.Name != name {
			continue
		}
		request, err := savedQueryToRequest(&sq)
		if err != nil {
			return nil, fmt.Errorf("saved query %q: %w", name, err)
		}
		return s.ExecuteQuery(ctx, sess, QueryInput{
			Kind:    models.QueryKindSavedQuery,
			Origin:  origin,
			Request: request,
		})
	}
	return nil, fmt.Errorf("saved query %q: %w", name, apperrors.ErrNotFound)
}

// ExecuteQuery is the choke point. Order matters: candidate filters are
// screened, the identity filter is enforced, the audit entry is created at
// the point of invocation, and the entry is recorded no matter how the
// submission ends.
func (s *portalService) ExecuteQuery(ctx context.Context, sess *SessionContext, input QueryInput) (*semanticlayer.QueryOutcome, error) {
	principal := sess.Principal
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	if input.Request == nil {
		return nil, fmt.Errorf("query input has no request")
	}

	// Screen agent- and user-supplied filter values before they get near
	// the backend. The enforced identity clause is appended afterwards and
	// is never screened: it is built from trusted session state.
	if findings := security.ScreenFilters(input.Request.FilterClauses()); len(findings) > 0 {
		return nil, s.rejectForInjection(ctx, sess, input, findings)
	}

	request := *input.Request
	request.Where = s.enforcer.Enforce(principal, request.Where)

	entry, err := models.NewAuditEntry(input.Kind, principal.Email, clauseStrings(request.Where), request.MetricNames())
	if err != nil {
		return nil, err
	}
	entry.Dimensions = request.DimensionNames()
	entry.SessionID = sess.ID
	entry.ToolName = input.ToolName
	if input.Origin != "" {
		entry.OriginPage = input.Origin
	}

	conn, err := sess.Connections.Ensure(principal, false)
	if err != nil {
		// Configuration failure: no credential at all. Still auditable.
		entry.Status = models.QueryStatusFailed
		entry.ErrorMessage = err.Error()
		s.auditLog.Record(ctx, entry)
		return nil, err
	}

	outcome := s.executor.ExecuteQuery(ctx, conn, &request)
	if outcome.OK() {
		entry.RowCount = outcome.RowCount()
	} else {
		entry.Status = models.QueryStatusFailed
		entry.ErrorMessage = outcome.Failure.Message
	}
	s.auditLog.Record(ctx, entry)

	return outcome, nil
}

// rejectForInjection records the blocked attempt and surfaces a terminal
// error to the caller.
func (s *portalService) rejectForInjection(ctx context.Context, sess *SessionContext, input QueryInput, findings []security.InjectionFinding) error {
	fingerprints := make([]string, len(findings))
	for i, f := range findings {
		fingerprints[i] = f.Fingerprint
	}
	s.logger.Error("Candidate filter failed injection screening",
		zap.String("member_email", sess.Principal.Email),
		zap.String("query_kind", input.Kind),
		zap.Strings("fingerprints", fingerprints))

	entry, err := models.NewAuditEntry(input.Kind, sess.Principal.Email, input.Request.FilterClauses(), input.Request.MetricNames())
	if err == nil {
		entry.Status = models.QueryStatusFailed
		entry.ErrorMessage = apperrors.ErrFilterRejected.Error()
		entry.SessionID = sess.ID
		entry.ToolName = input.ToolName
		if input.Origin != "" {
			entry.OriginPage = input.Origin
		}
		s.auditLog.Record(ctx, entry)
	}

	return fmt.Errorf("%d filter value(s) flagged: %w", len(findings), apperrors.ErrFilterRejected)
}

func (s *portalService) SecurityContext(sess *SessionContext) SecurityContextView {
	email := sess.Principal.Email
	tenantID := s.resolver.Resolve(email)

	view := SecurityContextView{
		Email:       email,
		Tenant:      tenantID,
		TokenEnvKey: s.credentials.TenantEnvKey(tenantID),
	}
	if at := strings.LastIndex(email, "@"); at >= 0 {
		view.EmailDomain = email[at+1:]
	}

	cred, err := s.credentials.CredentialFor(tenantID)
	if err == nil {
		view.MaskedToken = logging.MaskToken(cred.SecretToken)
		view.TokenEnvKey = cred.SourceEnvKey
		view.Fallback = cred.Fallback
	}
	return view
}

func clauseStrings(where []models.WhereInput) []string {
	clauses := make([]string, len(where))
	for i, w := range where {
		clauses[i] = w.SQL
	}
	return clauses
}

// savedQueryToRequest converts backend saved-query parameters into an
// executable request. Only the parameter shapes the backend emits are
// handled; anything else fails loudly rather than running unscoped.
func savedQueryToRequest(sq *models.SavedQuery) (*models.QueryRequest, error) {
	request := &models.QueryRequest{}

	metrics, ok := sq.QueryParams["metrics"].([]any)
	if !ok || len(metrics) == 0 {
		return nil, fmt.Errorf("saved query has no metrics")
	}
	for _, m := range metrics {
		entry, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := entry["name"].(string); ok && name != "" {
			request.Metrics = append(request.Metrics, models.MetricInput{Name: name})
		}
	}
	if len(request.Metrics) == 0 {
		return nil, fmt.Errorf("saved query metrics are malformed")
	}

	if groupBys, ok := sq.QueryParams["groupBy"].([]any); ok {
		for _, g := range groupBys {
			entry, ok := g.(map[string]any)
			if !ok {
				continue
			}
			input := models.GroupByInput{}
			if name, ok := entry["name"].(string); ok {
				input.Name = name
			}
			if grain, ok := entry["grain"].(string); ok && grain != "" {
				input.Grain = models.TimeGranularity(strings.ToUpper(grain))
			}
			if input.Name != "" {
				request.GroupBy = append(request.GroupBy, input)
			}
		}
	}

	if where, ok := sq.QueryParams["where"].(map[string]any); ok {
		if template, ok := where["whereSqlTemplate"].(string); ok && template != "" {
			request.Where = append(request.Where, models.WhereInput{SQL: template})
		}
	}

	return request, nil
}
