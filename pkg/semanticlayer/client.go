package semanticlayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/config"
	"github.com/benefitsai/portal-engine/pkg/logging"
	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/retry"
)

const (
	graphqlPath = "/api/graphql"
	pollDelay   = 500 * time.Millisecond
)

// Client submits GraphQL requests to the semantic layer. It is the query
// executor boundary: callers hand it an enforcer-approved request and get
// back a typed outcome.
type Client struct {
	httpClient *http.Client
	cfg        config.SemanticLayerConfig
	logger     *zap.Logger

	// pollDelay is overridable in tests to keep the poll loop fast.
	pollDelay   time.Duration
	retryConfig *retry.Config
}

// NewClient creates a semantic layer client.
func NewClient(cfg config.SemanticLayerConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{},
		cfg:         cfg,
		logger:      logger.Named("semantic-layer"),
		pollDelay:   pollDelay,
		retryConfig: retry.DefaultConfig(),
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// errorMessage returns the first error message, or a generic fallback.
func (r *graphQLResponse) errorMessage() string {
	if len(r.Errors) > 0 && r.Errors[0].Message != "" {
		return r.Errors[0].Message
	}
	return "unknown error"
}

// submit posts one GraphQL document, injecting the connection's environment
// id into the variables. Transient transport failures are retried with
// backoff; GraphQL-level errors come back in the response and are not.
func (c *Client) submit(ctx context.Context, conn *models.ConnAttr, document string, variables map[string]any) (*graphQLResponse, error) {
	if variables == nil {
		variables = make(map[string]any)
	}
	variables["environmentId"] = conn.EnvironmentID()

	body, err := json.Marshal(graphQLRequest{Query: document, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL request: %w", err)
	}

	url := conn.Host + graphqlPath
	c.logger.Debug("Submitting GraphQL request",
		zap.String("url", url),
		zap.String("snippet", logging.TruncateString(strings.Join(strings.Fields(document), " "), 120)))

	return retry.DoWithResult(ctx, c.retryConfig, func() (*graphQLResponse, error) {
		return c.post(ctx, conn, url, body)
	})
}

// post performs one HTTP round trip.
func (c *Client) post(ctx context.Context, conn *models.ConnAttr, url string, body []byte) (*graphQLResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build GraphQL request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", conn.AuthHeader)
	req.Header.Set("x-dbt-partner-source", c.cfg.PartnerSource)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit GraphQL request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read GraphQL response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("GraphQL request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("body", logging.TruncateString(string(raw), 500)))
		return nil, fmt.Errorf("GraphQL request returned status %d", resp.StatusCode)
	}

	var parsed graphQLResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode GraphQL response: %w", err)
	}
	return &parsed, nil
}

// Metrics fetches the metric catalog.
func (c *Client) Metrics(ctx context.Context, conn *models.ConnAttr) ([]models.Metric, error) {
	resp, err := c.submit(ctx, conn, metricsQuery, nil)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("fetch metrics: %s", resp.errorMessage())
	}

	var data struct {
		Metrics []models.Metric `json:"metrics"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return data.Metrics, nil
}

// SavedQueries fetches the backend-defined saved queries.
func (c *Client) SavedQueries(ctx context.Context, conn *models.ConnAttr) ([]models.SavedQuery, error) {
	resp, err := c.submit(ctx, conn, savedQueriesQuery, nil)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("fetch saved queries: %s", resp.errorMessage())
	}

	var data struct {
		SavedQueries []models.SavedQuery `json:"savedQueries"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("decode saved queries: %w", err)
	}
	return data.SavedQueries, nil
}

// ExecuteQuery submits a query and polls it to a terminal state. The outcome
// is always non-nil: backend failures and transport problems both land in
// the typed failure variant, with backend messages passed through verbatim.
// Polling uses a fixed small delay and is bounded only by ctx.
func (c *Client) ExecuteQuery(ctx context.Context, conn *models.ConnAttr, query *models.QueryRequest) *QueryOutcome {
	if err := query.Validate(); err != nil {
		return failure(FailureBackend, err.Error())
	}

	variables := query.Variables()
	usedInputs := make(map[string]bool, len(variables))
	for name := range variables {
		usedInputs[name] = true
	}

	resp, err := c.submit(ctx, conn, createQueryDocument(usedInputs), variables)
	if err != nil {
		return c.transportFailure(ctx, err)
	}

	queryID, err := parseQueryID(resp)
	if err != nil {
		c.logger.Error("Create query failed", zap.Error(err))
		return failure(FailureBackend, err.Error())
	}

	return c.pollResults(ctx, conn, queryID)
}

func parseQueryID(resp *graphQLResponse) (string, error) {
	if resp.Data == nil {
		return "", fmt.Errorf("%s", resp.errorMessage())
	}
	var data struct {
		CreateQuery struct {
			QueryID string `json:"queryId"`
		} `json:"createQuery"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("decode createQuery response: %w", err)
	}
	if data.CreateQuery.QueryID == "" {
		return "", fmt.Errorf("createQuery returned no query id")
	}
	return data.CreateQuery.QueryID, nil
}

type queryResultData struct {
	Status     string `json:"status"`
	SQL        string `json:"sql"`
	Error      string `json:"error"`
	JSONResult string `json:"jsonResult"`
}

// pollResults polls the backend until the query reaches a terminal state.
// Intermediate states (pending, running, compiled) are not errors.
func (c *Client) pollResults(ctx context.Context, conn *models.ConnAttr, queryID string) *QueryOutcome {
	for {
		resp, err := c.submit(ctx, conn, getResultsQuery, map[string]any{"queryId": queryID})
		if err != nil {
			return c.transportFailure(ctx, err)
		}
		if resp.Data == nil {
			msg := resp.errorMessage()
			c.logger.Error("Query polling failed",
				zap.String("query_id", queryID),
				zap.String("error", msg))
			return failure(FailureBackend, msg)
		}

		var data struct {
			Query queryResultData `json:"query"`
		}
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return failure(FailureTransport, fmt.Sprintf("decode query results: %v", err))
		}

		switch strings.ToLower(data.Query.Status) {
		case StatusSuccessful:
			rows, err := decodeRows(data.Query.JSONResult)
			if err != nil {
				return failure(FailureTransport, err.Error())
			}
			return &QueryOutcome{Rows: rows, SQL: data.Query.SQL}
		case StatusFailed:
			c.logger.Error("Semantic layer query failed",
				zap.String("query_id", queryID),
				zap.String("error", data.Query.Error),
				zap.String("sql", logging.TruncateString(data.Query.SQL, 500)))
			return failure(FailureBackend, data.Query.Error)
		}

		select {
		case <-ctx.Done():
			return failure(FailureCancelled, ctx.Err().Error())
		case <-time.After(c.pollDelay):
		}
	}
}

// transportFailure distinguishes deadline cancellation from other transport
// problems.
func (c *Client) transportFailure(ctx context.Context, err error) *QueryOutcome {
	if ctx.Err() != nil {
		return failure(FailureCancelled, ctx.Err().Error())
	}
	return failure(FailureTransport, err.Error())
}

// decodeRows converts the backend's tabular JSON payload (column names plus
// row arrays) into row maps.
func decodeRows(jsonResult string) ([]map[string]any, error) {
	if jsonResult == "" {
		return nil, nil
	}

	var table struct {
		Columns []string `json:"columns"`
		Data    [][]any  `json:"data"`
	}
	if err := json.Unmarshal([]byte(jsonResult), &table); err != nil {
		return nil, fmt.Errorf("decode result table: %w", err)
	}

	rows := make([]map[string]any, 0, len(table.Data))
	for _, values := range table.Data {
		row := make(map[string]any, len(table.Columns))
		for i, col := range table.Columns {
			if i < len(values) {
				row[col] = values[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
