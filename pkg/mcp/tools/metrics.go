package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/auth"
	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/services"
)

// MetricsToolDeps contains dependencies for the metrics tools.
type MetricsToolDeps struct {
	Portal services.PortalService
	Logger *zap.Logger
}

// RegisterMetricsTools registers the metric query tools.
func RegisterMetricsTools(s *server.MCPServer, deps *MetricsToolDeps) {
	registerListMetricsTool(s, deps)
	registerQueryMetricsTool(s, deps)
	registerSecurityContextTool(s, deps)
}

// requireSession resolves the caller's portal session. MCP requests carry
// the same session cookie or bearer token as browser requests; a tool call
// without one is an input error, not a server failure.
func requireSession(ctx context.Context) (*services.SessionContext, *mcp.CallToolResult) {
	sess, ok := auth.GetSession(ctx)
	if !ok {
		return nil, NewErrorResult("no_session", "no active member session; authenticate and select a member first")
	}
	return sess, nil
}

func registerListMetricsTool(s *server.MCPServer, deps *MetricsToolDeps) {
	tool := mcp.NewTool(
		"list_metrics",
		mcp.WithDescription("Lists the metrics available to the current member, with their dimensions"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, errResult := requireSession(ctx)
		if errResult != nil {
			return errResult, nil
		}

		catalog, err := deps.Portal.LoadCatalog(ctx, sess)
		if err != nil {
			deps.Logger.Error("list_metrics failed to load catalog", zap.Error(err))
			return nil, fmt.Errorf("load metric catalog: %w", err)
		}

		result, err := json.Marshal(catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}

// queryMetricsArgs is the JSON shape of the query_metrics tool input.
type queryMetricsArgs struct {
	Metrics []string `json:"metrics"`
	GroupBy []struct {
		Name  string `json:"name"`
		Grain string `json:"grain,omitempty"`
	} `json:"group_by,omitempty"`
	Limit int `json:"limit,omitempty"`
}

func registerQueryMetricsTool(s *server.MCPServer, deps *MetricsToolDeps) {
	tool := mcp.NewTool(
		"query_metrics",
		mcp.WithDescription("Queries metrics for the current member, optionally grouped by dimensions. Results are scoped to the member automatically."),
		mcp.WithArray("metrics",
			mcp.Required(),
			mcp.Description("Metric names to query"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray("group_by",
			mcp.Description("Dimensions to group by; objects with 'name' and optional time 'grain' (DAY, WEEK, MONTH, QUARTER, YEAR)"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  map[string]any{"type": "string"},
					"grain": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			}),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of rows to return"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, errResult := requireSession(ctx)
		if errResult != nil {
			return errResult, nil
		}

		raw, err := json.Marshal(req.GetArguments())
		if err != nil {
			return NewErrorResult("invalid_arguments", err.Error()), nil
		}
		var args queryMetricsArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return NewErrorResult("invalid_arguments", err.Error()), nil
		}
		if len(args.Metrics) == 0 {
			return NewErrorResult("invalid_arguments", "query_metrics requires at least one metric"), nil
		}

		request := &models.QueryRequest{Limit: args.Limit}
		for _, name := range args.Metrics {
			request.Metrics = append(request.Metrics, models.MetricInput{Name: name})
		}
		for _, g := range args.GroupBy {
			input := models.GroupByInput{Name: g.Name}
			if g.Grain != "" {
				input.Grain = models.TimeGranularity(strings.ToUpper(g.Grain))
			}
			request.GroupBy = append(request.GroupBy, input)
		}

		outcome, err := deps.Portal.ExecuteQuery(ctx, sess, services.QueryInput{
			Kind:     models.QueryKindMCP,
			Origin:   "mcp",
			ToolName: "query_metrics",
			Request:  request,
		})
		if err != nil {
			if IsInputError(err) {
				deps.Logger.Debug("query_metrics rejected", zap.Error(err))
				return NewErrorResult("query_rejected", err.Error()), nil
			}
			deps.Logger.Error("query_metrics failed", zap.Error(err))
			return nil, fmt.Errorf("execute query: %w", err)
		}
		if !outcome.OK() {
			return NewErrorResultWithDetails("query_failed", outcome.Failure.Message,
				map[string]any{"code": outcome.Failure.Code}), nil
		}

		result, err := json.Marshal(map[string]any{
			"rows":      outcome.Rows,
			"row_count": outcome.RowCount(),
			"sql":       outcome.SQL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal query result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}

func registerSecurityContextTool(s *server.MCPServer, deps *MetricsToolDeps) {
	tool := mcp.NewTool(
		"get_security_context",
		mcp.WithDescription("Explains which tenant credential scopes the current session; tokens are masked"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sess, errResult := requireSession(ctx)
		if errResult != nil {
			return errResult, nil
		}

		result, err := json.Marshal(deps.Portal.SecurityContext(sess))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal security context: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
