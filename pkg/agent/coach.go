// Package agent provides the benefits-coach conversational agent. The agent
// can query metrics on the member's behalf; every query it issues travels
// through the same enforcement path as hand-built queries.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/config"
	"github.com/benefitsai/portal-engine/pkg/models"
	"github.com/benefitsai/portal-engine/pkg/services"
)

// maxToolIterations bounds the tool loop so a confused model cannot spin
// queries indefinitely.
const maxToolIterations = 5

const coachSystemPrompt = `You are a benefits coach helping a member understand their own benefits data.

You can call query_metrics to fetch the member's numbers and list_metrics to see what is available. All data you receive is already scoped to the member you are speaking with; you cannot see anyone else's data, and you must not imply otherwise.

Answer concisely, cite the numbers you fetched, and say so plainly when the data cannot answer the question.`

// MessagesClient is the subset of the Anthropic client the agent uses.
// Defined here for dependency injection to enable mocking in tests.
type MessagesClient interface {
	CreateMessages(ctx context.Context, request anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

// CoachReply is the agent's answer plus what it did to produce it.
type CoachReply struct {
	Answer      string `json:"answer"`
	QueriesRun  int    `json:"queries_run"`
	ToolsCalled int    `json:"tools_called"`
}

// CoachAgent answers member questions, issuing metric queries as needed.
type CoachAgent interface {
	Ask(ctx context.Context, sess *services.SessionContext, question string) (*CoachReply, error)
}

type coachAgent struct {
	client MessagesClient
	portal services.PortalService
	model  anthropic.Model
	logger *zap.Logger
}

// NewCoachAgent creates the coach agent from configuration.
func NewCoachAgent(cfg config.AnthropicConfig, portal services.PortalService, logger *zap.Logger) (CoachAgent, error) {
	if !cfg.IsAvailable() {
		return nil, fmt.Errorf("no Anthropic API key configured")
	}
	return newCoachAgent(anthropic.NewClient(cfg.APIKey), anthropic.Model(cfg.Model), portal, logger), nil
}

// newCoachAgent wires an agent around any messages client. Tests inject a
// mock here.
func newCoachAgent(client MessagesClient, model anthropic.Model, portal services.PortalService, logger *zap.Logger) *coachAgent {
	return &coachAgent{
		client: client,
		portal: portal,
		model:  model,
		logger: logger.Named("coach"),
	}
}

var _ CoachAgent = (*coachAgent)(nil)

// queryMetricsInput is the JSON shape of the query_metrics tool input.
type queryMetricsInput struct {
	Metrics []string `json:"metrics"`
	GroupBy []struct {
		Name  string `json:"name"`
		Grain string `json:"grain,omitempty"`
	} `json:"group_by,omitempty"`
	Limit int `json:"limit,omitempty"`
}

func coachTools() []anthropic.ToolDefinition {
	return []anthropic.ToolDefinition{
		{
			Name:        "list_metrics",
			Description: "Lists the metrics available to query, with their dimensions.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "query_metrics",
			Description: "Queries one or more metrics for the current member, optionally grouped by dimensions. Results are already scoped to the member.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"metrics": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Metric names to query",
					},
					"group_by": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name":  map[string]any{"type": "string"},
								"grain": map[string]any{"type": "string", "description": "DAY, WEEK, MONTH, QUARTER or YEAR for time dimensions"},
							},
							"required": []string{"name"},
						},
					},
					"limit": map[string]any{"type": "integer"},
				},
				"required": []string{"metrics"},
			},
		},
	}
}

// Ask runs the tool loop until the model produces a final answer.
func (a *coachAgent) Ask(ctx context.Context, sess *services.SessionContext, question string) (*CoachReply, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	messages := []anthropic.Message{
		anthropic.NewUserTextMessage(question),
	}
	reply := &CoachReply{}

	for iteration := 0; iteration <= maxToolIterations; iteration++ {
		resp, err := a.client.CreateMessages(ctx, anthropic.MessagesRequest{
			Model:     a.model,
			MaxTokens: 2048,
			System:    coachSystemPrompt,
			Messages:  messages,
			Tools:     coachTools(),
		})
		if err != nil {
			return nil, fmt.Errorf("coach request: %w", err)
		}

		if resp.StopReason != anthropic.MessagesStopReasonToolUse {
			reply.Answer = collectText(resp.Content)
			return reply, nil
		}

		messages = append(messages, anthropic.Message{
			Role:    anthropic.RoleAssistant,
			Content: resp.Content,
		})

		var results []anthropic.MessageContent
		for _, block := range resp.Content {
			if block.Type != anthropic.MessagesContentTypeToolUse || block.MessageContentToolUse == nil {
				continue
			}
			use := block.MessageContentToolUse
			reply.ToolsCalled++

			output, isError := a.runTool(ctx, sess, use.Name, use.Input, reply)
			results = append(results, anthropic.NewToolResultMessageContent(use.ID, output, isError))
		}
		if len(results) == 0 {
			return nil, fmt.Errorf("model stopped for tool use but sent no tool calls")
		}
		messages = append(messages, anthropic.Message{
			Role:    anthropic.RoleUser,
			Content: results,
		})
	}

	return nil, fmt.Errorf("coach exceeded %d tool iterations without answering", maxToolIterations)
}

// runTool dispatches one tool call. Errors are returned to the model as
// error results so it can adjust, not as Go errors.
func (a *coachAgent) runTool(ctx context.Context, sess *services.SessionContext, name string, input json.RawMessage, reply *CoachReply) (string, bool) {
	a.logger.Debug("Coach tool call", zap.String("tool", name))

	switch name {
	case "list_metrics":
		return a.listMetrics(ctx, sess)
	case "query_metrics":
		return a.queryMetrics(ctx, sess, input, reply)
	default:
		return fmt.Sprintf("unknown tool %q", name), true
	}
}

func (a *coachAgent) listMetrics(ctx context.Context, sess *services.SessionContext) (string, bool) {
	catalog, err := a.portal.LoadCatalog(ctx, sess)
	if err != nil {
		return fmt.Sprintf("could not load metric catalog: %v", err), true
	}

	out, err := json.Marshal(catalog)
	if err != nil {
		return fmt.Sprintf("could not serialize catalog: %v", err), true
	}
	return string(out), false
}

func (a *coachAgent) queryMetrics(ctx context.Context, sess *services.SessionContext, input json.RawMessage, reply *CoachReply) (string, bool) {
	var parsed queryMetricsInput
	if err := json.Unmarshal(input, &parsed); err != nil {
		return fmt.Sprintf("invalid query_metrics input: %v", err), true
	}
	if len(parsed.Metrics) == 0 {
		return "query_metrics requires at least one metric", true
	}

	request := &models.QueryRequest{Limit: parsed.Limit}
	for _, name := range parsed.Metrics {
		request.Metrics = append(request.Metrics, models.MetricInput{Name: name})
	}
	for _, g := range parsed.GroupBy {
		input := models.GroupByInput{Name: g.Name}
		if g.Grain != "" {
			input.Grain = models.TimeGranularity(strings.ToUpper(g.Grain))
		}
		request.GroupBy = append(request.GroupBy, input)
	}

	outcome, err := a.portal.ExecuteQuery(ctx, sess, services.QueryInput{
		Kind:     models.QueryKindCoach,
		Origin:   "coach",
		ToolName: "query_metrics",
		Request:  request,
	})
	if err != nil {
		return fmt.Sprintf("query rejected: %v", err), true
	}
	reply.QueriesRun++

	if !outcome.OK() {
		return fmt.Sprintf("query failed: %s", outcome.Failure.Message), true
	}

	out, err := json.Marshal(outcome.Rows)
	if err != nil {
		return fmt.Sprintf("could not serialize rows: %v", err), true
	}
	return string(out), false
}

func collectText(content []anthropic.MessageContent) string {
	var b strings.Builder
	for _, block := range content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			b.WriteString(*block.Text)
		}
	}
	return b.String()
}
