package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/models"
)

const translatorSystemPrompt = `You translate natural-language questions about benefits metrics into a structured query.

Respond with a single JSON object of this shape:
{
  "metrics": [{"name": "<metric name>"}],
  "group_by": [{"name": "<dimension name>", "grain": "DAY|WEEK|MONTH|QUARTER|YEAR"}],
  "order_by": [{"metric": "<metric name>", "descending": true}],
  "limit": 0,
  "explanation": "<one sentence>"
}

Rules:
- Use only metric and dimension names from the catalog below. Never invent names.
- Omit group_by, order_by and limit when the question doesn't call for them.
- "grain" applies only to time dimensions; omit it otherwise.
- Do not produce filters. Row scoping is applied by the system, not by you.
- If the question cannot be answered with the catalog, return {"metrics": [], "explanation": "<why>"}.`

// translation is the JSON shape the model is asked to produce.
type translation struct {
	Metrics []struct {
		Name string `json:"name"`
	} `json:"metrics"`
	GroupBy []struct {
		Name  string `json:"name"`
		Grain string `json:"grain"`
	} `json:"group_by"`
	OrderBy []struct {
		Metric     string `json:"metric"`
		GroupBy    string `json:"group_by"`
		Descending bool   `json:"descending"`
	} `json:"order_by"`
	Limit       int    `json:"limit"`
	Explanation string `json:"explanation"`
}

// TranslationResult pairs the executable request with the model's explanation.
type TranslationResult struct {
	Request     *models.QueryRequest
	Explanation string
}

// Translator turns member questions into metric queries. The output is a
// candidate request only: it still passes through filter enforcement like
// any hand-built query.
type Translator struct {
	client ChatClient
	logger *zap.Logger
}

// NewTranslator creates a natural-language query translator.
func NewTranslator(client ChatClient, logger *zap.Logger) *Translator {
	return &Translator{
		client: client,
		logger: logger.Named("translator"),
	}
}

// Translate converts a question into a query request using the metric
// catalog as the model's vocabulary.
func (t *Translator) Translate(ctx context.Context, question string, catalog []models.Metric) (*TranslationResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("metric catalog is empty; load it before translating")
	}

	prompt := buildTranslationPrompt(question, catalog)
	response, err := t.client.GenerateJSON(ctx, translatorSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("translate question: %w", err)
	}

	parsed, err := ParseJSONResponse[translation](response)
	if err != nil {
		return nil, fmt.Errorf("parse translation: %w", err)
	}

	if len(parsed.Metrics) == 0 {
		if parsed.Explanation != "" {
			return nil, fmt.Errorf("question not answerable: %s", parsed.Explanation)
		}
		return nil, fmt.Errorf("translation produced no metrics")
	}

	request, err := t.toRequest(&parsed, catalog)
	if err != nil {
		return nil, err
	}

	t.logger.Info("Translated question",
		zap.Strings("metrics", request.MetricNames()),
		zap.Strings("dimensions", request.DimensionNames()))

	return &TranslationResult{Request: request, Explanation: parsed.Explanation}, nil
}

// toRequest maps the model output into a query request, validating every
// name against the catalog. Hallucinated names fail here rather than at
// the backend.
func (t *Translator) toRequest(parsed *translation, catalog []models.Metric) (*models.QueryRequest, error) {
	knownMetrics := make(map[string]bool, len(catalog))
	knownDimensions := make(map[string]bool)
	for _, m := range catalog {
		knownMetrics[m.Name] = true
		for _, d := range m.Dimensions {
			knownDimensions[d.Name] = true
		}
	}

	request := &models.QueryRequest{Limit: parsed.Limit}

	for _, m := range parsed.Metrics {
		if !knownMetrics[m.Name] {
			return nil, fmt.Errorf("translation referenced unknown metric %q", m.Name)
		}
		request.Metrics = append(request.Metrics, models.MetricInput{Name: m.Name})
	}

	for _, g := range parsed.GroupBy {
		if !knownDimensions[g.Name] {
			return nil, fmt.Errorf("translation referenced unknown dimension %q", g.Name)
		}
		input := models.GroupByInput{Name: g.Name}
		if g.Grain != "" {
			input.Grain = models.TimeGranularity(strings.ToUpper(g.Grain))
		}
		request.GroupBy = append(request.GroupBy, input)
	}

	for _, o := range parsed.OrderBy {
		input := models.OrderByInput{Descending: o.Descending}
		switch {
		case o.Metric != "":
			if !knownMetrics[o.Metric] {
				return nil, fmt.Errorf("translation ordered by unknown metric %q", o.Metric)
			}
			input.Metric = &models.MetricInput{Name: o.Metric}
		case o.GroupBy != "":
			if !knownDimensions[o.GroupBy] {
				return nil, fmt.Errorf("translation ordered by unknown dimension %q", o.GroupBy)
			}
			input.GroupBy = &models.GroupByInput{Name: o.GroupBy}
		default:
			continue
		}
		request.OrderBy = append(request.OrderBy, input)
	}

	return request, nil
}

func buildTranslationPrompt(question string, catalog []models.Metric) string {
	var b strings.Builder
	b.WriteString("Metric catalog:\n")
	for _, m := range catalog {
		fmt.Fprintf(&b, "- %s", m.Name)
		if m.Description != "" {
			fmt.Fprintf(&b, ": %s", m.Description)
		}
		if len(m.Dimensions) > 0 {
			fmt.Fprintf(&b, " (dimensions: %s)", strings.Join(m.DimensionNames(), ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return b.String()
}
