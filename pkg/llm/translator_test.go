package llm

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/pkg/models"
)

func testCatalog() []models.Metric {
	return []models.Metric{
		{
			Name:        "total_claims",
			Description: "Count of claims",
			Dimensions: []models.Dimension{
				{Name: "member__email"},
				{Name: "plan_type"},
				{Name: "claim_date", Type: "TIME"},
			},
		},
		{Name: "paid_amount"},
	}
}

func scriptedTranslator(response string) (*Translator, *MockChatClient) {
	mock := &MockChatClient{
		GenerateJSONFunc: func(ctx context.Context, systemMessage, prompt string) (string, error) {
			return response, nil
		},
	}
	return NewTranslator(mock, zap.NewNop()), mock
}

func TestTranslate(t *testing.T) {
	translator, mock := scriptedTranslator(`{
		"metrics": [{"name": "total_claims"}],
		"group_by": [{"name": "claim_date", "grain": "month"}],
		"order_by": [{"metric": "total_claims", "descending": true}],
		"limit": 12,
		"explanation": "Monthly claim counts for the last year."
	}`)

	result, err := translator.Translate(context.Background(), "how many claims per month?", testCatalog())
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if result.Explanation == "" {
		t.Error("explanation should be passed through")
	}
	request := result.Request
	if len(request.Metrics) != 1 || request.Metrics[0].Name != "total_claims" {
		t.Errorf("Metrics = %+v", request.Metrics)
	}
	if len(request.GroupBy) != 1 || request.GroupBy[0].QualifiedName() != "claim_date__month" {
		t.Errorf("GroupBy = %+v", request.GroupBy)
	}
	if len(request.OrderBy) != 1 || request.OrderBy[0].Metric == nil || !request.OrderBy[0].Descending {
		t.Errorf("OrderBy = %+v", request.OrderBy)
	}
	if request.Limit != 12 {
		t.Errorf("Limit = %d", request.Limit)
	}
	if mock.GenerateJSONCalls != 1 {
		t.Errorf("GenerateJSONCalls = %d", mock.GenerateJSONCalls)
	}
}

func TestTranslatePromptCarriesCatalog(t *testing.T) {
	var seenPrompt string
	mock := &MockChatClient{
		GenerateJSONFunc: func(ctx context.Context, systemMessage, prompt string) (string, error) {
			seenPrompt = prompt
			return `{"metrics": [{"name": "total_claims"}]}`, nil
		},
	}
	translator := NewTranslator(mock, zap.NewNop())

	if _, err := translator.Translate(context.Background(), "claims by plan?", testCatalog()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if !strings.Contains(seenPrompt, "total_claims") || !strings.Contains(seenPrompt, "plan_type") {
		t.Errorf("prompt missing catalog entries:\n%s", seenPrompt)
	}
	if !strings.Contains(seenPrompt, "claims by plan?") {
		t.Errorf("prompt missing question:\n%s", seenPrompt)
	}
}

func TestTranslateRejectsUnknownMetric(t *testing.T) {
	translator, _ := scriptedTranslator(`{"metrics": [{"name": "made_up_metric"}]}`)

	_, err := translator.Translate(context.Background(), "question", testCatalog())
	if err == nil || !strings.Contains(err.Error(), "unknown metric") {
		t.Errorf("error = %v, want unknown metric rejection", err)
	}
}

func TestTranslateRejectsUnknownDimension(t *testing.T) {
	translator, _ := scriptedTranslator(`{
		"metrics": [{"name": "total_claims"}],
		"group_by": [{"name": "made_up_dimension"}]
	}`)

	_, err := translator.Translate(context.Background(), "question", testCatalog())
	if err == nil || !strings.Contains(err.Error(), "unknown dimension") {
		t.Errorf("error = %v, want unknown dimension rejection", err)
	}
}

func TestTranslateUnanswerableQuestion(t *testing.T) {
	translator, _ := scriptedTranslator(`{"metrics": [], "explanation": "no matching metric exists"}`)

	_, err := translator.Translate(context.Background(), "what is the weather?", testCatalog())
	if err == nil || !strings.Contains(err.Error(), "no matching metric exists") {
		t.Errorf("error = %v, want unanswerable explanation", err)
	}
}

func TestTranslateEmptyInputs(t *testing.T) {
	translator, _ := scriptedTranslator(`{}`)

	if _, err := translator.Translate(context.Background(), "  ", testCatalog()); err == nil {
		t.Error("expected error for empty question")
	}
	if _, err := translator.Translate(context.Background(), "question", nil); err == nil {
		t.Error("expected error for empty catalog")
	}
}

func TestTranslateMalformedResponse(t *testing.T) {
	translator, _ := scriptedTranslator("I refuse to produce JSON.")

	if _, err := translator.Translate(context.Background(), "question", testCatalog()); err == nil {
		t.Error("expected error for malformed response")
	}
}
