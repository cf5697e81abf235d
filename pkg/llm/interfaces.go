// Package llm provides OpenAI-compatible chat completion for the
// natural-language query path.
package llm

import (
	"context"
)

// ChatClient defines the interface for chat completion operations.
// Use this interface for dependency injection to enable mocking in tests.
type ChatClient interface {
	// GenerateJSON generates a chat completion constrained to a JSON object.
	GenerateJSON(ctx context.Context, systemMessage, prompt string) (string, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Ensure Client implements ChatClient at compile time.
var _ ChatClient = (*Client)(nil)
