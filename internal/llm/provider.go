// Package llm provides the language-model providers walletd can use to
// resolve requests when embedding classification is not configured.
package llm

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// CompletionRequest holds parameters for an LLM completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

// CompletionResponse holds the LLM's response.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	StopReason   string `json:"stop_reason"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic").
	Name() string

	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ProviderError represents an LLM provider error.
type ProviderError struct {
	Message    string
	StatusCode int
	Provider   string
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}
