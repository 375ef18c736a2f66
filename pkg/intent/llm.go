package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nous-labs/walletd/internal/llm"
)

// LLMResolver asks a language model to pick a catalog id. A reply that is
// not a catalog id is returned as-is; the dispatcher then reports it as an
// unknown command.
type LLMResolver struct {
	catalog  *Catalog
	provider llm.Provider
	system   string
}

// NewLLMResolver builds a resolver over catalog.
func NewLLMResolver(catalog *Catalog, provider llm.Provider) *LLMResolver {
	var b strings.Builder
	b.WriteString("You route wallet requests. Reply with exactly one command id from this list and nothing else.\n\n")
	for _, cmd := range catalog.commands {
		fmt.Fprintf(&b, "%s: %s\n", cmd.ID, cmd.Description)
	}
	return &LLMResolver{catalog: catalog, provider: provider, system: b.String()}
}

// Classify returns the model's chosen id.
func (r *LLMResolver) Classify(ctx context.Context, message string) (string, error) {
	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		System:    r.system,
		Messages:  []llm.Message{{Role: "user", Content: message}},
		MaxTokens: 32,
	})
	if err != nil {
		return "", fmt.Errorf("llm classify: %w", err)
	}
	reply := strings.TrimSpace(resp.Content)
	id := strings.ToLower(strings.Trim(reply, "`'\".,:; \n"))
	if r.catalog.Contains(id) {
		return id, nil
	}
	return reply, nil
}
