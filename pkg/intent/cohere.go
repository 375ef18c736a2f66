package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultCohereURL is the Cohere API base.
	DefaultCohereURL = "https://api.cohere.ai"
	// DefaultCohereModel is the Cohere embedding model.
	DefaultCohereModel = "embed-english-v3.0"
)

// CohereClient embeds text with the Cohere embed API.
type CohereClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewCohereClient creates a Cohere client. Empty baseURL and model select
// the defaults.
func NewCohereClient(baseURL, apiKey, model string) *CohereClient {
	if baseURL == "" {
		baseURL = DefaultCohereURL
	}
	if model == "" {
		model = DefaultCohereModel
	}
	return &CohereClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type cohereRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate,omitempty"`
}

func (c *CohereClient) embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	reqBytes, err := json.Marshal(cohereRequest{
		Texts:     texts,
		Model:     c.model,
		InputType: inputType,
		Truncate:  "END",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cohere request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embed", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("create cohere request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cohere request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cohere response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = string(body)
		}
		return nil, fmt.Errorf("cohere returned %d: %s", resp.StatusCode, msg)
	}

	// v1 returns a bare array; requests with embedding_types return
	// {"float": [...]}.
	vectors := gjson.GetBytes(body, "embeddings")
	if f := vectors.Get("float"); f.Exists() {
		vectors = f
	}
	if !vectors.IsArray() {
		return nil, fmt.Errorf("cohere response has no embeddings")
	}

	var out [][]float32
	for _, row := range vectors.Array() {
		vals := row.Array()
		vec := make([]float32, len(vals))
		for i, v := range vals {
			vec[i] = float32(v.Float())
		}
		out = append(out, vec)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("cohere returned %d embeddings for %d inputs", len(out), len(texts))
	}
	return out, nil
}

// EmbedDocuments embeds texts as search documents.
func (c *CohereClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, "search_document")
}

// EmbedQuery embeds text as a search query.
func (c *CohereClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := c.embed(ctx, []string{text}, "search_query")
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
