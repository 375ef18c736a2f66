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
)

const (
	// PrefixDocument is the task prefix nomic-style models expect on
	// stored documents.
	PrefixDocument = "search_document: "
	// PrefixQuery is the matching prefix for search queries.
	PrefixQuery = "search_query: "
)

// TEIClient is an HTTP client for HuggingFace Text Embeddings Inference.
type TEIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTEIClient creates a new TEI client.
func NewTEIClient(baseURL string) *TEIClient {
	return &TEIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type teiRequest struct {
	Inputs []string `json:"inputs"`
}

// Embed generates embeddings for texts, each prefixed with taskPrefix.
func (c *TEIClient) Embed(ctx context.Context, texts []string, taskPrefix string) ([][]float32, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = taskPrefix + t
	}

	reqBytes, err := json.Marshal(teiRequest{Inputs: prefixed})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("TEI returned %d: %s", resp.StatusCode, string(respBody))
	}

	var embeddings [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&embeddings); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("TEI returned %d embeddings for %d inputs", len(embeddings), len(texts))
	}
	return embeddings, nil
}

// EmbedDocuments embeds texts in a single batch.
func (c *TEIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.Embed(ctx, texts, PrefixDocument)
}

// EmbedQuery embeds a search query.
func (c *TEIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	results, err := c.Embed(ctx, []string{text}, PrefixQuery)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// Health checks if the TEI service is available.
func (c *TEIClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("TEI health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("TEI unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
