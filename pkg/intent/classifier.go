package intent

import (
	"context"
	"fmt"
)

// Resolver maps a free-text message to a command id.
type Resolver interface {
	Classify(ctx context.Context, message string) (string, error)
}

// Classifier resolves messages by nearest-neighbour search over the
// embedded catalog. It is read-only after construction and safe for
// concurrent use.
//
// There is no confidence threshold: every message, however unrelated,
// resolves to some catalog id.
type Classifier struct {
	catalog  *Catalog
	embedder Embedder
	index    Index
}

// NewClassifier embeds every catalog description once and loads the
// vectors into index. Any failure here means the service cannot start.
func NewClassifier(ctx context.Context, catalog *Catalog, embedder Embedder, index Index) (*Classifier, error) {
	vecs, err := embedder.EmbedDocuments(ctx, catalog.Descriptions())
	if err != nil {
		return nil, fmt.Errorf("embed catalog: %w", err)
	}
	if len(vecs) != catalog.Len() {
		return nil, fmt.Errorf("embed catalog: got %d vectors for %d commands", len(vecs), catalog.Len())
	}

	entries := make([]Entry, catalog.Len())
	for i, cmd := range catalog.commands {
		entries[i] = Entry{ID: cmd.ID, Position: i, Vector: vecs[i]}
	}
	if err := index.Add(ctx, entries); err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	return &Classifier{catalog: catalog, embedder: embedder, index: index}, nil
}

// Classify returns the id of the command nearest to message.
func (c *Classifier) Classify(ctx context.Context, message string) (string, error) {
	m, err := c.ClassifyScored(ctx, message)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// ClassifyScored is Classify with the similarity score of the match.
func (c *Classifier) ClassifyScored(ctx context.Context, message string) (Match, error) {
	q, err := c.embedder.EmbedQuery(ctx, message)
	if err != nil {
		return Match{}, fmt.Errorf("embed query: %w", err)
	}
	m, err := c.index.Nearest(ctx, q)
	if err != nil {
		return Match{}, fmt.Errorf("nearest command: %w", err)
	}
	return m, nil
}

// Catalog returns the catalog the classifier was built from.
func (c *Classifier) Catalog() *Catalog { return c.catalog }
