package intent

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrEmptyIndex is returned when searching an index with no entries.
var ErrEmptyIndex = errors.New("index is empty")

// Entry is one embedded catalog command.
type Entry struct {
	ID       string
	Position int // catalog order, the tie breaker
	Vector   []float32
}

// Match is the result of a nearest-neighbour lookup.
type Match struct {
	ID    string
	Score float64 // cosine similarity, higher is closer
}

// Index finds the entry nearest to a query vector. Implementations are
// interchangeable so the exact linear scan can be swapped for an ANN
// backend without touching the classifier.
type Index interface {
	Add(ctx context.Context, entries []Entry) error
	Nearest(ctx context.Context, query []float32) (Match, error)
}

// FlatIndex is an exact in-memory cosine index.
type FlatIndex struct {
	mu      sync.RWMutex
	entries []Entry
	dim     int
}

// NewFlatIndex returns an empty FlatIndex.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{}
}

// Add appends entries. All vectors must share one dimension.
func (x *FlatIndex) Add(_ context.Context, entries []Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("entry %q has an empty vector", e.ID)
		}
		if x.dim == 0 {
			x.dim = len(e.Vector)
		}
		if len(e.Vector) != x.dim {
			return fmt.Errorf("entry %q has dimension %d, index has %d", e.ID, len(e.Vector), x.dim)
		}
		x.entries = append(x.entries, e)
	}
	return nil
}

// Nearest scans every entry. Equal scores resolve to the lower catalog
// position.
func (x *FlatIndex) Nearest(_ context.Context, query []float32) (Match, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.entries) == 0 {
		return Match{}, ErrEmptyIndex
	}
	if len(query) != x.dim {
		return Match{}, fmt.Errorf("query has dimension %d, index has %d", len(query), x.dim)
	}

	best := -1
	var bestScore float64
	for i, e := range x.entries {
		s := cosine(query, e.Vector)
		if best < 0 || s > bestScore || (s == bestScore && e.Position < x.entries[best].Position) {
			best, bestScore = i, s
		}
	}
	return Match{ID: x.entries[best].ID, Score: bestScore}, nil
}

// Len returns the number of entries.
func (x *FlatIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
