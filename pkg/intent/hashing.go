package intent

import (
	"context"
	"encoding/binary"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// DefaultHashingDim is the HashingEmbedder width.
const DefaultHashingDim = 1024

// HashingEmbedder is a local bag-of-words embedder. Each lowercased word
// is hashed into one signed bucket and the result is L2-normalised. It
// needs no network and is fully deterministic, which makes it suitable
// for offline runs and tests. It has no notion of synonyms.
type HashingEmbedder struct {
	Dim int
}

// NewHashingEmbedder returns a HashingEmbedder with dim buckets, or
// DefaultHashingDim when dim <= 0.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultHashingDim
	}
	return &HashingEmbedder{Dim: dim}
}

// EmbedDocuments embeds each text.
func (e *HashingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

// EmbedQuery embeds text.
func (e *HashingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *HashingEmbedder) embed(text string) []float32 {
	dim := e.Dim
	if dim <= 0 {
		dim = DefaultHashingDim
	}
	vec := make([]float32, dim)
	for _, tok := range tokenize(text) {
		sum := blake3.Sum256([]byte(tok))
		h := binary.LittleEndian.Uint64(sum[:8])
		sign := float32(1)
		if sum[8]&1 == 1 {
			sign = -1
		}
		vec[h%uint64(dim)] += sign
	}
	normalize(vec)
	return vec
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
