// Package embedding provides text vectors used to cluster similar memory
// entries during consolidation.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DefaultDims is the vector width of TermEmbedder when none is given.
const DefaultDims = 256

// TermEmbedder hashes lowercased word terms into a fixed number of buckets.
// It is deterministic and needs no network, so two runs of consolidation over
// the same entries always cluster the same way.
type TermEmbedder struct {
	dims int
}

// NewTermEmbedder returns a term embedder with dims buckets.
func NewTermEmbedder(dims int) *TermEmbedder {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &TermEmbedder{dims: dims}
}

func (e *TermEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make(Vector, e.dims)
	for _, term := range Terms(text) {
		h := fnv.New32a()
		h.Write([]byte(term))
		v[h.Sum32()%uint32(e.dims)]++
	}
	return v, nil
}

func (e *TermEmbedder) Dims() int { return e.dims }

// Terms splits text into lowercased terms of letters and digits, dropping
// terms shorter than three characters.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			out = append(out, f)
		}
	}
	return out
}
