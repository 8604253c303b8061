// Package knowledgetest provides deterministic embedders for tests.
package knowledgetest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// HashEmbedder maps text to a normalized bag-of-words vector. Texts sharing
// tokens land close together, which is enough to exercise ranking.
type HashEmbedder struct {
	Dim int

	mu    sync.Mutex
	calls [][]string
}

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.Dim }

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.calls = append(h.calls, append([]string(nil), texts...))
	h.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

// Calls returns the batches received so far.
func (h *HashEmbedder) Calls() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]string(nil), h.calls...)
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[f.Sum32()%uint32(h.Dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// ErrEmbed is returned by FailingEmbedder.
var ErrEmbed = errors.New("embedding backend unavailable")

// FailingEmbedder succeeds for the first OkCalls calls and then fails.
type FailingEmbedder struct {
	HashEmbedder
	OkCalls int

	n int
}

func (f *FailingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.n++
	if f.n > f.OkCalls {
		return nil, ErrEmbed
	}
	return f.HashEmbedder.Embed(ctx, texts)
}
