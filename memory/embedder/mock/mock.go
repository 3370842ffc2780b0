// Package mock provides a deterministic embedder for tests and offline
// development. Embeddings are derived from a hash of the text, so equal
// texts always embed identically, but there is no real semantic
// similarity between different texts.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// Embedder generates deterministic hash-based embeddings.
type Embedder struct {
	dimensions int

	mu       sync.RWMutex
	fixtures map[string][]float32
	err      error
}

// New creates a mock embedder with the given dimension. Zero defaults to
// 384, matching all-MiniLM-L6-v2.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{
		dimensions: dimensions,
		fixtures:   make(map[string][]float32),
	}
}

// Fix pins the embedding returned for an exact text, letting tests
// script similarity relationships.
func (m *Embedder) Fix(text string, embedding []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixtures[text] = embedding
}

// Fail makes every subsequent Embed call return err; nil restores normal
// operation.
func (m *Embedder) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Embed returns the pinned fixture for text if one exists, otherwise a
// deterministic unit vector seeded by the text's hash.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.RLock()
	err := m.err
	fixed, ok := m.fixtures[text]
	m.mu.RUnlock()

	if err != nil {
		return nil, err
	}
	if ok {
		return fixed, nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// Linear congruential generator keyed by the text hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// normalize converts an embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
