package llmtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"

	"AgentHive/internal/llm"
)

// Embedder maps text to a normalised bag-of-words vector. Identical texts
// yield identical vectors and texts without shared words are orthogonal.
type Embedder struct {
	Dim   int
	Err   error
	calls atomic.Int64
}

var _ llm.Embedder = (*Embedder)(nil)

// NewEmbedder returns an embedder with 64 dimensions.
func NewEmbedder() *Embedder {
	return &Embedder{Dim: 64}
}

// Calls returns how many times Embed was invoked.
func (e *Embedder) Calls() int {
	return int(e.calls.Load())
}

// Embed 实现 llm.Embedder。
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return Vector(text, e.Dim), nil
}

// Vector computes the embedding Embed returns for text.
func Vector(text string, dim int) []float64 {
	if dim <= 0 {
		dim = 64
	}
	vec := make([]float64, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
