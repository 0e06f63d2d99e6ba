// Package embedding ships Brainstem's embedding client. A real provider
// (OpenAI et al., as the teacher's internal/embedding/openai.go calls out
// to) is explicitly out of scope per spec.md — Brainstem only needs a
// deterministic stand-in satisfying domain.EmbeddingClient so the rest of
// the system (and its tests) never depend on network access.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/brainstem-run/brainstem/internal/domain"
)

// HashEmbedder deterministically projects text into a fixed-dimension
// vector by hashing each token into a handful of dimensions and
// normalizing the result. Same text always yields the same vector, which
// is all the rest of Brainstem requires of an EmbeddingClient — it never
// inspects semantic similarity itself, C1's lexical scoring does that.
type HashEmbedder struct {
	dimensions int
}

func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &HashEmbedder{dimensions: dimensions}
}

var _ domain.EmbeddingClient = (*HashEmbedder)(nil)

func (h *HashEmbedder) Dimensions() int { return h.dimensions }

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimensions)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		base := fnv.New32a()
		_, _ = base.Write([]byte(tok))
		seed := base.Sum32()

		// Spread each token's contribution across three dimensions rather
		// than one, so short texts still produce a reasonably dense vector.
		for i := 0; i < 3; i++ {
			h2 := fnv.New32a()
			_, _ = h2.Write([]byte{byte(seed), byte(seed >> 8), byte(seed >> 16), byte(seed >> 24), byte(i)})
			mixed := h2.Sum32()
			dim := int(mixed) % h.dimensions
			if dim < 0 {
				dim += h.dimensions
			}
			sign := float32(1)
			if mixed&1 == 0 {
				sign = -1
			}
			vec[dim] += sign * (1.0 / float32(len(tokens)))
		}
	}

	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
}
