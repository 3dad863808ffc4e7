package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// hashEmbedder maps tokens into a fixed number of buckets with a signed
// feature hash. Equal texts give equal vectors; texts sharing words point
// in similar directions.
type hashEmbedder struct {
	dim int
}

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		f := fnv.New64a()
		f.Write([]byte(w))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return Normalize(vec), nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i], _ = h.Embed(ctx, t)
	}
	return out, nil
}

func (h *hashEmbedder) Dimension() int { return h.dim }
func (h *hashEmbedder) Model() string  { return HashModel }

// Normalize scales vec to unit L2 length in place and returns it. A zero
// vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	n := Norm(vec)
	if n == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / n)
	}
	return vec
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
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

// Norm computes the L2 norm of a vector.
func Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}
