package store

import (
	"math"
	"sort"

	"medsage/internal/model"
)

// ScoredChunk pairs a chunk with its similarity to a query vector.
type ScoredChunk struct {
	Chunk model.DocumentChunk
	Score float32
}

func rankByCosine(candidates []model.DocumentChunk, query []float32, k int) []ScoredChunk {
	if k <= 0 || len(candidates) == 0 || len(query) == 0 {
		return nil
	}

	scored := make([]ScoredChunk, 0, len(candidates))
	for i := range candidates {
		vec := candidates[i].EmbeddingVector()
		scored = append(scored, ScoredChunk{
			Chunk: candidates[i],
			Score: CosineSimilarity(query, vec),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

// CosineSimilarity returns 0 for mismatched or zero-norm vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
