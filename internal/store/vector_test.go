package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsage/internal/model"
)

func chunkWithEmbedding(content string, vec []float32) model.DocumentChunk {
	c := model.DocumentChunk{Content: content}
	c.SetEmbedding(vec)
	return c
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)

	// mismatched or degenerate input scores zero
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestRankByCosineTopK(t *testing.T) {
	candidates := []model.DocumentChunk{
		chunkWithEmbedding("orthogonal", []float32{0, 1, 0}),
		chunkWithEmbedding("exact", []float32{1, 0, 0}),
		chunkWithEmbedding("close", []float32{0.9, 0.1, 0}),
	}

	ranked := rankByCosine(candidates, []float32{1, 0, 0}, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "exact", ranked[0].Chunk.Content)
	assert.Equal(t, "close", ranked[1].Chunk.Content)
}

func TestRankByCosineBounds(t *testing.T) {
	candidates := []model.DocumentChunk{chunkWithEmbedding("only", []float32{1, 0})}

	assert.Nil(t, rankByCosine(candidates, []float32{1, 0}, 0))
	assert.Nil(t, rankByCosine(nil, []float32{1, 0}, 3))
	assert.Len(t, rankByCosine(candidates, []float32{1, 0}, 10), 1)
}
