package rerank

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

func TestRerankPrefersFieldWeightAndCoverage(t *testing.T) {
	r := New(DefaultWeights)
	candidates := []pipeline.Candidate{
		{ChunkID: "body", Content: "qdrant collections support vector search", Metadata: map[string]string{"field": "body"}},
		{ChunkID: "title", Content: "qdrant collections", Metadata: map[string]string{"field": "title"}},
	}

	out := r.Rerank([]string{"qdrant", "collections"}, nil, candidates)

	assert.Equal(t, "title", out[0].ChunkID)
}

func TestRerankHandlesNilSnapshotWithoutPanicking(t *testing.T) {
	r := New(DefaultWeights)
	candidates := []pipeline.Candidate{{ChunkID: "a", Content: "some content here"}}

	assert.NotPanics(t, func() {
		r.Rerank([]string{"some"}, nil, candidates)
	})
}
