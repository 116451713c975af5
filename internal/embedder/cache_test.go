package embedder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	calls     int
	batchArgs [][]string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return []float32{float32(len(text))}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchArgs = append(f.batchArgs, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 1 }
func (f *fakeEmbedder) ModelName() string { return "fake" }

func TestEmbedCachesRepeatedQuery(t *testing.T) {
	inner := &fakeEmbedder{}
	c := NewCachedEmbedder(inner, 16, time.Minute)

	v1, err := c.Embed(context.Background(), "What is Qdrant?")
	require.NoError(t, err)
	v2, err := c.Embed(context.Background(), "what is qdrant?  ")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
}

func TestEmbedBatchOnlyCallsInnerForMisses(t *testing.T) {
	inner := &fakeEmbedder{}
	c := NewCachedEmbedder(inner, 16, time.Minute)

	_, err := c.Embed(context.Background(), "cached query")
	require.NoError(t, err)

	results, err := c.EmbedBatch(context.Background(), []string{"cached query", "new query"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Len(t, inner.batchArgs, 1)
	assert.Equal(t, []string{"new query"}, inner.batchArgs[0])
}

func TestEmbedBatchSkipsInnerCallWhenAllCached(t *testing.T) {
	inner := &fakeEmbedder{}
	c := NewCachedEmbedder(inner, 16, time.Minute)

	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, inner.batchArgs, 1)

	_, err = c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, inner.batchArgs, 1)
}
