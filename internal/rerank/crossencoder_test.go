package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

func TestCrossEncoderRerankSortsByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req crossEncoderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Documents, 2)
		json.NewEncoder(w).Encode(crossEncoderResponse{Scores: []float64{0.2, 0.9}})
	}))
	defer srv.Close()

	ce := NewCrossEncoder(srv.URL, time.Second)
	candidates := []pipeline.Candidate{
		{ChunkID: "a", Content: "first"},
		{ChunkID: "b", Content: "second"},
	}

	result, signal := ce.Rerank(context.Background(), "query", candidates)
	require.Nil(t, result.Err())
	assert.False(t, result.IsDegraded())
	assert.Equal(t, "cross_encoder_rerank", signal.Stage)

	out, ok := result.Value()
	require.True(t, ok)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.True(t, out[0].HasCrossScore)
}

func TestCrossEncoderRerankDegradesOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ce := NewCrossEncoder(srv.URL, time.Second)
	candidates := []pipeline.Candidate{
		{ChunkID: "a", Content: "first"},
		{ChunkID: "b", Content: "second"},
	}

	result, _ := ce.Rerank(context.Background(), "query", candidates)
	assert.True(t, result.IsDegraded())
	out, ok := result.Value()
	require.True(t, ok)
	assert.Equal(t, "a", out[0].ChunkID) // original order preserved
}
