package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

// CrossEncoder calls an external rerank service exposing
// POST {baseURL}/rerank with body {"query","documents":[...]}" and response
// {"scores":[...]}, the contract spec.md §6 names for the reranker
// collaborator. On timeout or error it falls back to the candidates'
// existing order rather than blocking or failing the pipeline (spec.md
// §4.7's soft-degradation requirement).
type CrossEncoder struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewCrossEncoder builds a CrossEncoder client.
func NewCrossEncoder(baseURL string, timeout time.Duration) *CrossEncoder {
	return &CrossEncoder{baseURL: baseURL, client: http.DefaultClient, timeout: timeout}
}

type crossEncoderRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type crossEncoderResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores each candidate against the query and returns them sorted
// by CrossScore descending. On failure or timeout it returns the input
// order unchanged with a degraded signal.
func (c *CrossEncoder) Rerank(ctx context.Context, query string, candidates []pipeline.Candidate) (pipeline.Result[[]pipeline.Candidate], pipeline.StageSignal) {
	start := time.Now()
	signal := pipeline.StageSignal{Stage: "cross_encoder_rerank"}

	if len(candidates) == 0 {
		signal.DurationMS = time.Since(start).Milliseconds()
		return pipeline.Ok(candidates), signal
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	scores, err := c.call(ctx, query, docs)
	signal.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		signal.Degraded = true
		signal.Reason = "cross-encoder unavailable, kept fusion order: " + err.Error()
		return pipeline.Degraded(candidates, signal.Reason), signal
	}

	out := make([]pipeline.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		if i < len(scores) {
			out[i].CrossScore = scores[i]
			out[i].HasCrossScore = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HasCrossScore && out[j].HasCrossScore {
			return out[i].CrossScore > out[j].CrossScore
		}
		return out[i].FusionRank < out[j].FusionRank
	})

	return pipeline.Ok(out), signal
}

func (c *CrossEncoder) call(ctx context.Context, query string, docs []string) ([]float64, error) {
	body, err := json.Marshal(crossEncoderRequest{Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker service error (status %d): %s", resp.StatusCode, string(errBody))
	}

	var decoded crossEncoderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return decoded.Scores, nil
}
