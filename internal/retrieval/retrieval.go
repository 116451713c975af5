// Package retrieval runs the vector and keyword search branches (C4a/C4b)
// concurrently against the vector store and converts their hits into
// pipeline.Candidate values tagged by source.
package retrieval

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/ragquery/internal/pipeline"
	"github.com/knoguchi/ragquery/internal/vectorstore"
)

// Service runs C4a and C4b concurrently, degrading to whichever branch
// succeeds if the other fails or times out — the same single-source-
// degradation idiom the pack's hybrid searchers use.
type Service struct {
	store vectorstore.VectorStore
}

// New builds a retrieval Service.
func New(store vectorstore.VectorStore) *Service {
	return &Service{store: store}
}

// Candidates is the output of a single Retrieve call, tagged by which
// branches produced it.
type Candidates struct {
	Items []pipeline.Candidate
}

// Retrieve runs vector search (C4a) and keyword search (C4b) in parallel,
// scoped by filter, and merges their hits into a single candidate set with
// per-branch scores attached. Either branch failing alone degrades the
// result rather than failing the whole call; both failing fails it.
func (s *Service) Retrieve(ctx context.Context, filter vectorstore.Filter, vector []float32, keywordTerms []string, topK int, minScore float32) (pipeline.Result[Candidates], pipeline.StageSignal) {
	start := time.Now()

	var vectorHits, keywordHits []vectorstore.SearchResult
	var vectorErr, keywordErr error

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := s.store.Search(gCtx, filter, vector, topK, minScore)
		vectorHits, vectorErr = hits, err
		return nil // isolate: don't fail the group, handle below
	})
	g.Go(func() error {
		hits, err := s.store.KeywordSearch(gCtx, filter, keywordTerms, topK)
		keywordHits, keywordErr = hits, err
		return nil
	})
	_ = g.Wait()

	elapsed := time.Since(start).Milliseconds()
	signal := pipeline.StageSignal{Stage: "retrieval", DurationMS: elapsed}

	if vectorErr != nil && keywordErr != nil {
		return pipeline.Failed[Candidates](pipeline.NewError(pipeline.KindUpstreamFailure, "both retrieval branches failed", vectorErr)), signal
	}

	byID := make(map[string]*pipeline.Candidate)
	order := make([]string, 0, len(vectorHits)+len(keywordHits))

	for _, h := range vectorHits {
		c := &pipeline.Candidate{ChunkID: h.ID, DocumentID: h.DocumentID, Content: h.Content, Metadata: h.Metadata,
			TenantID: h.TenantID, ACL: h.ACL,
			VectorScore: float64(h.Score), HasVector: true, Sources: []pipeline.SourceKind{pipeline.SourceVector}}
		byID[h.ID] = c
		order = append(order, h.ID)
	}
	for _, h := range keywordHits {
		if existing, ok := byID[h.ID]; ok {
			existing.KeywordScore = float64(h.Score)
			existing.HasKeyword = true
			existing.Sources = append(existing.Sources, pipeline.SourceKeyword)
			continue
		}
		c := &pipeline.Candidate{ChunkID: h.ID, DocumentID: h.DocumentID, Content: h.Content, Metadata: h.Metadata,
			TenantID: h.TenantID, ACL: h.ACL,
			KeywordScore: float64(h.Score), HasKeyword: true, Sources: []pipeline.SourceKind{pipeline.SourceKeyword}}
		byID[h.ID] = c
		order = append(order, h.ID)
	}

	items := make([]pipeline.Candidate, 0, len(order))
	for _, id := range order {
		if c := verify(*byID[id], filter); c != nil {
			items = append(items, *c)
		}
	}

	result := Candidates{Items: items}
	switch {
	case vectorErr != nil:
		signal.Degraded = true
		signal.Reason = "vector search failed, degraded to keyword-only: " + vectorErr.Error()
		return pipeline.Degraded(result, signal.Reason), signal
	case keywordErr != nil:
		signal.Degraded = true
		signal.Reason = "keyword search failed, degraded to vector-only: " + keywordErr.Error()
		return pipeline.Degraded(result, signal.Reason), signal
	default:
		return pipeline.Ok(result), signal
	}
}

// verify re-checks a candidate against the caller's filter in-process
// (spec.md §1(c), invariants I1/I2) rather than trusting the store's
// push-down filter alone. A candidate whose TenantID is populated and
// disagrees with the filter is discarded and logged (I1); a candidate
// whose ACL is populated and shares no principal with the filter's
// {userId} ∪ groupIds set is discarded and logged (I2). A store or fake
// that leaves TenantID/ACL unset is trusted — the per-tenant collection
// routing already isolates tenants structurally in that case.
func verify(c pipeline.Candidate, filter vectorstore.Filter) *pipeline.Candidate {
	if c.TenantID != "" && c.TenantID != filter.TenantID {
		slog.Warn("retrieval: discarding candidate with mismatched tenant",
			"chunk_id", c.ChunkID, "candidate_tenant", c.TenantID, "filter_tenant", filter.TenantID)
		return nil
	}
	if len(c.ACL) > 0 && !intersects(c.ACL, filter.Principals()) {
		slog.Warn("retrieval: discarding candidate with no ACL overlap",
			"chunk_id", c.ChunkID, "candidate_acl", c.ACL, "filter_tenant", filter.TenantID)
		return nil
	}
	return &c
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
