package orchestrator

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/ragquery/internal/analyzer"
	"github.com/knoguchi/ragquery/internal/analyzer/langpack"
	"github.com/knoguchi/ragquery/internal/audit"
	"github.com/knoguchi/ragquery/internal/corpus"
	"github.com/knoguchi/ragquery/internal/guardrail"
	"github.com/knoguchi/ragquery/internal/pipeline"
	"github.com/knoguchi/ragquery/internal/rerank"
	"github.com/knoguchi/ragquery/internal/retrieval"
	"github.com/knoguchi/ragquery/internal/section"
	"github.com/knoguchi/ragquery/internal/synth"
	"github.com/knoguchi/ragquery/internal/tenant"
	"github.com/knoguchi/ragquery/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (fakeEmbedder) Dimension() int    { return 3 }
func (fakeEmbedder) ModelName() string { return "fake" }

// fakeStore serves fixed vector/keyword/fetch hits so each test can shape
// the candidate set the rest of the pipeline reacts to.
type fakeStore struct {
	vectorHits  []vectorstore.SearchResult
	keywordHits []vectorstore.SearchResult
	fetch       []vectorstore.SearchResult
}

func (fakeStore) CreateCollection(ctx context.Context, tenantID string, dimension int) error {
	return nil
}
func (fakeStore) DeleteCollection(ctx context.Context, tenantID string) error { return nil }
func (fakeStore) CollectionExists(ctx context.Context, tenantID string) (bool, error) {
	return true, nil
}
func (fakeStore) Upsert(ctx context.Context, tenantID string, chunks []vectorstore.Chunk) error {
	return nil
}
func (f fakeStore) Search(ctx context.Context, filter vectorstore.Filter, vector []float32, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return f.vectorHits, nil
}
func (f fakeStore) KeywordSearch(ctx context.Context, filter vectorstore.Filter, terms []string, topK int) ([]vectorstore.SearchResult, error) {
	return f.keywordHits, nil
}
func (f fakeStore) FetchByIDs(ctx context.Context, tenantID string, ids []string) ([]vectorstore.SearchResult, error) {
	return f.fetch, nil
}
func (fakeStore) Delete(ctx context.Context, tenantID string, documentID string) error { return nil }
func (fakeStore) DeleteByIDs(ctx context.Context, tenantID string, ids []string) error  { return nil }

type fakeLLM struct{}

func (fakeLLM) Generate(ctx context.Context, prompt string, opts synth.GenerateOptions) (string, error) {
	return "Vectors live in collections [^1].", nil
}

type fakeStatsSource struct{}

func (fakeStatsSource) Compute(ctx context.Context) (*corpus.Snapshot, error) {
	return nil, nil
}

func defaultStore() fakeStore {
	return fakeStore{
		vectorHits: []vectorstore.SearchResult{
			{ID: "c1", DocumentID: "d1", Content: "Qdrant stores vectors in collections.", Score: 0.9},
			{ID: "c2", DocumentID: "d1", Content: "Collections can be sharded for scale.", Score: 0.8},
		},
		keywordHits: []vectorstore.SearchResult{
			{ID: "c1", DocumentID: "d1", Content: "Qdrant stores vectors in collections.", Score: 0.5},
		},
	}
}

func newOrchestratorWithStore(store vectorstore.VectorStore, crossEncoder *rerank.CrossEncoder) *Orchestrator {
	corpusSvc := corpus.NewService(fakeStatsSource{}, time.Hour)

	return New(Deps{
		Analyzer:       analyzer.New(analyzer.NewRegistry(langpack.English{}), 64, time.Minute),
		Embedder:       fakeEmbedder{},
		Retrieval:      retrieval.New(store),
		Corpus:         corpusSvc,
		DomainReranker: rerank.New(rerank.DefaultWeights),
		CrossEncoder:   crossEncoder,
		Sections:       section.New(store, time.Second, 0.7, 3, 10),
		Synth:          synth.New(fakeLLM{}),
		Guard:          guardrail.New(audit.New(slog.Default())),
		OverallTimeout: 5 * time.Second,
	})
}

func newTestOrchestrator() *Orchestrator {
	return newOrchestratorWithStore(defaultStore(), nil)
}

func testTenant() *tenant.Tenant {
	return &tenant.Tenant{
		Config: tenant.Config{
			TopK:                   10,
			MinScore:               0,
			FusionStrategy:         "weighted_average",
			ConfidenceStrategy:     "adaptive_weighted",
			ContextTokenBudget:     2000,
			SystemPrompt:           "answer from context",
			LLMModel:               "fake-llm",
			GuardrailMinConfidence: 0,
			GuardrailMinTopScore:   0,
			GuardrailMinCount:      1,
			GuardrailMaxStdDev:     0,
		},
	}
}

func findSignal(signals []pipeline.StageSignal, stage string) (pipeline.StageSignal, bool) {
	for _, s := range signals {
		if s.Stage == stage {
			return s, true
		}
	}
	return pipeline.StageSignal{}, false
}

func TestAskReturnsAnsweredEnvelope(t *testing.T) {
	o := newTestOrchestrator()
	caller := pipeline.CallerContext{TenantID: "t1", UserID: "u1"}

	env, ferr := o.Ask(context.Background(), "How do Qdrant collections work?", caller, testTenant())

	require.Nil(t, ferr)
	assert.False(t, env.Refused)
	assert.Contains(t, env.Answer, "Vectors live in collections")
	require.Len(t, env.Citations, 1)
	assert.Equal(t, 1, env.Citations[0].Marker)
}

func TestAskRejectsInvalidCaller(t *testing.T) {
	o := newTestOrchestrator()
	caller := pipeline.CallerContext{TenantID: ""}

	_, ferr := o.Ask(context.Background(), "anything", caller, testTenant())

	require.NotNil(t, ferr)
	assert.Equal(t, pipeline.KindInvalidCaller, ferr.Kind)
}

func TestAskRejectsMissingUserID(t *testing.T) {
	o := newTestOrchestrator()
	caller := pipeline.CallerContext{TenantID: "t1"}

	_, ferr := o.Ask(context.Background(), "anything", caller, testTenant())

	require.NotNil(t, ferr)
	assert.Equal(t, pipeline.KindInvalidCaller, ferr.Kind)
}

func TestAskRefusesWhenGuardrailBlocksLowCount(t *testing.T) {
	o := newTestOrchestrator()
	caller := pipeline.CallerContext{TenantID: "t1", UserID: "u1"}
	tn := testTenant()
	tn.Config.GuardrailMinCount = 100

	env, ferr := o.Ask(context.Background(), "How do Qdrant collections work?", caller, tn)

	require.Nil(t, ferr)
	assert.True(t, env.Refused)
	assert.Equal(t, guardrail.RefusalInsufficient, env.RefusalCode)
}

// S1: a section whose every sibling chunk is retrieved intact is
// reconstructed at full completeness and reaches synthesis un-degraded.
func TestAskReconstructsCompleteSection_S1(t *testing.T) {
	store := fakeStore{
		vectorHits: []vectorstore.SearchResult{
			{ID: "p1", DocumentID: "doc-s", Content: "Row one of the pricing table.", Score: 0.95,
				Metadata: map[string]string{"section_id": "sec-1", "member_ids": "p1,p2", "part_index": "0", "section_kind": "table"}},
			{ID: "p2", DocumentID: "doc-s", Content: "Row two of the pricing table.", Score: 0.9,
				Metadata: map[string]string{"section_id": "sec-1", "member_ids": "p1,p2", "part_index": "1", "section_kind": "table"}},
		},
	}
	o := newOrchestratorWithStore(store, nil)
	caller := pipeline.CallerContext{TenantID: "t1", UserID: "u1"}

	env, ferr := o.Ask(context.Background(), "what are the pricing rows", caller, testTenant())
	require.Nil(t, ferr)
	assert.False(t, env.Refused)

	sig, ok := findSignal(env.Signals, "section_reconstruction")
	require.True(t, ok)
	assert.False(t, sig.Degraded)

	require.Len(t, env.Citations, 1)
	assert.Contains(t, env.Citations[0].ChunkID, "sec-1")
}

// S2: a rank-only fusion strategy (borda_rank) can legitimately swap the
// winning candidate relative to the default weighted_average strategy,
// which favors raw similarity over rank position.
func TestAskFusionChoiceChangesWinningCandidate_S2(t *testing.T) {
	store := fakeStore{
		vectorHits: []vectorstore.SearchResult{
			{ID: "x", DocumentID: "d1", Content: "Highest raw vector similarity.", Score: 0.97},
			{ID: "y", DocumentID: "d1", Content: "Moderate vector, strong keyword match.", Score: 0.5},
			{ID: "z", DocumentID: "d1", Content: "Low vector, decent keyword match.", Score: 0.4},
		},
		keywordHits: []vectorstore.SearchResult{
			{ID: "y", DocumentID: "d1", Content: "Moderate vector, strong keyword match.", Score: 0.9},
			{ID: "z", DocumentID: "d1", Content: "Low vector, decent keyword match.", Score: 0.85},
		},
	}
	caller := pipeline.CallerContext{TenantID: "t1", UserID: "u1"}

	weightedTenant := testTenant()
	weightedTenant.Config.FusionStrategy = "weighted_average"
	oWeighted := newOrchestratorWithStore(store, nil)
	envWeighted, ferr := oWeighted.Ask(context.Background(), "measurement query", caller, weightedTenant)
	require.Nil(t, ferr)
	require.False(t, envWeighted.Refused)
	require.NotEmpty(t, envWeighted.Citations)
	assert.Equal(t, "x", envWeighted.Citations[0].ChunkID)

	bordaTenant := testTenant()
	bordaTenant.Config.FusionStrategy = "borda_rank"
	oBorda := newOrchestratorWithStore(store, nil)
	envBorda, ferr := oBorda.Ask(context.Background(), "measurement query", caller, bordaTenant)
	require.Nil(t, ferr)
	if !envBorda.Refused {
		require.NotEmpty(t, envBorda.Citations)
		assert.Equal(t, "y", envBorda.Citations[0].ChunkID)
	}
}

// S3: an out-of-domain query whose retrieved set is weak across the board
// is refused with no citations at all.
func TestAskRefusesOffDomainQueryWithNoCitations_S3(t *testing.T) {
	store := fakeStore{
		vectorHits: []vectorstore.SearchResult{
			{ID: "c1", DocumentID: "d1", Content: "Barely related scrap.", Score: 0.05},
		},
	}
	o := newOrchestratorWithStore(store, nil)
	tn := testTenant()
	tn.Config.GuardrailMinTopScore = 0.5
	tn.Config.GuardrailMinConfidence = 0.5
	caller := pipeline.CallerContext{TenantID: "t1", UserID: "u1"}

	env, ferr := o.Ask(context.Background(), "something entirely unrelated", caller, tn)
	require.Nil(t, ferr)
	assert.True(t, env.Refused)
	assert.Empty(t, env.Citations)
	assert.NotEmpty(t, env.RefusalCode)
}

// S4: retrieval discards any hit whose carried TenantID disagrees with the
// caller's filter before fusion, rerank, or synthesis ever see it — cross-
// tenant isolation holds end to end even if a store's push-down filter
// failed to exclude it.
func TestAskIsolatesCrossTenantCandidates_S4(t *testing.T) {
	store := fakeStore{
		vectorHits: []vectorstore.SearchResult{
			{ID: "mine", DocumentID: "d1", TenantID: "tenant-a", Content: "Tenant A's own content.", Score: 0.9},
			{ID: "theirs", DocumentID: "d2", TenantID: "tenant-b", Content: "Tenant B's private content.", Score: 0.95},
		},
	}
	o := newOrchestratorWithStore(store, nil)
	caller := pipeline.CallerContext{TenantID: "tenant-a", UserID: "u1"}

	env, ferr := o.Ask(context.Background(), "show me content", caller, testTenant())
	require.Nil(t, ferr)
	assert.False(t, env.Refused)
	require.Len(t, env.Citations, 1)
	assert.Equal(t, "mine", env.Citations[0].ChunkID)
}

// S5: the cross-encoder times out, the stage degrades instead of failing
// the request, and the final candidate order falls back to the fusion
// order instead of blocking on a dead reranker.
func TestAskDegradesRerankButStaysAnswerable_S5(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	crossEncoder := rerank.NewCrossEncoder(srv.URL, 5*time.Millisecond)
	o := newOrchestratorWithStore(defaultStore(), crossEncoder)
	tn := testTenant()
	tn.Config.CrossEncoderEnabled = true
	caller := pipeline.CallerContext{TenantID: "t1", UserID: "u1"}

	env, ferr := o.Ask(context.Background(), "How do Qdrant collections work?", caller, tn)
	require.Nil(t, ferr)
	assert.False(t, env.Refused)
	assert.True(t, env.Degraded)

	sig, ok := findSignal(env.Signals, "cross_encoder_rerank")
	require.True(t, ok)
	assert.True(t, sig.Degraded)

	require.NotEmpty(t, env.Citations)
	assert.Equal(t, "c1", env.Citations[0].ChunkID)
}

// S6: a high top score alongside a low mean score still refuses — every
// one of the five guardrail criteria must hold, not just the headline one.
func TestAskRefusesOnLowMeanScoreDespiteHighTopScore_S6(t *testing.T) {
	store := fakeStore{
		vectorHits: []vectorstore.SearchResult{
			{ID: "strong", DocumentID: "d1", Content: "Extremely relevant hit.", Score: 0.95},
			{ID: "weak1", DocumentID: "d1", Content: "Barely relevant filler one.", Score: 0.02},
			{ID: "weak2", DocumentID: "d1", Content: "Barely relevant filler two.", Score: 0.02},
			{ID: "weak3", DocumentID: "d1", Content: "Barely relevant filler three.", Score: 0.02},
			{ID: "weak4", DocumentID: "d1", Content: "Barely relevant filler four.", Score: 0.02},
		},
	}
	o := newOrchestratorWithStore(store, nil)
	tn := testTenant()
	tn.Config.GuardrailMinTopScore = 0.3
	tn.Config.GuardrailMinMeanScore = 0.3
	caller := pipeline.CallerContext{TenantID: "t1", UserID: "u1"}

	env, ferr := o.Ask(context.Background(), "anything", caller, tn)
	require.Nil(t, ferr)
	assert.True(t, env.Refused)
	assert.Equal(t, guardrail.RefusalLowMeanScore, env.RefusalCode)
}
