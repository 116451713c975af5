// Package orchestrator wires every pipeline stage (C1-C13) into the
// single state machine a query request drives through (C14): identity
// and filter resolution, query analysis, embedding, parallel retrieval,
// fusion, domain-less and cross-encoder reranking, section
// reconstruction, context packing, confidence scoring, the answerability
// guardrail, and — only if answerable — synthesis and citation
// extraction.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/ragquery/internal/analyzer"
	"github.com/knoguchi/ragquery/internal/citation"
	"github.com/knoguchi/ragquery/internal/confidence"
	"github.com/knoguchi/ragquery/internal/contextpack"
	"github.com/knoguchi/ragquery/internal/corpus"
	"github.com/knoguchi/ragquery/internal/embedder"
	"github.com/knoguchi/ragquery/internal/fusion"
	"github.com/knoguchi/ragquery/internal/guardrail"
	"github.com/knoguchi/ragquery/internal/identity"
	"github.com/knoguchi/ragquery/internal/pipeline"
	"github.com/knoguchi/ragquery/internal/rerank"
	"github.com/knoguchi/ragquery/internal/retrieval"
	"github.com/knoguchi/ragquery/internal/section"
	"github.com/knoguchi/ragquery/internal/synth"
	"github.com/knoguchi/ragquery/internal/tenant"
)

// Deps collects every stage collaborator the orchestrator drives. It owns
// none of their lifecycles beyond calling them in sequence.
type Deps struct {
	Analyzer       *analyzer.Service
	Embedder       embedder.Embedder
	Retrieval      *retrieval.Service
	Corpus         *corpus.Service
	DomainReranker *rerank.DomainLessReranker
	CrossEncoder   *rerank.CrossEncoder
	Sections       *section.Reconstructor
	Synth          *synth.Service
	Guard          *guardrail.Guard
	OverallTimeout time.Duration
}

// Orchestrator runs the full query pipeline for a single request.
type Orchestrator struct {
	deps Deps
}

// New builds an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Ask drives one query through every stage and returns the answer
// envelope the HTTP layer returns to the caller. It never returns a Go
// error for a pipeline-level failure — those are represented in the
// envelope itself (Refused, Degraded) — only a *pipeline.StructuredError
// for input that never should have reached the pipeline (bad caller
// identity).
func (o *Orchestrator) Ask(ctx context.Context, rawQuery string, caller pipeline.CallerContext, t *tenant.Tenant) (pipeline.AnswerEnvelope, *pipeline.StructuredError) {
	start := time.Now()
	requestID := caller.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, o.deps.OverallTimeout)
	defer cancel()

	// C1: identity & filter.
	filter, ferr := identity.BuildFilter(caller)
	if ferr != nil {
		return pipeline.AnswerEnvelope{}, ferr
	}

	var degraded bool
	var signals []pipeline.StageSignal

	// C2: query analysis.
	language := "en"
	if len(caller.Languages) > 0 {
		language = caller.Languages[0]
	}
	query := o.deps.Analyzer.Analyze(rawQuery, language, caller)
	query.Caller.RequestID = requestID

	// C3: embedding.
	vector, err := o.deps.Embedder.Embed(ctx, query.Normalized)
	if err != nil {
		return refusalEnvelope(requestID, start, guardrail.RefusalInsufficient, "embedding service unavailable"), nil
	}

	// C4a/C4b: parallel retrieval.
	retrieved, sig := o.deps.Retrieval.Retrieve(ctx, filter, vector, query.Keyphrases, t.Config.TopK, t.Config.MinScore)
	signals = append(signals, sig)
	if retrieved.Err() != nil {
		return refusalEnvelope(requestID, start, guardrail.RefusalInsufficient, "retrieval failed"), nil
	}
	if retrieved.IsDegraded() {
		degraded = true
	}
	retrievedVal, _ := retrieved.Value()
	candidates := retrievedVal.Items

	// C5: rank fusion.
	candidates = fusion.Get(t.Config.FusionStrategy).Fuse(candidates)

	// C6: domain-less keyword rerank.
	candidates = o.deps.DomainReranker.Rerank(query.Keyphrases, o.deps.Corpus.Snapshot(), candidates)
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].DomainScore > candidates[j].DomainScore })

	// C7: cross-encoder rerank (optional, soft-degrading).
	if t.Config.CrossEncoderEnabled && o.deps.CrossEncoder != nil {
		ceResult, ceSig := o.deps.CrossEncoder.Rerank(ctx, query.Normalized, candidates)
		signals = append(signals, ceSig)
		if ceResult.IsDegraded() {
			degraded = true
		}
		if ceVal, ok := ceResult.Value(); ok {
			candidates = ceVal
		}
	}

	// C8: section reconstruction.
	secResult, secSig := o.deps.Sections.Reconstruct(ctx, caller.TenantID, candidates)
	signals = append(signals, secSig)
	if secVal, ok := secResult.Value(); ok {
		candidates = secVal
	}
	if secResult.IsDegraded() {
		degraded = true
	}

	// C9: context packing.
	packer := contextpack.New(t.Config.ContextTokenBudget, 0.75)
	packed := packer.Pack(candidates)

	// C10: source-aware confidence scoring.
	sigVals := confidence.FromCandidates(packed.Candidates, degraded)
	strategy := confidence.Select(t.Config.ConfidenceStrategy, sigVals.Stages)
	conf := strategy.Score(sigVals)
	alerts := confidence.DetectDegradation(sigVals.Stages)

	// C11: answerability guardrail.
	thresholds := guardrail.Thresholds{
		MinConfidence: t.Config.GuardrailMinConfidence,
		MinTopScore:   t.Config.GuardrailMinTopScore,
		MinMeanScore:  t.Config.GuardrailMinMeanScore,
		MinCount:      t.Config.GuardrailMinCount,
		MaxStdDev:     t.Config.GuardrailMaxStdDev,
	}
	decision := o.deps.Guard.Check(requestID, caller.TenantID, rawQuery, sigVals, conf, thresholds)
	if !decision.Answerable {
		return pipeline.AnswerEnvelope{
			Refused:           true,
			RefusalCode:       decision.RefusalCode,
			Confidence:        conf,
			Degraded:          degraded,
			Signals:           signals,
			DegradationAlerts: alerts,
			RequestID:         requestID,
			ElapsedMS:         time.Since(start).Milliseconds(),
		}, nil
	}

	// C12: synthesis.
	synthResult, synthSig := o.deps.Synth.Synthesize(ctx, rawQuery, t.Config.SystemPrompt, t.Config.LLMModel, packed.Candidates)
	signals = append(signals, synthSig)
	if synthResult.Err() != nil {
		return refusalEnvelope(requestID, start, guardrail.RefusalInsufficient, "synthesis failed"), nil
	}

	// C13: citation extraction.
	rawAnswer, _ := synthResult.Value()
	answer, citations := citation.Extract(rawAnswer, packed.Candidates, time.Now(), citation.DefaultThresholds)

	return pipeline.AnswerEnvelope{
		Answer:            answer,
		Citations:         citations,
		Confidence:        conf,
		Degraded:          degraded,
		Signals:           signals,
		DegradationAlerts: alerts,
		RequestID:         requestID,
		ElapsedMS:         time.Since(start).Milliseconds(),
	}, nil
}

func refusalEnvelope(requestID string, start time.Time, code, reason string) pipeline.AnswerEnvelope {
	return pipeline.AnswerEnvelope{
		Refused:     true,
		RefusalCode: code,
		RequestID:   requestID,
		ElapsedMS:   time.Since(start).Milliseconds(),
		Signals:     []pipeline.StageSignal{{Stage: "orchestrator", Degraded: true, Reason: reason}},
	}
}
