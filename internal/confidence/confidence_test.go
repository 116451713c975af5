package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

func TestFromCandidatesPrefersCrossScoreOverFusedScore(t *testing.T) {
	candidates := []pipeline.Candidate{
		{HasCrossScore: true, CrossScore: 0.9, FusedScore: 0.1},
		{HasCrossScore: false, FusedScore: 0.5},
	}

	s := FromCandidates(candidates, false)

	assert.Equal(t, 0.9, s.TopScore)
	assert.Equal(t, 2, s.Count)
	assert.False(t, s.Degraded)
}

func TestFromCandidatesEmptySet(t *testing.T) {
	s := FromCandidates(nil, true)
	assert.Equal(t, 0, s.Count)
	assert.True(t, s.Degraded)
	for _, name := range canonicalStages {
		assert.Equal(t, 0, s.Stages[name].Count)
	}
}

func TestFromCandidatesPopulatesPerStageMetrics(t *testing.T) {
	candidates := []pipeline.Candidate{
		{HasVector: true, VectorScore: 0.9, HasKeyword: true, KeywordScore: 0.6, FusedScore: 0.8, HasCrossScore: true, CrossScore: 0.7},
		{HasVector: true, VectorScore: 0.8, FusedScore: 0.6},
	}
	s := FromCandidates(candidates, false)

	require.Contains(t, s.Stages, "vector")
	assert.Equal(t, 2, s.Stages["vector"].Count)
	assert.Equal(t, 0.9, s.Stages["vector"].Top)
	assert.Equal(t, 1.0, s.Stages["vector"].QualityPreservation)

	require.Contains(t, s.Stages, "keyword")
	assert.Equal(t, 1, s.Stages["keyword"].Count)

	require.Contains(t, s.Stages, "rerank")
	assert.Equal(t, 1, s.Stages["rerank"].Count)
	assert.Equal(t, 0.7, s.Stages["rerank"].Top)
}

func TestQualityPreservationTracksDropFromBestUpstream(t *testing.T) {
	candidates := []pipeline.Candidate{
		{HasVector: true, VectorScore: 0.95, FusedScore: 0.95},
		{HasVector: true, VectorScore: 0.2, HasCrossScore: true, CrossScore: 0.2, FusedScore: 0.2},
	}
	s := FromCandidates(candidates, false)

	rerank := s.Stages["rerank"]
	require.Equal(t, 1, rerank.Count)
	assert.InDelta(t, 0.2/0.95, rerank.QualityPreservation, 1e-9)
}

func TestDetectDegradationAlertsOnSharpDrop(t *testing.T) {
	stages := map[string]StageMetrics{
		"vector": {Confidence: 0.9, Quality: 0.95, Count: 2},
		"rerank": {Confidence: 0.3, Quality: 0.3, Count: 2, QualityPreservation: 0.3 / 0.95},
	}
	alerts := DetectDegradation(stages)
	require.Len(t, alerts, 1)
	assert.Equal(t, "rerank", alerts[0].Stage)
	assert.Equal(t, "critical", alerts[0].Severity)
}

func TestDetectDegradationSilentWhenQualityHolds(t *testing.T) {
	stages := map[string]StageMetrics{
		"vector": {Confidence: 0.9, Quality: 0.9, Count: 2},
		"fusion": {Confidence: 0.85, Quality: 0.85, Count: 2},
	}
	assert.Empty(t, DetectDegradation(stages))
}

func TestSelectFallsBackToAdaptiveWeighted(t *testing.T) {
	mid := map[string]StageMetrics{"vector": {Confidence: 0.5, Quality: 0.5, Count: 2, QualityPreservation: 1}}
	assert.Equal(t, "adaptive_weighted", Select("unknown", mid).Name())
	assert.Equal(t, "max_confidence", Select("max_confidence", mid).Name())
}

func TestSelectForcesMaxConfidenceOnUpstreamDegradation(t *testing.T) {
	stages := map[string]StageMetrics{
		"vector": {Confidence: 0.85, Quality: 0.9, Count: 2, QualityPreservation: 1},
		"rerank": {Confidence: 0.4, Quality: 0.3, Count: 2, QualityPreservation: 0.3},
	}
	assert.Equal(t, "max_confidence", Select("adaptive_weighted", stages).Name())
}

func TestSelectForcesConservativeWhenAllStagesWeak(t *testing.T) {
	stages := map[string]StageMetrics{
		"vector": {Confidence: 0.2, Quality: 0.2, Count: 2, QualityPreservation: 1},
		"fusion": {Confidence: 0.1, Quality: 0.1, Count: 2, QualityPreservation: 0.5},
	}
	assert.Equal(t, "conservative", Select("adaptive_weighted", stages).Name())
}

func TestAdaptiveWeightedTempersByQualityPreservation(t *testing.T) {
	strat := Select("adaptive_weighted", map[string]StageMetrics{
		"vector": {Confidence: 0.5, Quality: 0.5, Count: 1, QualityPreservation: 1},
	})

	preserved := Signals{Stages: map[string]StageMetrics{
		"vector": {Confidence: 0.9, Quality: 0.9, Count: 1, QualityPreservation: 1},
	}}
	degraded := Signals{Stages: map[string]StageMetrics{
		"vector": {Confidence: 0.9, Quality: 0.9, Count: 1, QualityPreservation: 0.2},
	}}
	assert.Greater(t, strat.Score(preserved), strat.Score(degraded))
}

func TestAdaptiveWeightedPenalizesDegradedFlag(t *testing.T) {
	strat := Select("adaptive_weighted", map[string]StageMetrics{
		"vector": {Confidence: 0.9, Quality: 0.9, Count: 1, QualityPreservation: 1},
	})
	s := Signals{Stages: map[string]StageMetrics{
		"vector": {Confidence: 0.9, Quality: 0.9, Count: 1, QualityPreservation: 1},
	}}
	withoutDegrade := strat.Score(s)
	s.Degraded = true
	assert.Less(t, strat.Score(s), withoutDegrade)
}

func TestConservativeFloorsOnWeakestStage(t *testing.T) {
	strat := Select("conservative", map[string]StageMetrics{})
	s := Signals{Stages: map[string]StageMetrics{
		"vector": {Confidence: 0.9, Count: 1},
		"fusion": {Confidence: 0.25, Count: 1},
	}}
	assert.InDelta(t, 0.25, strat.Score(s), 1e-9)
}

func TestMaxConfidenceTrustsBestStage(t *testing.T) {
	strat := Select("max_confidence", map[string]StageMetrics{})
	s := Signals{Stages: map[string]StageMetrics{
		"vector": {Confidence: 0.73, Count: 1},
		"fusion": {Confidence: 0.2, Count: 1},
	}}
	assert.Equal(t, 0.73, strat.Score(s))
}

func TestClampBoundsToUnitInterval(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-1))
	assert.Equal(t, 1.0, clamp(2))
	assert.Equal(t, 0.5, clamp(0.5))
}
