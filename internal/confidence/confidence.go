// Package confidence computes a source-aware, multi-signal confidence
// score for a packed candidate set (C10). It tracks a StageMetrics value
// per retrieval stage (vector, keyword, fusion, rerank), detects quality
// degradation between consecutive stages, and selects among three
// strategies — the contract is that a strong upstream signal cannot be
// silently erased by a weak downstream one.
package confidence

import (
	"math"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

// canonicalStages is the fixed stage order degradation detection and the
// adaptive-weighted strategy walk: each stage's quality is judged against
// the best quality seen in any stage before it in this order.
var canonicalStages = []string{"vector", "keyword", "fusion", "rerank"}

// maxConfidenceThreshold and degradationThreshold are the thresholds that
// force the max-confidence strategy: an upstream stage at or above
// maxConfidenceThreshold whose signal is then degraded by more than
// degradationThreshold downstream.
const (
	maxConfidenceThreshold = 0.8
	degradationThreshold   = 0.3
	lowConfidenceCeiling   = 0.3
)

// StageMetrics is the per-stage record the confidence model maintains:
// spec.md §3's StageSignal. Quality is the stage's best score (its peak
// signal); Confidence blends the peak with the mean score less a capped
// dispersion penalty (sample size does not enter it); QualityPreservation
// is the ratio of this stage's quality to the best quality observed in any
// stage upstream of it.
type StageMetrics struct {
	Confidence          float64
	Quality             float64
	Top                 float64
	Mean                float64
	StdDev              float64
	Count               int
	QualityPreservation float64
}

// Signals is the confidence model's working set: the aggregate scores over
// the final candidate set (consumed by the guardrail's flat criteria) plus
// the per-stage breakdown (consumed by strategy selection and scoring).
type Signals struct {
	TopScore  float64
	MeanScore float64
	StdDev    float64
	Count     int
	Degraded  bool

	Stages map[string]StageMetrics
}

// FromCandidates derives Signals from a packed candidate set: an aggregate
// over the candidates' best-available score (CrossScore when present,
// otherwise FusedScore) for the guardrail, plus one StageMetrics per
// canonical stage computed from whichever candidates actually carry that
// stage's score.
func FromCandidates(candidates []pipeline.Candidate, anyDegraded bool) Signals {
	stages := map[string]StageMetrics{
		"vector":  computeStage(vectorScores(candidates)),
		"keyword": computeStage(keywordScores(candidates)),
		"fusion":  computeStage(fusionScores(candidates)),
		"rerank":  computeStage(rerankScores(candidates)),
	}
	applyQualityPreservation(stages)

	if len(candidates) == 0 {
		return Signals{Degraded: anyDegraded, Stages: stages}
	}

	finalScores := make([]float64, len(candidates))
	for i, c := range candidates {
		if c.HasCrossScore {
			finalScores[i] = c.CrossScore
		} else {
			finalScores[i] = c.FusedScore
		}
	}
	top, mean, stddev := topMeanStdDev(finalScores)

	return Signals{
		TopScore:  top,
		MeanScore: mean,
		StdDev:    stddev,
		Count:     len(candidates),
		Degraded:  anyDegraded,
		Stages:    stages,
	}
}

func vectorScores(candidates []pipeline.Candidate) []float64 {
	var scores []float64
	for _, c := range candidates {
		if c.HasVector {
			scores = append(scores, c.VectorScore)
		}
	}
	return scores
}

func keywordScores(candidates []pipeline.Candidate) []float64 {
	var scores []float64
	for _, c := range candidates {
		if c.HasKeyword {
			scores = append(scores, c.KeywordScore)
		}
	}
	return scores
}

func fusionScores(candidates []pipeline.Candidate) []float64 {
	scores := make([]float64, 0, len(candidates))
	for _, c := range candidates {
		scores = append(scores, c.FusedScore)
	}
	return scores
}

// rerankScores is fed by whichever of C6 (domain-less) or C7
// (cross-encoder) actually produced a score for the candidate, preferring
// the cross-encoder's when both ran.
func rerankScores(candidates []pipeline.Candidate) []float64 {
	var scores []float64
	for _, c := range candidates {
		switch {
		case c.HasCrossScore:
			scores = append(scores, c.CrossScore)
		case c.DomainScore != 0:
			scores = append(scores, c.DomainScore)
		}
	}
	return scores
}

func computeStage(scores []float64) StageMetrics {
	if len(scores) == 0 {
		return StageMetrics{}
	}
	top, mean, stddev := topMeanStdDev(scores)
	quality := top
	confidence := clamp(0.7*top + 0.3*mean - math.Min(stddev, 0.3)*0.5)
	return StageMetrics{
		Confidence: confidence,
		Quality:    quality,
		Top:        top,
		Mean:       mean,
		StdDev:     stddev,
		Count:      len(scores),
	}
}

// applyQualityPreservation walks canonicalStages in order, setting each
// present stage's QualityPreservation to the ratio of its quality to the
// best quality observed in any stage before it. The first present stage
// has nothing upstream to compare to, so it preserves fully (1.0).
func applyQualityPreservation(stages map[string]StageMetrics) {
	var bestUpstream float64
	seenUpstream := false
	for _, name := range canonicalStages {
		m, ok := stages[name]
		if !ok || m.Count == 0 {
			continue
		}
		if !seenUpstream || bestUpstream == 0 {
			m.QualityPreservation = 1
		} else {
			m.QualityPreservation = clamp(m.Quality / bestUpstream)
		}
		stages[name] = m
		if !seenUpstream || m.Quality > bestUpstream {
			bestUpstream = m.Quality
		}
		seenUpstream = true
	}
}

// DetectDegradation walks canonicalStages in order and emits an alert for
// every present stage whose quality falls below (1-degradationThreshold)
// times the best quality observed in any stage upstream of it (spec.md §8
// property 6).
func DetectDegradation(stages map[string]StageMetrics) []pipeline.DegradationAlert {
	var alerts []pipeline.DegradationAlert
	var bestUpstream float64
	seenUpstream := false
	for _, name := range canonicalStages {
		m, ok := stages[name]
		if !ok || m.Count == 0 {
			continue
		}
		if seenUpstream && bestUpstream > 0 && m.Quality < (1-degradationThreshold)*bestUpstream {
			severity := "warning"
			if m.Quality < 0.5*bestUpstream {
				severity = "critical"
			}
			alerts = append(alerts, pipeline.DegradationAlert{
				Stage:    name,
				Severity: severity,
				Previous: bestUpstream,
				Current:  m.Quality,
			})
		}
		if !seenUpstream || m.Quality > bestUpstream {
			bestUpstream = m.Quality
		}
		seenUpstream = true
	}
	return alerts
}

// Strategy computes a single confidence value in [0,1] from Signals.
type Strategy interface {
	Name() string
	Score(s Signals) float64
}

var registry = map[string]Strategy{
	"max_confidence":    maxConfidence{},
	"adaptive_weighted": adaptiveWeighted{},
	"conservative":      conservative{},
}

// Select picks the confidence strategy for a request. Per spec.md §4.10
// the selection is not purely a tenant preference: max-confidence and
// conservative are forced by the signals themselves, overriding whatever
// the tenant configured, because both exist to protect against a specific
// failure mode (a destructive downstream stage, or uniformly weak
// retrieval) that the tenant's static preference cannot anticipate. Only
// when neither forcing condition holds does the tenant's preferred
// strategy (default adaptive-weighted) apply.
func Select(preferred string, stages map[string]StageMetrics) Strategy {
	if forcesMaxConfidence(stages) {
		return registry["max_confidence"]
	}
	if forcesConservative(stages) {
		return registry["conservative"]
	}
	if s, ok := registry[preferred]; ok {
		return s
	}
	return registry["adaptive_weighted"]
}

// forcesMaxConfidence reports whether some stage hit maxConfidenceThreshold
// and a later stage's quality was then preserved at less than
// 1-degradationThreshold of it.
func forcesMaxConfidence(stages map[string]StageMetrics) bool {
	sawHighConfidence := false
	for _, name := range canonicalStages {
		m, ok := stages[name]
		if !ok || m.Count == 0 {
			continue
		}
		if sawHighConfidence && m.QualityPreservation < 1-degradationThreshold {
			return true
		}
		if m.Confidence >= maxConfidenceThreshold {
			sawHighConfidence = true
		}
	}
	return false
}

// forcesConservative reports whether every present stage's confidence is
// below lowConfidenceCeiling.
func forcesConservative(stages map[string]StageMetrics) bool {
	any := false
	for _, name := range canonicalStages {
		m, ok := stages[name]
		if !ok || m.Count == 0 {
			continue
		}
		any = true
		if m.Confidence >= lowConfidenceCeiling {
			return false
		}
	}
	return any
}

// maxConfidence trusts the single best-scoring stage outright, so a
// strong vector hit survives even if fusion or rerank muddied it.
type maxConfidence struct{}

func (maxConfidence) Name() string { return "max_confidence" }

func (maxConfidence) Score(s Signals) float64 {
	var best float64
	for _, m := range s.Stages {
		if m.Count > 0 && m.Confidence > best {
			best = m.Confidence
		}
	}
	return clamp(best)
}

// adaptiveWeighted is the default: blends each present stage's confidence
// under fixed weights, tempered by how much of its quality survived from
// upstream, so a destructive downstream stage pulls its own weight down
// instead of dragging the whole score down with it.
type adaptiveWeighted struct{}

func (adaptiveWeighted) Name() string { return "adaptive_weighted" }

var stageWeights = map[string]float64{
	"vector":  0.4,
	"keyword": 0.2,
	"fusion":  0.2,
	"rerank":  0.2,
}

func (adaptiveWeighted) Score(s Signals) float64 {
	var weighted, totalWeight float64
	for name, w := range stageWeights {
		m, ok := s.Stages[name]
		if !ok || m.Count == 0 {
			continue
		}
		temper := m.QualityPreservation
		if temper == 0 {
			temper = 1
		}
		weighted += w * m.Confidence * temper
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	score := weighted / totalWeight
	if s.Degraded {
		score -= 0.1
	}
	return clamp(score)
}

// conservative floors confidence at the weakest present stage, refusing
// to let a single strong stage carry the whole answer.
type conservative struct{}

func (conservative) Name() string { return "conservative" }

func (conservative) Score(s Signals) float64 {
	min := 1.0
	any := false
	for _, m := range s.Stages {
		if m.Count == 0 {
			continue
		}
		any = true
		if m.Confidence < min {
			min = m.Confidence
		}
	}
	if !any {
		return 0
	}
	if s.Degraded {
		min -= 0.15
	}
	return clamp(min)
}

func topMeanStdDev(scores []float64) (top, mean, stddev float64) {
	top = scores[0]
	var sum float64
	for _, v := range scores {
		if v > top {
			top = v
		}
		sum += v
	}
	mean = sum / float64(len(scores))

	var variance float64
	for _, v := range scores {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(scores))
	stddev = math.Sqrt(variance)
	return top, mean, stddev
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
