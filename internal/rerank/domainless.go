// Package rerank implements the domain-less keyword reranker (C6) and the
// cross-encoder reranker client (C7), run sequentially as spec.md
// describes — see DESIGN.md Q3.
package rerank

import (
	"math"
	"sort"
	"strings"

	"github.com/knoguchi/ragquery/internal/corpus"
	"github.com/knoguchi/ragquery/internal/pipeline"
)

// Weights tunes the contribution of each domain-less signal to the final
// DomainScore.
type Weights struct {
	IDF         float64
	PMI         float64
	CoOccur     float64
	FieldWeight float64
	Proximity   float64
	Coverage    float64
	Exclusivity float64
}

// DefaultWeights mirrors the relative emphasis spec.md places on coverage
// and IDF over the weaker co-occurrence/proximity signals.
var DefaultWeights = Weights{
	IDF: 0.3, PMI: 0.15, CoOccur: 0.1, FieldWeight: 0.15,
	Proximity: 0.1, Coverage: 0.15, Exclusivity: 0.05,
}

// DomainLessReranker re-scores candidates using corpus-derived statistics
// only — no per-language heuristics — so it behaves identically regardless
// of the query's language.
type DomainLessReranker struct {
	weights Weights
}

// New builds a DomainLessReranker with the given weights.
func New(weights Weights) *DomainLessReranker {
	return &DomainLessReranker{weights: weights}
}

// Rerank updates DomainScore on each candidate using the keyphrases
// extracted from the query and the current corpus statistics snapshot, and
// returns candidates sorted by the new score.
func (d *DomainLessReranker) Rerank(keyphrases []string, snap *corpus.Snapshot, candidates []pipeline.Candidate) []pipeline.Candidate {
	out := make([]pipeline.Candidate, len(candidates))
	copy(out, candidates)

	terms := normalizeTerms(keyphrases)

	for i := range out {
		tokens := tokenize(out[i].Content)
		tokenSet := toSet(tokens)

		idf := avgIDF(terms, snap)
		pmi := avgPMI(terms, snap)
		coOccur := coOccurrence(terms, tokenSet, snap)
		field := fieldWeight(out[i].Metadata)
		prox := proximityBonus(terms, tokens)
		coverage := coverageBonus(terms, tokenSet)
		exclusivity := exclusivityPenalty(terms, snap)

		out[i].DomainScore = d.weights.IDF*idf +
			d.weights.PMI*pmi +
			d.weights.CoOccur*coOccur +
			d.weights.FieldWeight*field +
			d.weights.Proximity*prox +
			d.weights.Coverage*coverage -
			d.weights.Exclusivity*exclusivity
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].DomainScore > out[j].DomainScore })
	return out
}

func normalizeTerms(keyphrases []string) []string {
	terms := make([]string, 0, len(keyphrases))
	for _, k := range keyphrases {
		terms = append(terms, strings.ToLower(strings.TrimSpace(k)))
	}
	return terms
}

func tokenize(content string) []string {
	return strings.Fields(strings.ToLower(content))
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func avgIDF(terms []string, snap *corpus.Snapshot) float64 {
	if len(terms) == 0 || snap == nil {
		return 0
	}
	var sum float64
	for _, t := range terms {
		sum += snap.IDF(t)
	}
	return sum / float64(len(terms))
}

func avgPMI(terms []string, snap *corpus.Snapshot) float64 {
	if len(terms) < 2 || snap == nil {
		return 0
	}
	var sum float64
	count := 0
	for i := 0; i < len(terms); i++ {
		for j := i + 1; j < len(terms); j++ {
			sum += snap.PMI(terms[i], terms[j])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func coOccurrence(terms []string, tokenSet map[string]bool, snap *corpus.Snapshot) float64 {
	if snap == nil {
		return 0
	}
	var sum float64
	for _, t := range terms {
		if tokenSet[t] {
			sum += snap.CoOccurrenceDensity(t)
		}
	}
	return sum
}

// fieldWeight gives extra credit to matches found in higher-signal fields
// (title > heading > body) when the ingestion pipeline recorded which
// field a chunk came from.
func fieldWeight(metadata map[string]string) float64 {
	switch metadata["field"] {
	case "title":
		return 1.0
	case "heading":
		return 0.6
	default:
		return 0.2
	}
}

// proximityBonus rewards query terms appearing close together in the
// content rather than scattered across it.
func proximityBonus(terms []string, tokens []string) float64 {
	if len(terms) < 2 {
		return 0
	}
	positions := make(map[string][]int)
	for i, tok := range tokens {
		positions[tok] = append(positions[tok], i)
	}

	minSpan := math.MaxInt32
	found := 0
	var first, last int
	for _, t := range terms {
		pos, ok := positions[t]
		if !ok {
			continue
		}
		found++
		if found == 1 {
			first, last = pos[0], pos[0]
			continue
		}
		if pos[0] < first {
			first = pos[0]
		}
		if pos[len(pos)-1] > last {
			last = pos[len(pos)-1]
		}
	}
	if found < 2 {
		return 0
	}
	span := last - first
	if span < minSpan {
		minSpan = span
	}
	if minSpan <= 0 {
		return 1
	}
	return 1.0 / (1.0 + float64(minSpan))
}

// coverageBonus rewards candidates that contain a larger fraction of the
// query's distinct keyphrases.
func coverageBonus(terms []string, tokenSet map[string]bool) float64 {
	if len(terms) == 0 {
		return 0
	}
	hit := 0
	for _, t := range terms {
		if tokenSet[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

// exclusivityPenalty discounts terms that appear in nearly every document
// in the corpus (low discriminative value) even if their raw IDF has not
// been fully driven down yet.
func exclusivityPenalty(terms []string, snap *corpus.Snapshot) float64 {
	if snap == nil || len(terms) == 0 {
		return 0
	}
	var sum float64
	for _, t := range terms {
		sum += snap.DocumentFrequencyRatio(t)
	}
	return sum / float64(len(terms))
}
