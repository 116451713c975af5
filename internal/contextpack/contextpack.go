// Package contextpack packs ranked candidates into a token-budgeted
// context for synthesis (C9): it preserves rank order and admits only
// candidates that are either novel (non-overlapping with what's already
// packed) or carry a high-confidence signal.
package contextpack

import (
	"strings"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

// Packed is the result of packing: the admitted candidates in order, plus
// how many were dropped for budget or redundancy.
type Packed struct {
	Candidates []pipeline.Candidate
	DroppedForBudget     int
	DroppedForRedundancy int
	UsedTokens           int
}

// Packer packs candidates under a token budget.
type Packer struct {
	tokenBudget          int
	highConfidence       float64
	jaccardRedundancy    float64
}

// New builds a Packer with the given token budget. highConfidence is the
// DomainScore/CrossScore threshold above which a candidate is admitted
// even if it substantially overlaps an already-packed candidate.
func New(tokenBudget int, highConfidence float64) *Packer {
	return &Packer{tokenBudget: tokenBudget, highConfidence: highConfidence, jaccardRedundancy: 0.8}
}

// Pack walks candidates in their incoming rank order, admitting each one
// while budget remains, and skipping near-duplicates of already-admitted
// content unless the candidate's own signal is high-confidence.
func (p *Packer) Pack(candidates []pipeline.Candidate) Packed {
	var admitted []pipeline.Candidate
	var admittedTokens []map[string]bool
	used := 0
	droppedBudget := 0
	droppedRedundancy := 0

	for _, c := range candidates {
		tokens := tokenSet(c.Content)
		estTokens := estimateTokens(c.Content)

		redundant := false
		for _, existing := range admittedTokens {
			if jaccard(tokens, existing) >= p.jaccardRedundancy {
				redundant = true
				break
			}
		}
		if redundant && !isHighConfidence(c, p.highConfidence) {
			droppedRedundancy++
			continue
		}

		if used+estTokens > p.tokenBudget {
			droppedBudget++
			continue
		}

		admitted = append(admitted, c)
		admittedTokens = append(admittedTokens, tokens)
		used += estTokens
	}

	return Packed{Candidates: admitted, DroppedForBudget: droppedBudget, DroppedForRedundancy: droppedRedundancy, UsedTokens: used}
}

func isHighConfidence(c pipeline.Candidate, threshold float64) bool {
	if c.Section != nil {
		return true
	}
	return c.HasCrossScore && c.CrossScore >= threshold || c.DomainScore >= threshold
}

func tokenSet(content string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(content)) {
		set[tok] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// estimateTokens approximates token count from word count (roughly 0.75
// words per token for English-like text), avoiding a dependency on a
// specific model's tokenizer for a budget check that only needs to be
// approximately right.
func estimateTokens(content string) int {
	words := len(strings.Fields(content))
	return int(float64(words) / 0.75)
}
