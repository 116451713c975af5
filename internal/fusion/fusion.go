// Package fusion combines vector and keyword candidates into a single
// ranked list (C5) via a small registry of named strategies, mirroring the
// tagged-variant style spec.md prescribes over a class hierarchy.
package fusion

import (
	"sort"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

// Strategy fuses the per-branch scores already attached to each candidate
// into a FusedScore and assigns FusionRank in descending order.
type Strategy interface {
	Name() string
	Fuse(candidates []pipeline.Candidate) []pipeline.Candidate
}

var registry = map[string]Strategy{}

func register(s Strategy) { registry[s.Name()] = s }

func init() {
	register(&WeightedAverage{VectorWeight: 0.6, KeywordWeight: 0.4})
	register(&RRF{K: 5})
	register(&Max{})
	register(&Borda{})
}

// Get looks up a strategy by name, falling back to weighted_average if the
// name is unknown (weighted_average is the default strategy).
func Get(name string) Strategy {
	if s, ok := registry[name]; ok {
		return s
	}
	return registry["weighted_average"]
}

func rankByScore(candidates []pipeline.Candidate, score func(pipeline.Candidate) float64) []pipeline.Candidate {
	out := make([]pipeline.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].FusedScore = score(out[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FusedScore > out[j].FusedScore })
	for i := range out {
		out[i].FusionRank = i + 1
	}
	return out
}

// WeightedAverage blends normalized vector and keyword scores directly,
// the default strategy: it preserves the underlying similarity signal
// instead of collapsing it to rank position the way RRF does.
type WeightedAverage struct {
	VectorWeight  float64
	KeywordWeight float64
}

func (w *WeightedAverage) Name() string { return "weighted_average" }

func (w *WeightedAverage) Fuse(candidates []pipeline.Candidate) []pipeline.Candidate {
	return rankByScore(candidates, func(c pipeline.Candidate) float64 {
		var sum, weight float64
		if c.HasVector {
			sum += c.VectorScore * w.VectorWeight
			weight += w.VectorWeight
		}
		if c.HasKeyword {
			sum += c.KeywordScore * w.KeywordWeight
			weight += w.KeywordWeight
		}
		if weight == 0 {
			return 0
		}
		return sum / weight
	})
}

// RRF is reciprocal rank fusion: 1/(k+rank) summed across branches. The
// default k here is 5, not the conventional 60 — see DESIGN.md/SPEC_FULL.md
// for why k=60 collapses similarity scores to near-indistinguishable
// fractions for a two-branch fusion at this candidate-set size.
type RRF struct {
	K float64
}

func (r *RRF) Name() string { return "rrf" }

func (r *RRF) Fuse(candidates []pipeline.Candidate) []pipeline.Candidate {
	vectorRank := rankIndex(candidates, func(c pipeline.Candidate) (float64, bool) { return c.VectorScore, c.HasVector })
	keywordRank := rankIndex(candidates, func(c pipeline.Candidate) (float64, bool) { return c.KeywordScore, c.HasKeyword })

	return rankByScore(candidates, func(c pipeline.Candidate) float64 {
		var sum float64
		if rank, ok := vectorRank[c.ChunkID]; ok {
			sum += 1.0 / (r.K + float64(rank))
		}
		if rank, ok := keywordRank[c.ChunkID]; ok {
			sum += 1.0 / (r.K + float64(rank))
		}
		return sum
	})
}

func rankIndex(candidates []pipeline.Candidate, score func(pipeline.Candidate) (float64, bool)) map[string]int {
	type entry struct {
		id string
		s  float64
	}
	var entries []entry
	for _, c := range candidates {
		if v, ok := score(c); ok {
			entries = append(entries, entry{id: c.ChunkID, s: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].s > entries[j].s })
	out := make(map[string]int, len(entries))
	for i, e := range entries {
		out[e.id] = i + 1
	}
	return out
}

// Max takes the better of the two branch scores per candidate, favoring
// whichever signal is strongest rather than averaging them down.
type Max struct{}

func (m *Max) Name() string { return "max" }

func (m *Max) Fuse(candidates []pipeline.Candidate) []pipeline.Candidate {
	return rankByScore(candidates, func(c pipeline.Candidate) float64 {
		if c.VectorScore > c.KeywordScore {
			return c.VectorScore
		}
		return c.KeywordScore
	})
}

// Borda assigns points by rank position (n-rank+1) per branch and sums them,
// a rank-only alternative to RRF without the k-constant sensitivity.
type Borda struct{}

func (b *Borda) Name() string { return "borda_rank" }

func (b *Borda) Fuse(candidates []pipeline.Candidate) []pipeline.Candidate {
	n := len(candidates)
	vectorRank := rankIndex(candidates, func(c pipeline.Candidate) (float64, bool) { return c.VectorScore, c.HasVector })
	keywordRank := rankIndex(candidates, func(c pipeline.Candidate) (float64, bool) { return c.KeywordScore, c.HasKeyword })

	return rankByScore(candidates, func(c pipeline.Candidate) float64 {
		var points float64
		if rank, ok := vectorRank[c.ChunkID]; ok {
			points += float64(n - rank + 1)
		}
		if rank, ok := keywordRank[c.ChunkID]; ok {
			points += float64(n - rank + 1)
		}
		return points
	})
}
