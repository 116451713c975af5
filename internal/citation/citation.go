// Package citation extracts [^n] markers from a synthesized answer,
// renumbers them to a contiguous prefix, and buckets each by freshness
// (C13).
package citation

import (
	"regexp"
	"strconv"
	"time"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

var markerPattern = regexp.MustCompile(`\[\^(\d+)\]`)

// FreshnessThresholds configures the age cutoffs for bucketing.
type FreshnessThresholds struct {
	FreshWithin  time.Duration
	RecentWithin time.Duration
}

// DefaultThresholds are the fresh/recent/stale cutoffs: fresh up to 30
// days, recent up to 180 days, stale beyond.
var DefaultThresholds = FreshnessThresholds{FreshWithin: 30 * 24 * time.Hour, RecentWithin: 180 * 24 * time.Hour}

// Extract finds every [^n] marker in answer, maps it back to the packed
// candidate it references (1-indexed, matching the numbering synth.buildPrompt
// produced), drops out-of-range markers, renumbers the survivors to a
// contiguous 1..k prefix, and rewrites the answer text to match.
func Extract(answer string, candidates []pipeline.Candidate, now time.Time, thresholds FreshnessThresholds) (string, []pipeline.Citation) {
	matches := markerPattern.FindAllStringSubmatchIndex(answer, -1)
	if len(matches) == 0 {
		return answer, nil
	}

	renumber := make(map[int]int) // original marker -> new marker
	var citations []pipeline.Citation
	next := 1

	for _, m := range matches {
		numStr := answer[m[2]:m[3]]
		n, err := strconv.Atoi(numStr)
		if err != nil || n < 1 || n > len(candidates) {
			continue
		}
		if _, seen := renumber[n]; seen {
			continue
		}
		renumber[n] = next
		c := candidates[n-1]
		citations = append(citations, pipeline.Citation{
			Marker:     next,
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Excerpt:    excerpt(c.Content),
			Freshness:  freshnessOf(c, now, thresholds),
			Score:      scoreOf(c),
		})
		next++
	}

	rewritten := markerPattern.ReplaceAllStringFunc(answer, func(match string) string {
		sub := markerPattern.FindStringSubmatch(match)
		n, _ := strconv.Atoi(sub[1])
		newN, ok := renumber[n]
		if !ok {
			return "" // drop markers that didn't resolve to a valid candidate
		}
		return "[^" + strconv.Itoa(newN) + "]"
	})

	return rewritten, citations
}

func excerpt(content string) string {
	const maxLen = 240
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}

func scoreOf(c pipeline.Candidate) float64 {
	if c.HasCrossScore {
		return c.CrossScore
	}
	return c.FusedScore
}

func freshnessOf(c pipeline.Candidate, now time.Time, thresholds FreshnessThresholds) pipeline.FreshnessBucket {
	ts, ok := c.Metadata["indexed_at"]
	if !ok {
		return pipeline.FreshnessRecent
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return pipeline.FreshnessRecent
	}
	age := now.Sub(t)
	switch {
	case age <= thresholds.FreshWithin:
		return pipeline.FreshnessFresh
	case age <= thresholds.RecentWithin:
		return pipeline.FreshnessRecent
	default:
		return pipeline.FreshnessStale
	}
}
