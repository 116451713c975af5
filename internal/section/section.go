// Package section reassembles multi-part structured sections (tables,
// lists, hierarchies, sequences) from sibling chunks belonging to the same
// document section (C8).
package section

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/ragquery/internal/pipeline"
	"github.com/knoguchi/ragquery/internal/vectorstore"
)

// completenessFloor is the minimum retrievedParts/expectedParts ratio a
// section must clear to be emitted merged; below it, the original
// candidates pass through unchanged (spec.md §4.8).
const completenessFloor = 0.3

// Reconstructor detects candidates that are part of a larger structured
// section and fetches their siblings to rebuild it.
type Reconstructor struct {
	store               vectorstore.VectorStore
	timeout             time.Duration
	minTriggerConfidence float64
	maxSectionsPerQuery  int
	maxParts             int
}

// New builds a Reconstructor. minTriggerConfidence, maxSectionsPerQuery,
// and maxParts are the per-tenant knobs from spec.md §6; zero values fall
// back to the spec's suggested defaults (0.7, 3, 10).
func New(store vectorstore.VectorStore, timeout time.Duration, minTriggerConfidence float64, maxSectionsPerQuery, maxParts int) *Reconstructor {
	if minTriggerConfidence <= 0 {
		minTriggerConfidence = 0.7
	}
	if maxSectionsPerQuery <= 0 {
		maxSectionsPerQuery = 3
	}
	if maxParts <= 0 {
		maxParts = 10
	}
	return &Reconstructor{
		store:               store,
		timeout:             timeout,
		minTriggerConfidence: minTriggerConfidence,
		maxSectionsPerQuery:  maxSectionsPerQuery,
		maxParts:             maxParts,
	}
}

// sectionKey groups candidates by the document-section they declare via
// metadata (set by the ingestion pipeline, out of scope here).
func sectionKey(c pipeline.Candidate) (string, bool) {
	id, ok := c.Metadata["section_id"]
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// triggerScore is the score the minTriggerConfidence gate checks: the
// cross-encoder's score when it ran, else the fused score. The domain-less
// reranker's score is not used here.
func triggerScore(c pipeline.Candidate) float64 {
	if c.HasCrossScore {
		return c.CrossScore
	}
	return c.FusedScore
}

// groupBest is the highest triggerScore among a group's members, used both
// to decide whether the group clears minTriggerConfidence and to rank
// groups against the maxSectionsPerQuery cap.
func groupBest(members []pipeline.Candidate) float64 {
	best := 0.0
	for _, m := range members {
		if s := triggerScore(m); s > best {
			best = s
		}
	}
	return best
}

// Reconstruct groups candidates by section_id and, for the highest-scoring
// groups up to maxSectionsPerQuery, fetches missing sibling parts
// (bounded by timeout and capped at maxParts) and replaces the group with a
// single reconstructed candidate carrying the merged content. A group whose
// best member does not clear minTriggerConfidence, or whose completeness
// ratio does not clear completenessFloor, passes through with its original
// candidates unchanged, as does a group whose sibling fetch is cut short by
// the deadline. Per DESIGN.md Q2, a reconstructed candidate keeps
// the rank position of its best-scoring member (interleave), rather than
// being hoisted to the front of the list.
func (r *Reconstructor) Reconstruct(ctx context.Context, tenantID string, candidates []pipeline.Candidate) (pipeline.Result[[]pipeline.Candidate], pipeline.StageSignal) {
	start := time.Now()
	signal := pipeline.StageSignal{Stage: "section_reconstruction"}

	groups := make(map[string][]pipeline.Candidate)
	var standalone []pipeline.Candidate
	for _, c := range candidates {
		if key, ok := sectionKey(c); ok {
			groups[key] = append(groups[key], c)
			continue
		}
		standalone = append(standalone, c)
	}

	if len(groups) == 0 {
		signal.DurationMS = time.Since(start).Milliseconds()
		return pipeline.Ok(candidates), signal
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return groupBest(groups[keys[i]]) > groupBest(groups[keys[j]])
	})

	triggered := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(triggered) >= r.maxSectionsPerQuery {
			break
		}
		if groupBest(groups[key]) > r.minTriggerConfidence {
			triggered = append(triggered, key)
		}
	}
	triggeredSet := make(map[string]bool, len(triggered))
	for _, k := range triggered {
		triggeredSet[k] = true
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type built struct {
		key  string
		cand pipeline.Candidate
		ok   bool
	}
	results := make([]built, len(triggered))

	degraded := false
	timedOut := false
	g, gCtx := errgroup.WithContext(ctx)
	for i, key := range triggered {
		i, key := i, key
		g.Go(func() error {
			members := groups[key]
			if len(members) > r.maxParts {
				sort.SliceStable(members, func(a, b int) bool { return triggerScore(members[a]) > triggerScore(members[b]) })
				members = members[:r.maxParts]
			}
			expanded, expectedParts, timeoutHit := r.fetchSiblings(gCtx, tenantID, members)
			if len(expanded) > r.maxParts {
				expanded = expanded[:r.maxParts]
			}
			if timeoutHit {
				degraded = true
				if gCtx.Err() != nil {
					timedOut = true
					results[i] = built{key: key}
					return nil
				}
			}
			sec, accepted := merge(key, expanded, expectedParts, timeoutHit)
			results[i] = built{key: key, cand: sec, ok: accepted}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]pipeline.Candidate, 0, len(standalone)+len(results))
	out = append(out, standalone...)
	for _, key := range keys {
		if !triggeredSet[key] {
			out = append(out, groups[key]...)
			continue
		}
	}
	for _, b := range results {
		if b.ok {
			out = append(out, b.cand)
		} else {
			out = append(out, groups[b.key]...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].FusionRank, out[j].FusionRank
		if ri == 0 {
			ri = len(candidates) + 1
		}
		if rj == 0 {
			rj = len(candidates) + 1
		}
		return ri < rj
	})

	signal.DurationMS = time.Since(start).Milliseconds()
	if timedOut {
		signal.Degraded = true
		signal.Reason = "one or more sections hit the completion timeout; originals emitted unchanged"
		return pipeline.Degraded(out, signal.Reason), signal
	}
	if degraded {
		signal.Degraded = true
		signal.Reason = "one or more sections incomplete"
		return pipeline.Degraded(out, signal.Reason), signal
	}
	return pipeline.Ok(out), signal
}

// fetchSiblings looks up the full member_ids list recorded in metadata and
// fetches any parts not already present among the matched candidates.
// Returns the expanded member set, the expected part count (len(allIDs),
// or len(members) when no member_ids list was recorded), and whether the
// fetch failed or returned fewer parts than were requested.
func (r *Reconstructor) fetchSiblings(ctx context.Context, tenantID string, members []pipeline.Candidate) ([]pipeline.Candidate, int, bool) {
	have := make(map[string]bool, len(members))
	var allIDs []string
	for _, m := range members {
		have[m.ChunkID] = true
		if ids, ok := m.Metadata["member_ids"]; ok && ids != "" {
			allIDs = strings.Split(ids, ",")
		}
	}
	if len(allIDs) == 0 {
		return members, len(members), false
	}

	var missing []string
	for _, id := range allIDs {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return members, len(allIDs), false
	}

	fetched, err := r.store.FetchByIDs(ctx, tenantID, missing)
	if err != nil {
		return members, len(allIDs), true
	}

	out := make([]pipeline.Candidate, len(members))
	copy(out, members)
	for _, f := range fetched {
		out = append(out, pipeline.Candidate{ChunkID: f.ID, DocumentID: f.DocumentID, Content: f.Content, Metadata: f.Metadata,
			TenantID: f.TenantID, ACL: f.ACL})
	}
	return out, len(allIDs), len(fetched) < len(missing)
}

// merge combines a section's parts into a single reconstructed candidate.
// The combination is structure-aware: table and list sections preserve
// ordering and row/item boundaries explicitly rather than relying on plain
// concatenation, hierarchy sections keep nesting depth, and anything else
// falls back to sequential concatenation. Returns ok=false when the
// completeness ratio doesn't clear completenessFloor, in which case the
// caller should emit the original, unmerged candidates instead.
func merge(sectionID string, parts []pipeline.Candidate, expectedParts int, timeoutOccurred bool) (pipeline.Candidate, bool) {
	sort.SliceStable(parts, func(i, j int) bool {
		return partIndex(parts[i]) < partIndex(parts[j])
	})

	if expectedParts <= 0 {
		expectedParts = len(parts)
	}
	completeness := float64(len(parts)) / float64(expectedParts)
	if completeness > 1 {
		completeness = 1
	}
	if completeness < completenessFloor {
		return pipeline.Candidate{}, false
	}

	docID := ""
	kind := "sequence"
	for _, p := range parts {
		if docID == "" {
			docID = p.DocumentID
		}
		if k, ok := p.Metadata["section_kind"]; ok && k != "" {
			kind = k
		}
	}

	content := mergeByKind(kind, parts)

	ids := make([]string, 0, len(parts))
	bestRank := 0
	bestScore := 0.0
	for _, p := range parts {
		ids = append(ids, p.ChunkID)
		if p.FusionRank != 0 && (bestRank == 0 || p.FusionRank < bestRank) {
			bestRank = p.FusionRank
		}
		if s := triggerScore(p); s > bestScore {
			bestScore = s
		}
	}

	return pipeline.Candidate{
		ChunkID:       "section:" + sectionID,
		DocumentID:    docID,
		Content:       content,
		Metadata:      map[string]string{"section_id": sectionID},
		FusedScore:    bestScore,
		FusionRank:    bestRank,
		CrossScore:    bestScore,
		HasCrossScore: bestScore > 0,
		Section: &pipeline.ReconstructedSection{
			SectionID:       sectionID,
			DocumentID:      docID,
			Kind:            kind,
			Content:         content,
			PartCount:       len(parts),
			ExpectedParts:   expectedParts,
			Completeness:    completeness,
			Complete:        completeness >= 1,
			TimeoutOccurred: timeoutOccurred,
			MemberIDs:       ids,
			Rank:            bestRank,
			Score:           bestScore,
		},
	}, true
}

func partIndex(c pipeline.Candidate) int {
	v, err := strconv.Atoi(c.Metadata["part_index"])
	if err != nil {
		return 0
	}
	return v
}

// mergeByKind joins a section's ordered parts according to its structural
// kind: a table keeps its header row distinct from the body rows it
// precedes, a list numbers its items so ordinal sequence survives, a
// hierarchy indents each part by its recorded nesting depth, and anything
// else (sequence, or an unrecognized kind) concatenates in order.
func mergeByKind(kind string, parts []pipeline.Candidate) string {
	var sb strings.Builder
	switch kind {
	case "table":
		for i, p := range parts {
			if i == 0 {
				sb.WriteString(strings.TrimSpace(p.Content))
				sb.WriteString("\n")
				continue
			}
			sb.WriteString(strings.TrimSpace(p.Content))
			sb.WriteString("\n")
		}
	case "list":
		for i, p := range parts {
			sb.WriteString(strconv.Itoa(i + 1))
			sb.WriteString(". ")
			sb.WriteString(strings.TrimSpace(p.Content))
			sb.WriteString("\n")
		}
	case "hierarchy":
		for _, p := range parts {
			depth := 0
			if d, err := strconv.Atoi(p.Metadata["nesting_depth"]); err == nil {
				depth = d
			}
			sb.WriteString(strings.Repeat("  ", depth))
			sb.WriteString(strings.TrimSpace(p.Content))
			sb.WriteString("\n")
		}
	default:
		for _, p := range parts {
			sb.WriteString(strings.TrimSpace(p.Content))
			sb.WriteString("\n")
		}
	}
	return strings.TrimSpace(sb.String())
}
