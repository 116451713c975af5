// Package pipeline defines the shared data model and stage contract for the
// query pipeline: caller identity, the query envelope, candidates as they
// flow through retrieval/fusion/rerank, and the final answer envelope.
package pipeline

import "time"

// CallerContext carries the authenticated identity and scoping filters for
// a single request. It is resolved once at the HTTP boundary (C1) and
// threaded, read-only, through every later stage.
type CallerContext struct {
	TenantID  string
	UserID    string
	GroupIDs  []string
	Languages []string
	RequestID string
}

// Query is a single analyzed question ready for retrieval.
type Query struct {
	Raw         string
	Normalized  string
	Keyphrases  []string
	Intent      string
	Language    string
	Caller      CallerContext
	ReceivedAt  time.Time
}

// SourceKind identifies which retrieval branch produced a Candidate.
type SourceKind string

const (
	SourceVector   SourceKind = "vector"
	SourceKeyword  SourceKind = "keyword"
	SourceSection  SourceKind = "section"
)

// Candidate is a unit of retrieved content as it moves through fusion,
// rerank, section reconstruction, and context packing. Fields accumulate as
// the candidate advances; nothing downstream ever needs to look upstream.
type Candidate struct {
	ChunkID    string
	DocumentID string
	Content    string
	Metadata   map[string]string

	// TenantID and ACL are carried from the originating store hit so the
	// retrieval stage can re-verify I1/I2 in-process, independent of
	// whatever the store's own push-down filter enforced.
	TenantID string
	ACL      []string

	VectorScore  float64
	HasVector    bool
	KeywordScore float64
	HasKeyword   bool

	FusedScore     float64
	FusionRank     int
	DomainScore    float64
	CrossScore     float64
	HasCrossScore  bool

	Sources []SourceKind

	Section *ReconstructedSection
}

// StageSignal records what a pipeline stage did to a request independent of
// the candidates it produced: whether it ran to completion, degraded, or
// failed, and why. The orchestrator (C14) uses these to decide whether the
// overall answer should carry a degraded-quality marker.
type StageSignal struct {
	Stage      string
	Degraded   bool
	Reason     string
	DurationMS int64
}

// ReconstructedSection is a structural unit (table, list, hierarchy,
// sequence) rebuilt from sibling chunks belonging to the same document
// section.
type ReconstructedSection struct {
	SectionID  string
	DocumentID string
	Kind       string
	Content    string

	// PartCount/ExpectedParts/Completeness implement §4.8's acceptance
	// rule: Completeness is retrievedParts/expectedParts, and a section is
	// only emitted when it clears the acceptance floor. Complete is the
	// common-case bool (Completeness == 1.0) kept for callers that don't
	// need the ratio.
	PartCount      int
	ExpectedParts  int
	Completeness   float64
	Complete       bool
	TimeoutOccurred bool

	MemberIDs []string
	Rank      int
	Score     float64
}

// FreshnessBucket classifies a citation's age against the corpus at query
// time.
type FreshnessBucket string

const (
	FreshnessFresh  FreshnessBucket = "fresh"
	FreshnessRecent FreshnessBucket = "recent"
	FreshnessStale  FreshnessBucket = "stale"
)

// Citation is a single reference resolved from a `[^n]` marker in the
// synthesized answer.
type Citation struct {
	Marker     int
	ChunkID    string
	DocumentID string
	Excerpt    string
	Freshness  FreshnessBucket
	Score      float64
}

// DegradationAlert flags a stage whose quality dropped sharply relative to
// the best upstream stage, per spec.md §8 property 6.
type DegradationAlert struct {
	Stage    string
	Severity string
	Previous float64
	Current  float64
}

// AnswerEnvelope is the terminal result of a pipeline run, returned to the
// HTTP boundary verbatim.
type AnswerEnvelope struct {
	Answer            string
	Refused           bool
	RefusalCode       string
	Citations         []Citation
	Confidence        float64
	Degraded          bool
	Signals           []StageSignal
	DegradationAlerts []DegradationAlert
	RequestID         string
	ElapsedMS         int64
}
