// Package analyzer turns a raw query string into an analyzed pipeline.Query
// (C2): normalization, keyphrase extraction, and intent classification,
// driven by a small per-language pack registry rather than one hardcoded
// English-only implementation.
package analyzer

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/knoguchi/ragquery/internal/pipeline"
)

// LangPack supplies the language-specific pieces of analysis: stopword
// filtering and intent keyword sets.
type LangPack interface {
	Language() string
	Stopwords() map[string]bool
	ClassifyIntent(tokens []string) string
}

// Registry looks up a LangPack by language code, falling back to English.
type Registry struct {
	packs map[string]LangPack
}

// NewRegistry builds a Registry seeded with the given packs.
func NewRegistry(packs ...LangPack) *Registry {
	r := &Registry{packs: make(map[string]LangPack)}
	for _, p := range packs {
		r.packs[p.Language()] = p
	}
	return r
}

func (r *Registry) get(lang string) LangPack {
	if p, ok := r.packs[lang]; ok {
		return p
	}
	return r.packs["en"]
}

// Service analyzes queries, caching results by language and trimmed,
// lowercased query text so a repeated
// query within the cache window skips re-analysis (spec.md's "warm cache"
// short-circuit).
type Service struct {
	registry *Registry
	cache    *lru.LRU[string, pipeline.Query]
}

// New builds an analyzer Service.
func New(registry *Registry, cacheSize int, cacheTTL time.Duration) *Service {
	return &Service{registry: registry, cache: lru.NewLRU[string, pipeline.Query](cacheSize, nil, cacheTTL)}
}

// Analyze normalizes raw, extracts keyphrases and intent using the
// language pack for the language argument (or English if unset/unknown), and
// returns a ready-to-retrieve Query.
func (s *Service) Analyze(raw string, language string, caller pipeline.CallerContext) pipeline.Query {
	key := cacheKey(raw, language)
	if cached, ok := s.cache.Get(key); ok {
		cached.Caller = caller
		return cached
	}

	normalized := normalize(raw)
	tokens := strings.Fields(normalized)

	pack := s.registry.get(language)
	keyphrases := extractKeyphrases(tokens, pack)
	intent := "lookup"
	if pack != nil {
		intent = pack.ClassifyIntent(tokens)
	}

	q := pipeline.Query{
		Raw:        raw,
		Normalized: normalized,
		Keyphrases: keyphrases,
		Intent:     intent,
		Language:   language,
		Caller:     caller,
		ReceivedAt: time.Now(),
	}
	s.cache.Add(key, q)
	return q
}

func cacheKey(raw, language string) string {
	return language + ":" + strings.ToLower(strings.TrimSpace(raw))
}

func normalize(raw string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(raw)), " ")
}

func extractKeyphrases(tokens []string, pack LangPack) []string {
	var stop map[string]bool
	if pack != nil {
		stop = pack.Stopwords()
	}
	seen := make(map[string]bool)
	var out []string
	for _, t := range tokens {
		lower := strings.ToLower(t)
		if len(lower) < 3 || stop[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	return out
}
