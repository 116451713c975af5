// Package langpack ships language-specific analyzer.LangPack implementations.
package langpack

import "strings"

// English is the default language pack: a standard stopword list and a
// handful of keyword-driven intent buckets.
type English struct{}

var englishStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "that": true,
	"this": true, "with": true, "from": true, "was": true, "were": true,
	"what": true, "which": true, "who": true, "how": true, "why": true,
	"does": true, "do": true, "did": true, "can": true, "could": true,
	"would": true, "should": true, "has": true, "have": true, "had": true,
	"you": true, "your": true, "about": true, "into": true, "than": true,
}

var intentKeywords = map[string][]string{
	"howto":      {"how", "steps", "configure", "setup", "install"},
	"comparison": {"versus", "vs", "compare", "difference", "better"},
	"definition": {"what", "define", "meaning", "definition"},
	"troubleshoot": {"error", "fails", "failing", "broken", "issue", "bug"},
}

// Language returns the ISO code this pack serves.
func (English) Language() string { return "en" }

// Stopwords returns the English stopword set.
func (English) Stopwords() map[string]bool { return englishStopwords }

// ClassifyIntent picks the first matching intent bucket whose keyword
// appears in tokens, falling back to "lookup".
func (English) ClassifyIntent(tokens []string) string {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[strings.ToLower(t)] = true
	}
	for _, intent := range []string{"troubleshoot", "comparison", "howto", "definition"} {
		for _, kw := range intentKeywords[intent] {
			if set[kw] {
				return intent
			}
		}
	}
	return "lookup"
}
