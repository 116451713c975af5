// Package guardrail decides whether a packed, confidence-scored candidate
// set is answerable, or whether the pipeline should refuse with a
// structured decline instead of risking synthesis from weak context (C11).
package guardrail

import (
	"time"

	"github.com/knoguchi/ragquery/internal/audit"
	"github.com/knoguchi/ragquery/internal/confidence"
)

// Thresholds are the per-tenant answerability criteria.
type Thresholds struct {
	MinConfidence float64
	MinTopScore   float64
	MinMeanScore  float64
	MinCount      int
	MaxStdDev     float64
}

// Decision is the guardrail's verdict.
type Decision struct {
	Answerable      bool
	RefusalCode     string
	FailedCriterion string
}

const (
	RefusalLowConfidence  = "low_confidence"
	RefusalLowTopScore    = "low_top_score"
	RefusalLowMeanScore   = "low_confidence"
	RefusalInsufficient   = "insufficient_candidates"
	RefusalHighDispersion = "high_dispersion"
)

// Evaluate checks every criterion in a fixed order and returns the first
// one that fails, so a refusal always carries a single, specific reason
// (spec.md's auditable-decision requirement) rather than a generic
// "low confidence" catch-all. Per spec.md §4.11 a set is answerable only
// when ALL FIVE criteria hold: count, top score, mean score, dispersion,
// and overall confidence.
func Evaluate(sig confidence.Signals, conf float64, t Thresholds) Decision {
	if sig.Count < t.MinCount {
		return Decision{Answerable: false, RefusalCode: RefusalInsufficient, FailedCriterion: "count"}
	}
	if sig.TopScore < t.MinTopScore {
		return Decision{Answerable: false, RefusalCode: RefusalLowTopScore, FailedCriterion: "top_score"}
	}
	if t.MinMeanScore > 0 && sig.MeanScore < t.MinMeanScore {
		return Decision{Answerable: false, RefusalCode: RefusalLowMeanScore, FailedCriterion: "mean_score"}
	}
	if t.MaxStdDev > 0 && sig.StdDev > t.MaxStdDev {
		return Decision{Answerable: false, RefusalCode: RefusalHighDispersion, FailedCriterion: "stddev"}
	}
	if conf < t.MinConfidence {
		return Decision{Answerable: false, RefusalCode: RefusalLowConfidence, FailedCriterion: "confidence"}
	}
	return Decision{Answerable: true}
}

// Guard wraps Evaluate with a mandatory audit write of the decision.
type Guard struct {
	log *audit.Log
}

// New builds a Guard backed by the given audit log.
func New(log *audit.Log) *Guard {
	return &Guard{log: log}
}

// Check evaluates the decision and writes the audit record before
// returning, regardless of the outcome.
func (g *Guard) Check(requestID, tenantID, rawQuery string, sig confidence.Signals, conf float64, t Thresholds) Decision {
	decision := Evaluate(sig, conf, t)

	rec := audit.Record{
		Timestamp:  time.Now(),
		RequestID:  requestID,
		TenantID:   tenantID,
		QueryHash:  audit.HashQuery(rawQuery),
		Confidence: conf,
	}
	if decision.Answerable {
		rec.Decision = "answered"
	} else {
		rec.Decision = "refused"
		rec.RefusalCode = decision.RefusalCode
		rec.FailedCriterion = decision.FailedCriterion
	}
	g.log.Write(rec)

	return decision
}
