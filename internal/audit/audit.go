// Package audit writes an append-only record of every guardrail decision
// (C17), hashing the query text before it is ever persisted or logged —
// resolves Q1 in DESIGN.md.
package audit

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Record is a single guardrail decision.
type Record struct {
	Timestamp       time.Time
	RequestID       string
	TenantID        string
	QueryHash       string
	Decision        string // "answered" or "refused"
	Confidence      float64
	RefusalCode     string
	FailedCriterion string
}

// HashQuery returns a deterministic, non-reversible identifier for a query
// string, normalized by lowercasing and trimming whitespace.
func HashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h[:16])
}

// Log is the append-only sink guardrail decisions are written to.
type Log struct {
	logger *slog.Logger
}

// New builds an audit Log writing structured entries via slog.
func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Write appends a guardrail decision record.
func (l *Log) Write(r Record) {
	l.logger.Info("guardrail_decision",
		"request_id", r.RequestID,
		"tenant_id", r.TenantID,
		"query_hash", r.QueryHash,
		"decision", r.Decision,
		"confidence", r.Confidence,
		"refusal_code", r.RefusalCode,
		"failed_criterion", r.FailedCriterion,
		"timestamp", r.Timestamp.UTC().Format(time.RFC3339),
	)
}
