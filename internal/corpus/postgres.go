package corpus

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStatsSource computes a Snapshot from term statistics maintained
// in Postgres. The out-of-scope ingestion pipeline is responsible for
// keeping corpus_term_stats and corpus_term_cooccurrence populated as
// documents are added or removed; this type only reads them.
type PostgresStatsSource struct {
	pool *pgxpool.Pool
}

// NewPostgresStatsSource builds a PostgresStatsSource.
func NewPostgresStatsSource(pool *pgxpool.Pool) *PostgresStatsSource {
	return &PostgresStatsSource{pool: pool}
}

// Compute scans corpus_term_stats and corpus_term_cooccurrence into a
// fresh, immutable Snapshot.
func (p *PostgresStatsSource) Compute(ctx context.Context) (*Snapshot, error) {
	var totalDocs int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE status = 'indexed'`).Scan(&totalDocs); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	termDF := make(map[string]int)
	rows, err := p.pool.Query(ctx, `SELECT term, document_frequency FROM corpus_term_stats`)
	if err != nil {
		return nil, fmt.Errorf("failed to query term stats: %w", err)
	}
	for rows.Next() {
		var term string
		var df int
		if err := rows.Scan(&term, &df); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan term stats: %w", err)
		}
		termDF[term] = df
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("term stats scan error: %w", err)
	}

	termCo := make(map[string]float64)
	coRows, err := p.pool.Query(ctx, `SELECT term_a, term_b, density FROM corpus_term_cooccurrence`)
	if err != nil {
		return nil, fmt.Errorf("failed to query co-occurrence stats: %w", err)
	}
	for coRows.Next() {
		var a, b string
		var density float64
		if err := coRows.Scan(&a, &b, &density); err != nil {
			coRows.Close()
			return nil, fmt.Errorf("failed to scan co-occurrence stats: %w", err)
		}
		termCo[pairKey(a, b)] = density
	}
	coRows.Close()
	if err := coRows.Err(); err != nil {
		return nil, fmt.Errorf("co-occurrence scan error: %w", err)
	}

	return &Snapshot{TotalDocuments: totalDocs, termDF: termDF, termCo: termCo}, nil
}

var _ StatsSource = (*PostgresStatsSource)(nil)
