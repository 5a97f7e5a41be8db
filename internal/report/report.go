// Package report aggregates Runner results into the Result Set structure
// external reporters consume, with an
// optional history store for longitudinal compliance tracking.
package report

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gate4ai/mcpconform/internal/catalog"
	"github.com/gate4ai/mcpconform/internal/runner"
	_ "github.com/lib/pq"
)

// Entry is one test's detail within a Result Set.
type Entry struct {
	Name            string  `json:"name"`
	Outcome         string  `json:"outcome"`
	Message         string  `json:"message"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ResultSet is the aggregate produced for one (server, protocol version)
// run: totals, compliance score, and per-test detail.
type ResultSet struct {
	Total           int     `json:"total"`
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	Skipped         int     `json:"skipped"`
	Errored         int     `json:"errored"`
	ComplianceScore float64 `json:"compliance_score"`
	Results         []Entry `json:"results"`
}

// Aggregate converts Runner results into a ResultSet. Compliance score is
// passed ÷ (total − skipped), expressed as a percentage; a run with every
// case skipped (the version under test exercises none of the catalog)
// scores 100 rather than dividing by zero.
func Aggregate(results []runner.Result) ResultSet {
	rs := ResultSet{Total: len(results), Results: make([]Entry, len(results))}
	for i, r := range results {
		rs.Results[i] = Entry{Name: r.Name, Outcome: string(r.Outcome), Message: r.Message, DurationSeconds: r.DurationSeconds}
		switch r.Outcome {
		case catalog.Passed:
			rs.Passed++
		case catalog.Failed:
			rs.Failed++
		case catalog.Skipped:
			rs.Skipped++
		case catalog.Errored:
			rs.Errored++
		}
	}
	denominator := rs.Total - rs.Skipped
	if denominator <= 0 {
		rs.ComplianceScore = 100
	} else {
		rs.ComplianceScore = float64(rs.Passed) / float64(denominator) * 100
	}
	return rs
}

// History persists ResultSets for longitudinal comparison across runs,
// backed by an optional Postgres database is set).
type History struct {
	db *sql.DB
}

// OpenHistory connects to dsn and ensures the results table exists. A blank
// dsn is not an error: callers treat a nil *History as "history disabled".
func OpenHistory(ctx context.Context, dsn string) (*History, error) {
	if dsn == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach history database: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS compliance_runs (
	id SERIAL PRIMARY KEY,
	target TEXT NOT NULL,
	protocol_version TEXT NOT NULL,
	compliance_score DOUBLE PRECISION NOT NULL,
	total INT NOT NULL,
	passed INT NOT NULL,
	failed INT NOT NULL,
	skipped INT NOT NULL,
	errored INT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Record stores one run's aggregate outcome. target identifies the server
// under test (its command line or URL).
func (h *History) Record(ctx context.Context, target, protocolVersion string, rs ResultSet) error {
	if h == nil {
		return nil
	}
	const insert = `
INSERT INTO compliance_runs (target, protocol_version, compliance_score, total, passed, failed, skipped, errored)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := h.db.ExecContext(ctx, insert, target, protocolVersion, rs.ComplianceScore, rs.Total, rs.Passed, rs.Failed, rs.Skipped, rs.Errored)
	return err
}

// Close releases the underlying database connection. Safe to call on a nil
// receiver (history disabled).
func (h *History) Close() error {
	if h == nil {
		return nil
	}
	return h.db.Close()
}

// RecentScores returns the last n compliance scores recorded for target at
// protocolVersion, most recent first, for trend reporting.
func (h *History) RecentScores(ctx context.Context, target, protocolVersion string, n int) ([]float64, error) {
	if h == nil {
		return nil, nil
	}
	const query = `
SELECT compliance_score FROM compliance_runs
WHERE target = $1 AND protocol_version = $2
ORDER BY recorded_at DESC
LIMIT $3`
	rows, err := h.db.QueryContext(ctx, query, target, protocolVersion, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scores []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}
