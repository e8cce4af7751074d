// Package audit persists a record of every schedule-entry run and every
// PoDLE commitment spent, via a connection-pool-and-transactional-insert
// pattern over two tables: schedule_runs and used_commitments.
package audit

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is executed once at startup by InitSchema — inlined here
// since this module carries no separate .sql asset.
const schema = `
CREATE TABLE IF NOT EXISTS schedule_runs (
	run_id           UUID PRIMARY KEY,
	mixdepth         INT NOT NULL,
	cj_amount        BIGINT NOT NULL,
	n_counterparties INT NOT NULL,
	destination      TEXT NOT NULL,
	success          BOOLEAN NOT NULL,
	txid             TEXT NOT NULL DEFAULT '',
	fail_reason      TEXT NOT NULL DEFAULT '',
	started_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS used_commitments (
	commitment  TEXT PRIMARY KEY,
	run_id      UUID NOT NULL REFERENCES schedule_runs(run_id),
	used_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Store is the pgx-backed audit trail: one row per completed-or-aborted
// Taker run, plus a table of spent PoDLE commitments that complements
// (does not replace) podle.Store's file-based external-commitment
// tracking — podle.Store is consulted synchronously during proof
// generation; Store records the outcome afterward for operator review.
type Store struct {
	pool *pgxpool.Pool
}

// Connect dials the pool, pings it, and fails loudly rather than
// returning a half-usable pool.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	log.Println("audit: connected to PostgreSQL")
	return &Store{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates schedule_runs/used_commitments if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	log.Println("audit: schema initialized")
	return nil
}

// RunRecord is the row inserted when a schedule entry starts; FinishRun
// updates it once the Taker's OnFinished callback fires.
type RunRecord struct {
	RunID           uuid.UUID
	Mixdepth        int
	CJAmount        int64
	NCounterparties int
	Destination     string
}

// StartRun inserts a new in-progress run row keyed by r.RunID, which
// the caller supplies.
func (s *Store) StartRun(ctx context.Context, r RunRecord) error {
	const sql = `
		INSERT INTO schedule_runs (run_id, mixdepth, cj_amount, n_counterparties, destination, success)
		VALUES ($1, $2, $3, $4, $5, false)
	`
	_, err := s.pool.Exec(ctx, sql, r.RunID, r.Mixdepth, r.CJAmount, r.NCounterparties, r.Destination)
	if err != nil {
		return fmt.Errorf("audit: start run: %w", err)
	}
	return nil
}

// FinishRun records the terminal outcome of a run.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, success bool, txid, failReason string) error {
	const sql = `
		UPDATE schedule_runs
		SET success = $2, txid = $3, fail_reason = $4, finished_at = NOW()
		WHERE run_id = $1
	`
	_, err := s.pool.Exec(ctx, sql, runID, success, txid, failReason)
	if err != nil {
		return fmt.Errorf("audit: finish run: %w", err)
	}
	return nil
}

// RecordCommitmentUsed logs a spent PoDLE commitment against the run
// that spent it, within the same transaction as the run's own
// bookkeeping would be if one were in flight — here a standalone
// statement since a commitment is recorded once, at generation time.
func (s *Store) RecordCommitmentUsed(ctx context.Context, commitment string, runID uuid.UUID) error {
	const sql = `
		INSERT INTO used_commitments (commitment, run_id)
		VALUES ($1, $2)
		ON CONFLICT (commitment) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, sql, commitment, runID)
	if err != nil {
		return fmt.Errorf("audit: record commitment used: %w", err)
	}
	return nil
}

// RunSummary is a row returned by RecentRuns for the operator console.
type RunSummary struct {
	RunID           uuid.UUID `json:"runId"`
	Mixdepth        int       `json:"mixdepth"`
	CJAmount        int64     `json:"cjAmount"`
	NCounterparties int       `json:"nCounterparties"`
	Destination     string    `json:"destination"`
	Success         bool      `json:"success"`
	Txid            string    `json:"txid"`
	FailReason      string    `json:"failReason"`
}

// RecentRuns lists the most recent schedule runs, newest first, for the
// operator console's run-history view.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	const sql = `
		SELECT run_id, mixdepth, cj_amount, n_counterparties, destination, success, txid, fail_reason
		FROM schedule_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Mixdepth, &r.CJAmount, &r.NCounterparties, &r.Destination, &r.Success, &r.Txid, &r.FailReason); err != nil {
			return nil, fmt.Errorf("audit: scan run: %w", err)
		}
		out = append(out, r)
	}
	if out == nil {
		out = []RunSummary{}
	}
	return out, rows.Err()
}

// CommitmentUsed reports whether commitment has already been spent by a
// prior run, the reuse check podle.Generate makes against the
// file-based store, here queryable cross-process for an operator audit.
func (s *Store) CommitmentUsed(ctx context.Context, commitment string) (bool, error) {
	const sql = `SELECT EXISTS(SELECT 1 FROM used_commitments WHERE commitment = $1)`
	var used bool
	if err := s.pool.QueryRow(ctx, sql, commitment).Scan(&used); err != nil {
		return false, fmt.Errorf("audit: commitment used: %w", err)
	}
	return used, nil
}
