package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// RunStore persists run records across processes. Implementations must be
// safe for concurrent use.
type RunStore interface {
	// SaveRun inserts a run record. Saving the same run id again replaces
	// the earlier row.
	SaveRun(ctx context.Context, rec RunRecord) error

	// RecentRuns returns up to limit records, most recent first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Summarize aggregates every run started at or after since. A zero
	// since covers all recorded runs.
	Summarize(ctx context.Context, since time.Time) (*Summary, error)

	// Prune deletes all but the most recent keep runs.
	Prune(ctx context.Context, keep int) error

	// Close releases the store.
	Close() error
}

// Summary aggregates persisted runs over a time range.
type Summary struct {
	Runs            int64              `json:"runs"`
	DistinctQueries int64              `json:"distinct_queries"`
	ZeroDocRuns     int64              `json:"zero_doc_runs"`
	AvgDurationMS   float64            `json:"avg_duration_ms"`
	AvgRounds       float64            `json:"avg_rounds"`
	AvgRerankCalls  float64            `json:"avg_rerank_calls"`
	AvgDocuments    float64            `json:"avg_documents"`
	ExitReasons     map[string]int64   `json:"exit_reasons"`
	BudgetUsed      map[string]float64 `json:"budget_used"`
}

// SQLiteRunStore implements RunStore on a SQLite database. It either owns
// the handle (OpenRunStore) or wraps one shared with a larger store
// (NewRunStore); only an owned handle is closed by Close.
type SQLiteRunStore struct {
	db     *sql.DB
	ownsDB bool
}

// Verify interface implementation at compile time
var _ RunStore = (*SQLiteRunStore)(nil)

// NewRunStore wraps an existing database handle. The schema must already be
// initialized (see InitRunSchema); the caller keeps ownership of the handle.
func NewRunStore(db *sql.DB) (*SQLiteRunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("telemetry: database handle is nil")
	}
	return &SQLiteRunStore{db: db}, nil
}

// OpenRunStore opens (or creates) a run store at path and initializes its
// schema. If path is empty, an in-memory database is used (for testing).
func OpenRunStore(path string) (*SQLiteRunStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}

	// Single writer prevents lock contention under the pure Go driver
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := InitRunSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteRunStore{db: db, ownsDB: true}, nil
}

// InitRunSchema creates the telemetry tables if they do not exist. Callers
// sharing a handle with another store run this once at startup.
func InitRunSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		query_hash   TEXT NOT NULL,
		pipeline     TEXT NOT NULL DEFAULT '',
		started_at   INTEGER NOT NULL,
		duration_ms  REAL NOT NULL,
		rounds       INTEGER NOT NULL,
		rerank_calls INTEGER NOT NULL,
		documents    INTEGER NOT NULL,
		exit_reason  TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_exit_reason ON runs(exit_reason);

	CREATE TABLE IF NOT EXISTS run_budget (
		run_id   TEXT NOT NULL,
		resource TEXT NOT NULL,
		consumed REAL NOT NULL,
		PRIMARY KEY (run_id, resource)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize telemetry schema: %w", err)
	}
	return nil
}

// SaveRun inserts one run and its per-resource budget usage in a single
// transaction.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record has no id")
	}
	if rec.ExitReason == "" {
		rec.ExitReason = ExitUnknown
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, query_hash, pipeline, started_at, duration_ms, rounds, rerank_calls, documents, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			query_hash   = excluded.query_hash,
			pipeline     = excluded.pipeline,
			started_at   = excluded.started_at,
			duration_ms  = excluded.duration_ms,
			rounds       = excluded.rounds,
			rerank_calls = excluded.rerank_calls,
			documents    = excluded.documents,
			exit_reason  = excluded.exit_reason`,
		rec.ID, rec.QueryHash, rec.Pipeline, rec.StartedAt.UnixMilli(),
		float64(rec.Duration)/float64(time.Millisecond),
		rec.Rounds, rec.RerankCalls, rec.Documents, rec.ExitReason)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for resource, consumed := range rec.BudgetUsed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_budget (run_id, resource, consumed)
			VALUES (?, ?, ?)
			ON CONFLICT(run_id, resource) DO UPDATE SET consumed = excluded.consumed`,
			rec.ID, resource, consumed); err != nil {
			return fmt.Errorf("failed to save budget usage for %s: %w", resource, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit records, most recent first, with their
// budget usage attached.
func (s *SQLiteRunStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.query_hash, r.pipeline, r.started_at, r.duration_ms,
		       r.rounds, r.rerank_calls, r.documents, r.exit_reason,
		       b.resource, b.consumed
		FROM (SELECT * FROM runs ORDER BY started_at DESC, id LIMIT ?) r
		LEFT JOIN run_budget b ON b.run_id = r.id
		ORDER BY r.started_at DESC, r.id, b.resource`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	var cur *RunRecord
	for rows.Next() {
		var (
			rec        RunRecord
			startedAt  int64
			durationMS float64
			resource   sql.NullString
			consumed   sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.QueryHash, &rec.Pipeline, &startedAt, &durationMS,
			&rec.Rounds, &rec.RerankCalls, &rec.Documents, &rec.ExitReason,
			&resource, &consumed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if cur == nil || cur.ID != rec.ID {
			rec.StartedAt = time.UnixMilli(startedAt)
			rec.Duration = time.Duration(durationMS * float64(time.Millisecond))
			out = append(out, rec)
			cur = &out[len(out)-1]
		}
		if resource.Valid {
			if cur.BudgetUsed == nil {
				cur.BudgetUsed = make(map[string]float64)
			}
			cur.BudgetUsed[resource.String] = consumed.Float64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent runs: %w", err)
	}
	return out, nil
}

// Summarize aggregates every run started at or after since.
func (s *SQLiteRunStore) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	cutoff := int64(0)
	if !since.IsZero() {
		cutoff = since.UnixMilli()
	}

	sum := &Summary{
		ExitReasons: make(map[string]int64),
		BudgetUsed:  make(map[string]float64),
	}

	var avgDuration, avgRounds, avgReranks, avgDocs sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT query_hash),
		       COALESCE(SUM(CASE WHEN documents = 0 THEN 1 ELSE 0 END), 0),
		       AVG(duration_ms), AVG(rounds), AVG(rerank_calls), AVG(documents)
		FROM runs WHERE started_at >= ?`, cutoff).
		Scan(&sum.Runs, &sum.DistinctQueries, &sum.ZeroDocRuns,
			&avgDuration, &avgRounds, &avgReranks, &avgDocs)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize runs: %w", err)
	}
	sum.AvgDurationMS = avgDuration.Float64
	sum.AvgRounds = avgRounds.Float64
	sum.AvgRerankCalls = avgReranks.Float64
	sum.AvgDocuments = avgDocs.Float64

	reasons, err := s.db.QueryContext(ctx, `
		SELECT exit_reason, COUNT(*) FROM runs
		WHERE started_at >= ? GROUP BY exit_reason`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize exit reasons: %w", err)
	}
	defer reasons.Close()
	for reasons.Next() {
		var reason string
		var count int64
		if err := reasons.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("failed to scan exit reason: %w", err)
		}
		sum.ExitReasons[reason] = count
	}
	if err := reasons.Err(); err != nil {
		return nil, fmt.Errorf("failed to read exit reasons: %w", err)
	}

	budget, err := s.db.QueryContext(ctx, `
		SELECT b.resource, SUM(b.consumed)
		FROM run_budget b
		JOIN runs r ON r.id = b.run_id
		WHERE r.started_at >= ? GROUP BY b.resource`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize budget usage: %w", err)
	}
	defer budget.Close()
	for budget.Next() {
		var resource string
		var consumed float64
		if err := budget.Scan(&resource, &consumed); err != nil {
			return nil, fmt.Errorf("failed to scan budget usage: %w", err)
		}
		sum.BudgetUsed[resource] = consumed
	}
	if err := budget.Err(); err != nil {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return sum, nil
}

// Prune deletes all but the most recent keep runs and their budget rows.
func (s *SQLiteRunStore) Prune(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)`, keep); err != nil {
		return fmt.Errorf("failed to prune runs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM run_budget WHERE run_id NOT IN (SELECT id FROM runs)`); err != nil {
		return fmt.Errorf("failed to prune budget rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit prune: %w", err)
	}
	return nil
}

// Close releases the database handle when this store opened it. A store
// wrapping a shared handle leaves closing to the owner.
func (s *SQLiteRunStore) Close() error {
	if !s.ownsDB || s.db == nil {
		return nil
	}
	return s.db.Close()
}
