package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/repoqa/repoqa/internal/search"
)

// QueryLog persists retrieval events.
type QueryLog interface {
	// Append writes a batch of events.
	Append(ctx context.Context, events []*search.RetrievalEvent) error

	// Recent returns the newest events, newest first.
	Recent(ctx context.Context, limit int) ([]*search.RetrievalEvent, error)

	// Prune deletes events older than the cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources.
	Close() error
}

// SQLiteQueryLog stores retrieval events in a SQLite table. The schema
// sticks to portable column types so it works under both the pure-Go
// and the CGO SQLite drivers.
type SQLiteQueryLog struct {
	db     *sql.DB
	ownsDB bool
}

var _ QueryLog = (*SQLiteQueryLog)(nil)

// OpenQueryLog opens (or creates) a query log database at path.
func OpenQueryLog(path string) (*SQLiteQueryLog, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open query log: %w", err)
	}
	log, err := NewQueryLog(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.ownsDB = true
	return log, nil
}

// NewQueryLog wraps an existing database handle and ensures the schema.
// The handle stays owned by the caller.
func NewQueryLog(db *sql.DB) (*SQLiteQueryLog, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := initQueryLogSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteQueryLog{db: db}, nil
}

func initQueryLogSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER NOT NULL,
		repository_id TEXT NOT NULL,
		question TEXT NOT NULL,
		build_id TEXT NOT NULL DEFAULT '',
		duration_us INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		considered INTEGER NOT NULL,
		degraded INTEGER NOT NULL DEFAULT 0,
		degraded_reason TEXT NOT NULL DEFAULT '',
		from_cache INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_query_log_at ON query_log(at);
	CREATE INDEX IF NOT EXISTS idx_query_log_repo ON query_log(repository_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create query log schema: %w", err)
	}
	return nil
}

// Append writes a batch of events in one transaction.
func (l *SQLiteQueryLog) Append(ctx context.Context, events []*search.RetrievalEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO query_log (
			at, repository_id, question, build_id, duration_us,
			chunk_count, considered, degraded, degraded_reason,
			from_cache, failed, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.At.UnixMicro(), e.RepositoryID, e.Question, e.BuildID,
			e.Duration.Microseconds(), e.ChunkCount, e.Considered,
			boolToInt(e.Degraded), e.DegradedReason,
			boolToInt(e.FromCache), boolToInt(e.Failed), e.Error)
		if err != nil {
			return fmt.Errorf("insert query log event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Recent returns the newest events, newest first.
func (l *SQLiteQueryLog) Recent(ctx context.Context, limit int) ([]*search.RetrievalEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT at, repository_id, question, build_id, duration_us,
		       chunk_count, considered, degraded, degraded_reason,
		       from_cache, failed, error
		FROM query_log
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer rows.Close()

	var events []*search.RetrievalEvent
	for rows.Next() {
		var e search.RetrievalEvent
		var at, durationUS int64
		var degraded, fromCache, failed int
		if err := rows.Scan(&at, &e.RepositoryID, &e.Question, &e.BuildID, &durationUS,
			&e.ChunkCount, &e.Considered, &degraded, &e.DegradedReason,
			&fromCache, &failed, &e.Error); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.At = time.UnixMicro(at)
		e.Duration = time.Duration(durationUS) * time.Microsecond
		e.Degraded = degraded != 0
		e.FromCache = fromCache != 0
		e.Failed = failed != 0
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Prune deletes events older than the cutoff.
func (l *SQLiteQueryLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM query_log WHERE at < ?`, cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("prune query log: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database if this log opened it.
func (l *SQLiteQueryLog) Close() error {
	if l.ownsDB {
		return l.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
