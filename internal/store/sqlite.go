package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteStore implements MetadataStore on a single SQLite database in
// WAL mode. One writer connection keeps lock contention out; readers in
// the same process share it through database/sql.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the metadata database at path.
// An empty path creates an in-memory database for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite, DSN params
	// may be ignored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates all tables. Timestamps are stored as Unix
// nanoseconds (0 means unset).
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		url          TEXT NOT NULL DEFAULT '',
		kind         TEXT NOT NULL,
		root_path    TEXT NOT NULL DEFAULT '',
		last_commit  TEXT NOT NULL DEFAULT '',
		build_id     TEXT NOT NULL DEFAULT '',
		file_count   INTEGER NOT NULL DEFAULT 0,
		chunk_count  INTEGER NOT NULL DEFAULT 0,
		indexed_at   INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		repository_id   TEXT NOT NULL,
		build_id        TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		error           TEXT NOT NULL DEFAULT '',
		files_total     INTEGER NOT NULL DEFAULT 0,
		files_processed INTEGER NOT NULL DEFAULT 0,
		chunks_total    INTEGER NOT NULL DEFAULT 0,
		chunks_embedded INTEGER NOT NULL DEFAULT 0,
		started_at      INTEGER NOT NULL DEFAULT 0,
		finished_at     INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_repository
		ON sessions(repository_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS files (
		id            TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL,
		path          TEXT NOT NULL,
		size          INTEGER NOT NULL DEFAULT 0,
		mod_time      INTEGER NOT NULL DEFAULT 0,
		content_hash  TEXT NOT NULL DEFAULT '',
		language      TEXT NOT NULL DEFAULT '',
		indexed_at    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_files_repository ON files(repository_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id            TEXT PRIMARY KEY,
		repository_id TEXT NOT NULL,
		file_path     TEXT NOT NULL,
		content       TEXT NOT NULL,
		language      TEXT NOT NULL DEFAULT '',
		content_type  TEXT NOT NULL DEFAULT 'text',
		start_line    INTEGER NOT NULL DEFAULT 0,
		end_line      INTEGER NOT NULL DEFAULT 0,
		token_count   INTEGER NOT NULL DEFAULT 0,
		metadata      TEXT NOT NULL DEFAULT '{}',
		created_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_repository ON chunks(repository_id);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Repository operations ---

// SaveRepository inserts or updates a repository. CreatedAt is preserved
// on update, UpdatedAt is always set to now.
func (s *SQLiteStore) SaveRepository(ctx context.Context, repo *Repository) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories
			(id, name, url, kind, root_path, last_commit, build_id,
			 file_count, chunk_count, indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			kind = excluded.kind,
			root_path = excluded.root_path,
			last_commit = excluded.last_commit,
			build_id = excluded.build_id,
			file_count = excluded.file_count,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at,
			updated_at = excluded.updated_at`,
		repo.ID, repo.Name, repo.URL, repo.Kind, repo.RootPath, repo.LastCommit,
		repo.BuildID, repo.FileCount, repo.ChunkCount,
		timeToNanos(repo.IndexedAt), timeToNanos(repo.CreatedAt), timeToNanos(repo.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save repository %s: %w", repo.ID, err)
	}
	return nil
}

// GetRepository returns a repository by ID, or ErrNotFound.
func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, url, kind, root_path, last_commit, build_id,
		       file_count, chunk_count, indexed_at, created_at, updated_at
		FROM repositories WHERE id = ?`, id)
	return scanRepository(row)
}

// ListRepositories returns all repositories, most recently updated first.
func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, kind, root_path, last_commit, build_id,
		       file_count, chunk_count, indexed_at, created_at, updated_at
		FROM repositories ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// UpdateRepositoryBuild marks a new build as ready for a repository.
func (s *SQLiteStore) UpdateRepositoryBuild(ctx context.Context, id, buildID string, fileCount, chunkCount int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := timeToNanos(time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE repositories
		SET build_id = ?, file_count = ?, chunk_count = ?, indexed_at = ?, updated_at = ?
		WHERE id = ?`,
		buildID, fileCount, chunkCount, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update repository build: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("repository %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteRepository removes a repository and all its sessions, files and
// chunks in one transaction.
func (s *SQLiteStore) DeleteRepository(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM chunks WHERE repository_id = ?`,
		`DELETE FROM files WHERE repository_id = ?`,
		`DELETE FROM sessions WHERE repository_id = ?`,
		`DELETE FROM repositories WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete repository %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	slog.Debug("repository_deleted", slog.String("repository", id))
	return nil
}

// --- Session operations ---

// CreateSession records a new ingest session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if session.Status == "" {
		session.Status = SessionPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, repository_id, build_id, status, error,
			 files_total, files_processed, chunks_total, chunks_embedded,
			 started_at, finished_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.RepositoryID, session.BuildID, session.Status, session.Error,
		session.FilesTotal, session.FilesProcessed, session.ChunksTotal, session.ChunksEmbedded,
		timeToNanos(session.StartedAt), timeToNanos(session.FinishedAt), timeToNanos(session.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession returns a session by ID, or ErrNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, repository_id, build_id, status, error,
		       files_total, files_processed, chunks_total, chunks_embedded,
		       started_at, finished_at, created_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns a repository's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, repositoryID string, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, build_id, status, error,
		       files_total, files_processed, chunks_total, chunks_embedded,
		       started_at, finished_at, created_at
		FROM sessions WHERE repository_id = ?
		ORDER BY created_at DESC LIMIT ?`, repositoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ActiveSession returns the newest pending or processing session for a
// repository, or nil when the repository has no ingest in flight.
func (s *SQLiteStore) ActiveSession(ctx context.Context, repositoryID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, repository_id, build_id, status, error,
		       files_total, files_processed, chunks_total, chunks_embedded,
		       started_at, finished_at, created_at
		FROM sessions
		WHERE repository_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		repositoryID, SessionPending, SessionProcessing)

	sess, err := scanSession(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// UpdateSessionStatus transitions a session. Moving to processing stamps
// started_at, moving to a terminal state stamps finished_at.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id, status, errMsg string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := timeToNanos(time.Now())
	var res sql.Result
	var err error

	switch status {
	case SessionProcessing:
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, error = ?,
				started_at = CASE WHEN started_at = 0 THEN ? ELSE started_at END
			WHERE id = ?`, status, errMsg, now, id)
	case SessionSuccess, SessionFailed, SessionCancelled:
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, error = ?, finished_at = ?
			WHERE id = ?`, status, errMsg, now, id)
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, error = ? WHERE id = ?`, status, errMsg, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateSessionProgress updates counters for a running session.
func (s *SQLiteStore) UpdateSessionProgress(ctx context.Context, id string, filesProcessed, chunksTotal, chunksEmbedded int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET files_processed = ?, chunks_total = ?, chunks_embedded = ?
		WHERE id = ?`, filesProcessed, chunksTotal, chunksEmbedded, id)
	if err != nil {
		return fmt.Errorf("failed to update session progress: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- File operations ---

// SaveFiles upserts file records in one transaction.
func (s *SQLiteStore) SaveFiles(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO files
			(id, repository_id, path, size, mod_time, content_hash, language, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			language = excluded.language,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare file insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.ExecContext(ctx,
			f.ID, f.RepositoryID, f.Path, f.Size, timeToNanos(f.ModTime),
			f.ContentHash, f.Language, timeToNanos(f.IndexedAt)); err != nil {
			return fmt.Errorf("failed to save file %s: %w", f.Path, err)
		}
	}

	return tx.Commit()
}

// GetFilesByRepository returns all tracked files keyed by path.
func (s *SQLiteStore) GetFilesByRepository(ctx context.Context, repositoryID string) (map[string]*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, path, size, mod_time, content_hash, language, indexed_at
		FROM files WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := make(map[string]*File)
	for rows.Next() {
		var f File
		var modTime, indexedAt int64
		if err := rows.Scan(&f.ID, &f.RepositoryID, &f.Path, &f.Size, &modTime,
			&f.ContentHash, &f.Language, &indexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		f.ModTime = nanosToTime(modTime)
		f.IndexedAt = nanosToTime(indexedAt)
		files[f.Path] = &f
	}
	return files, rows.Err()
}

// DeleteFilesByRepository removes all file records for a repository.
func (s *SQLiteStore) DeleteFilesByRepository(ctx context.Context, repositoryID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return fmt.Errorf("failed to delete files: %w", err)
	}
	return nil
}

// --- Chunk operations ---

// SaveChunks upserts chunks in one transaction. Chunk metadata is stored
// as JSON.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks
			(id, repository_id, file_path, content, language, content_type,
			 start_line, end_line, token_count, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			language = excluded.language,
			content_type = excluded.content_type,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			token_count = excluded.token_count,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := encodeChunkMetadata(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for chunk %s: %w", c.ID, err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.RepositoryID, c.FilePath, c.Content, c.Language, string(c.ContentType),
			c.StartLine, c.EndLine, c.TokenCount, meta, timeToNanos(createdAt)); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetChunk returns a chunk by ID, or ErrNotFound.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, repository_id, file_path, content, language, content_type,
		       start_line, end_line, token_count, metadata, created_at
		FROM chunks WHERE id = ?`, id)
	return scanChunk(row)
}

// GetChunksByRepository returns all chunks for a repository, ordered by
// chunk ID.
func (s *SQLiteStore) GetChunksByRepository(ctx context.Context, repositoryID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repository_id, file_path, content, language, content_type,
		       start_line, end_line, token_count, metadata, created_at
		FROM chunks WHERE repository_id = ? ORDER BY id`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunksByRepository removes all chunks for a repository.
func (s *SQLiteStore) DeleteChunksByRepository(ctx context.Context, repositoryID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// --- State operations ---

// GetState returns the value for a state key, or empty string when the
// key does not exist.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a state key-value pair.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// --- scan helpers ---

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*Repository, error) {
	var repo Repository
	var indexedAt, createdAt, updatedAt int64
	err := row.Scan(&repo.ID, &repo.Name, &repo.URL, &repo.Kind, &repo.RootPath,
		&repo.LastCommit, &repo.BuildID, &repo.FileCount, &repo.ChunkCount,
		&indexedAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}
	repo.IndexedAt = nanosToTime(indexedAt)
	repo.CreatedAt = nanosToTime(createdAt)
	repo.UpdatedAt = nanosToTime(updatedAt)
	return &repo, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var startedAt, finishedAt, createdAt int64
	err := row.Scan(&sess.ID, &sess.RepositoryID, &sess.BuildID, &sess.Status, &sess.Error,
		&sess.FilesTotal, &sess.FilesProcessed, &sess.ChunksTotal, &sess.ChunksEmbedded,
		&startedAt, &finishedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.StartedAt = nanosToTime(startedAt)
	sess.FinishedAt = nanosToTime(finishedAt)
	sess.CreatedAt = nanosToTime(createdAt)
	return &sess, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var chunk Chunk
	var contentType, meta string
	var createdAt int64
	err := row.Scan(&chunk.ID, &chunk.RepositoryID, &chunk.FilePath, &chunk.Content,
		&chunk.Language, &contentType, &chunk.StartLine, &chunk.EndLine,
		&chunk.TokenCount, &meta, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	chunk.ContentType = ContentType(contentType)
	chunk.CreatedAt = nanosToTime(createdAt)
	if chunk.Metadata, err = decodeChunkMetadata(meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for chunk %s: %w", chunk.ID, err)
	}
	return &chunk, nil
}

func encodeChunkMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeChunkMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
