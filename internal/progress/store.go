package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"playlog/internal/pipeline"
)

// Status enumerates the lifecycle of a lookup key.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	// StatusUnknown is returned for keys the store has never seen.
	StatusUnknown Status = "unknown"
)

// Record is one row of the progress store.
type Record struct {
	Key           string
	Status        Status
	Attempts      int
	FailureReason string
	LastAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store manages durable per-key fetch progress backed by SQLite. Each commit
// is a single upsert in WAL mode, so a process kill leaves either the prior
// status or the new one, never a torn write.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the progress database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "create state directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "open sqlite db", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", fmt.Sprintf("apply pragma %q", pragma), execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "init schema", err)
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Status returns the recorded status for a key, or StatusUnknown when the
// key has never been committed.
func (s *Store) Status(ctx context.Context, key string) (Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM fetch_progress WHERE key = ?`, key).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusUnknown, nil
	}
	if err != nil {
		return StatusUnknown, pipeline.Wrap(pipeline.ErrStorage, "progress", "query status", err)
	}
	return Status(status), nil
}

// Get returns the full record for a key, or nil when unseen.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT key, status, attempts, failure_reason, last_attempt_at, created_at, updated_at
         FROM fetch_progress WHERE key = ?`,
		key,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "get record", err)
	}
	return rec, nil
}

// Commit durably records a status transition for a key. The row is created
// on first commit. A failure here is fatal to the run: callers must abort
// rather than continue with untracked work.
func (s *Store) Commit(ctx context.Context, key string, status Status, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO fetch_progress (key, status, failure_reason, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET
             status = excluded.status,
             failure_reason = excluded.failure_reason,
             updated_at = excluded.updated_at`,
		key,
		status,
		nullableString(reason),
		now,
		now,
	)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "progress", "commit status", err)
	}
	return nil
}

// MarkAttempt records a fetch attempt against a key, creating the record as
// pending on first sighting.
func (s *Store) MarkAttempt(ctx context.Context, key string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO fetch_progress (key, status, attempts, last_attempt_at, created_at, updated_at)
         VALUES (?, ?, 1, ?, ?, ?)
         ON CONFLICT(key) DO UPDATE SET
             attempts = fetch_progress.attempts + 1,
             last_attempt_at = excluded.last_attempt_at,
             updated_at = excluded.updated_at`,
		key,
		StatusPending,
		now,
		now,
		now,
	)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "progress", "mark attempt", err)
	}
	return nil
}

// Pending filters the provided keys down to those not yet done. Input order
// is preserved.
func (s *Store) Pending(ctx context.Context, keys []string) ([]string, error) {
	done, err := s.keysWithStatus(ctx, StatusDone)
	if err != nil {
		return nil, err
	}
	remaining := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := done[key]; ok {
			continue
		}
		remaining = append(remaining, key)
	}
	return remaining, nil
}

// DoneKeys returns the set of keys already committed done.
func (s *Store) DoneKeys(ctx context.Context) (map[string]struct{}, error) {
	return s.keysWithStatus(ctx, StatusDone)
}

func (s *Store) keysWithStatus(ctx context.Context, status Status) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM fetch_progress WHERE status = ?`, status)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "query keys by status", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "scan key", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "iterate keys", err)
	}
	return keys, nil
}

// RetryFailed moves failed keys back to pending. With no arguments every
// failed key is reset; otherwise only the named keys are.
func (s *Store) RetryFailed(ctx context.Context, keys ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(keys) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE fetch_progress
             SET status = ?, failure_reason = NULL, updated_at = ?
             WHERE status = ?`,
			StatusPending,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, pipeline.Wrap(pipeline.ErrStorage, "progress", "retry failed keys", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(keys))
	args := make([]any, 0, len(keys)+3)
	args = append(args, StatusPending, now)
	for _, key := range keys {
		args = append(args, key)
	}
	args = append(args, StatusFailed)
	query := `UPDATE fetch_progress
        SET status = ?, failure_reason = NULL, updated_at = ?
        WHERE key IN (` + placeholders + `) AND status = ?`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, pipeline.Wrap(pipeline.ErrStorage, "progress", "retry selected keys", err)
	}
	return res.RowsAffected()
}

// Failed returns every failed record ordered by key.
func (s *Store) Failed(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT key, status, attempts, failure_reason, last_attempt_at, created_at, updated_at
         FROM fetch_progress WHERE status = ? ORDER BY key`,
		StatusFailed,
	)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "query failed", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "scan failed record", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats returns a count of keys grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM fetch_progress GROUP BY status`)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "stats", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrStorage, "progress", "scan stats", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		key           string
		statusStr     string
		attempts      int
		failureReason sql.NullString
		lastAttemptAt sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(&key, &statusStr, &attempts, &failureReason, &lastAttemptAt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	rec := &Record{
		Key:           key,
		Status:        Status(statusStr),
		Attempts:      attempts,
		FailureReason: failureReason.String,
	}
	if lastAttemptAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastAttemptAt.String); err == nil {
			rec.LastAttemptAt = t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
