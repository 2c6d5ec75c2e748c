// Package dlq stores announcements that could not be published so they can be
// inspected and requeued later.
package dlq

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rohankatakam/herald/internal/errors"
	"github.com/rohankatakam/herald/internal/models"
)

// ErrNotFound is returned when an entry does not exist or is already resolved
var ErrNotFound = stderrors.New("dead letter not found")

const schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	subject TEXT NOT NULL,
	payload TEXT NOT NULL,
	error_message TEXT NOT NULL,
	rejected BOOLEAN NOT NULL DEFAULT FALSE,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	resolved_at TIMESTAMP NULL
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_pending ON dead_letters (resolved_at, created_at);
`

// Entry represents a dead letter queue entry
type Entry struct {
	ID           string       `db:"id"`
	Kind         string       `db:"kind"`
	Subject      string       `db:"subject"`
	Payload      string       `db:"payload"`
	ErrorMessage string       `db:"error_message"`
	Rejected     bool         `db:"rejected"`
	Attempts     int          `db:"attempts"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
	ResolvedAt   sql.NullTime `db:"resolved_at"`
}

// Announcement decodes the stored payload
func (e Entry) Announcement() (models.Announcement, error) {
	return models.DecodeAnnouncement([]byte(e.Payload))
}

// Stats contains DLQ statistics
type Stats struct {
	Total    int `db:"total"`
	Pending  int `db:"pending"`
	Rejected int `db:"rejected"`
	Resolved int `db:"resolved"`
}

// Options selects the database backing the queue
type Options struct {
	// Driver is one of sqlite3, postgres, pgx
	Driver string
	DSN    string
}

// Queue manages announcements dropped after a terminal post failure
type Queue struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to the configured database and ensures the schema exists
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Queue, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	switch driver {
	case "sqlite3", "postgres", "pgx":
	default:
		return nil, errors.ConfigErrorf("unsupported dlq driver %q (want sqlite3, postgres or pgx)", driver)
	}

	if driver == "sqlite3" && !strings.HasPrefix(opts.DSN, ":memory:") && !strings.HasPrefix(opts.DSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(opts.DSN), 0755); err != nil {
			return nil, errors.StorageError(err, "create dlq directory")
		}
	}

	db, err := sqlx.ConnectContext(ctx, driver, opts.DSN)
	if err != nil {
		return nil, errors.StorageError(err, fmt.Sprintf("connect to %s", driver))
	}
	if driver == "sqlite3" {
		// one connection: keeps :memory: databases shared and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	q := NewQueue(db, logger)
	if err := q.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

// NewQueue wraps an existing connection. Call Migrate before use.
func NewQueue(db *sqlx.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		db:     db,
		logger: logger.With("component", "dlq"),
	}
}

// Migrate creates the table and index when missing
func (q *Queue) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return errors.StorageError(err, "init dlq schema")
		}
	}
	return nil
}

// Enqueue records a dropped announcement
func (q *Queue) Enqueue(ctx context.Context, a models.Announcement, cause error, attempts int) error {
	payload, err := models.EncodeAnnouncement(a)
	if err != nil {
		return fmt.Errorf("failed to encode announcement: %w", err)
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	now := time.Now().UTC()
	id := uuid.NewString()

	_, err = q.db.ExecContext(ctx, q.db.Rebind(`
		INSERT INTO dead_letters (id, kind, subject, payload, error_message, rejected, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), id, string(a.Kind()), a.Subject(), string(payload), msg, errors.IsRejected(cause), attempts, now, now)
	if err != nil {
		return errors.StorageError(err, "enqueue dead letter")
	}

	q.logger.Warn("announcement dead-lettered",
		"id", id,
		"kind", a.Kind(),
		"subject", a.Subject(),
		"attempts", attempts,
		"error", msg,
	)
	return nil
}

const selectColumns = `id, kind, subject, payload, error_message, rejected, attempts, created_at, updated_at, resolved_at`

// Pending returns unresolved, retryable entries, oldest first
func (q *Queue) Pending(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := q.db.SelectContext(ctx, &entries, q.db.Rebind(`
		SELECT `+selectColumns+`
		FROM dead_letters
		WHERE resolved_at IS NULL AND rejected = ?
		ORDER BY created_at ASC
		LIMIT ?
	`), false, normalizeLimit(limit))
	if err != nil {
		return nil, errors.StorageError(err, "query pending dead letters")
	}
	return entries, nil
}

// Recent returns the most recently updated entries, resolved or not
func (q *Queue) Recent(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := q.db.SelectContext(ctx, &entries, q.db.Rebind(`
		SELECT `+selectColumns+`
		FROM dead_letters
		ORDER BY updated_at DESC
		LIMIT ?
	`), normalizeLimit(limit))
	if err != nil {
		return nil, errors.StorageError(err, "query recent dead letters")
	}
	return entries, nil
}

// Get returns one entry by id
func (q *Queue) Get(ctx context.Context, id string) (*Entry, error) {
	var e Entry
	err := q.db.GetContext(ctx, &e, q.db.Rebind(`SELECT `+selectColumns+` FROM dead_letters WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.StorageError(err, "get dead letter")
	}
	return &e, nil
}

// MarkResolved flags an entry as delivered
func (q *Queue) MarkResolved(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := q.db.ExecContext(ctx, q.db.Rebind(`
		UPDATE dead_letters
		SET resolved_at = ?, updated_at = ?
		WHERE id = ? AND resolved_at IS NULL
	`), now, now, id)
	if err != nil {
		return errors.StorageError(err, "resolve dead letter")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	q.logger.Info("dead letter resolved", "id", id)
	return nil
}

// RecordFailure stores the outcome of another failed delivery attempt
func (q *Queue) RecordFailure(ctx context.Context, id string, cause error, attempts int) error {
	result, err := q.db.ExecContext(ctx, q.db.Rebind(`
		UPDATE dead_letters
		SET attempts = attempts + ?, error_message = ?, rejected = ?, updated_at = ?
		WHERE id = ? AND resolved_at IS NULL
	`), attempts, cause.Error(), errors.IsRejected(cause), time.Now().UTC(), id)
	if err != nil {
		return errors.StorageError(err, "update dead letter")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats returns queue statistics
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := q.db.GetContext(ctx, &stats, q.db.Rebind(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN resolved_at IS NULL AND rejected = ? THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN resolved_at IS NULL AND rejected = ? THEN 1 ELSE 0 END), 0) AS rejected,
			COALESCE(SUM(CASE WHEN resolved_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS resolved
		FROM dead_letters
	`), false, true)
	if err != nil {
		return nil, errors.StorageError(err, "get dlq stats")
	}
	return &stats, nil
}

// PurgeOld removes entries created before now-olderThan
func (q *Queue) PurgeOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := q.db.ExecContext(ctx, q.db.Rebind(`
		DELETE FROM dead_letters
		WHERE created_at < ?
	`), cutoff)
	if err != nil {
		return 0, errors.StorageError(err, "purge old dead letters")
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		q.logger.Info("purged old dead letters",
			"count", rows,
			"older_than", olderThan,
		)
	}
	return int(rows), nil
}

// Close closes the database connection
func (q *Queue) Close() error {
	return q.db.Close()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
