// Package history records the terminal outcome of every watched attempt in
// a SQLite database.
//
// The CLI writes one [Entry] per attempt that reached a terminal state
// (cancelled attempts are not recorded). Entries are linked across
// restarts through their previous correlation ID, so a chain of attempts
// for one subject can be reconstructed.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	table        = "attempts"
	defaultLimit = 50

	createTableSQL = `CREATE TABLE IF NOT EXISTS attempts (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id          TEXT    NOT NULL UNIQUE,
	previous_correlation_id TEXT    NOT NULL DEFAULT '',
	job_id                  TEXT    NOT NULL DEFAULT '',
	subject                 TEXT    NOT NULL,
	state                   TEXT    NOT NULL,
	error_kind              TEXT    NOT NULL DEFAULT '',
	error                   TEXT    NOT NULL DEFAULT '',
	poll_attempts           INTEGER NOT NULL DEFAULT 0,
	consecutive_failures    INTEGER NOT NULL DEFAULT 0,
	last_status_code        INTEGER NOT NULL DEFAULT 0,
	payload                 TEXT,
	started_at              INTEGER NOT NULL,
	finished_at             INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS attempts_subject_idx ON attempts (subject, finished_at);`
)

var columns = []string{
	"id", "correlation_id", "previous_correlation_id", "job_id", "subject",
	"state", "error_kind", "error", "poll_attempts", "consecutive_failures",
	"last_status_code", "payload", "started_at", "finished_at",
}

// Entry is one recorded attempt.
type Entry struct {
	ID                    int64           `json:"id"`
	CorrelationID         string          `json:"correlation_id"`
	PreviousCorrelationID string          `json:"previous_correlation_id,omitempty"`
	JobID                 string          `json:"job_id"`
	Subject               string          `json:"subject"`
	State                 string          `json:"state"`
	ErrorKind             string          `json:"error_kind,omitempty"`
	Error                 string          `json:"error,omitempty"`
	PollAttempts          int             `json:"poll_attempts"`
	ConsecutiveFailures   int             `json:"consecutive_failures"`
	LastStatusCode        int             `json:"last_status_code"`
	Payload               json.RawMessage `json:"payload,omitempty"`
	StartedAt             time.Time       `json:"started_at"`
	FinishedAt            time.Time       `json:"finished_at"`
}

// Query filters [Store.List]. Zero values match everything.
type Query struct {
	Subject string
	State   string

	// Limit caps the number of entries returned. Defaults to 50.
	Limit int
}

// Store is a SQLite-backed attempt history.
type Store struct {
	db *sql.DB

	// newBackOff returns the retry policy for busy-database errors.
	newBackOff func() backoff.BackOff
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: database path is empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// one writer keeps SQLite's locking simple
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA journal_mode = WAL`,
		createTableSQL,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: init %s: %w", path, err)
		}
	}

	return &Store{db: db, newBackOff: defaultBackOff}, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores e. Recording the same correlation ID twice replaces the
// earlier entry. Busy-database errors are retried with backoff.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CorrelationID == "" {
		return errors.New("history: entry has no correlation ID")
	}

	var payload interface{}
	if len(e.Payload) > 0 {
		payload = string(e.Payload)
	}

	insert := sq.Insert(table).
		Options("OR REPLACE").
		Columns(columns[1:]...).
		Values(
			e.CorrelationID, e.PreviousCorrelationID, e.JobID, e.Subject,
			e.State, e.ErrorKind, e.Error, e.PollAttempts, e.ConsecutiveFailures,
			e.LastStatusCode, payload, e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(),
		).
		RunWith(s.db)

	op := func() error {
		_, err := insert.ExecContext(ctx)
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("history: record %s: %w", e.CorrelationID, err)
	}
	return nil
}

// List returns entries matching q, most recently finished first.
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	query := sq.Select(columns...).
		From(table).
		OrderBy("finished_at DESC", "id DESC").
		Limit(uint64(limit))
	if q.Subject != "" {
		query = query.Where(sq.Eq{"subject": q.Subject})
	}
	if q.State != "" {
		query = query.Where(sq.Eq{"state": q.State})
	}

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e                     Entry
			payload               sql.NullString
			startedAt, finishedAt int64
		)
		if err := rows.Scan(
			&e.ID, &e.CorrelationID, &e.PreviousCorrelationID, &e.JobID, &e.Subject,
			&e.State, &e.ErrorKind, &e.Error, &e.PollAttempts, &e.ConsecutiveFailures,
			&e.LastStatusCode, &payload, &startedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		e.StartedAt = time.UnixMilli(startedAt).UTC()
		e.FinishedAt = time.UnixMilli(finishedAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return entries, nil
}

// isBusy reports whether err is SQLite's transient lock contention.
func isBusy(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	// extended codes such as SQLITE_BUSY_SNAPSHOT keep the primary code in the low byte
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
