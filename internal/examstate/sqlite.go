package examstate

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by an incompatible build.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLite is a Snapshot backed by a local SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the snapshot database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	snap := &SQLite{db: db, path: path}
	if err := snap.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return snap, nil
}

// Path returns the database file location.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset exam state)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *SQLite) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// SaveRoster stores ids and resets the persisted sequence.
func (s *SQLite) SaveRoster(ctx context.Context, examCode string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode roster: %w", err)
	}
	return s.exec(ctx,
		`INSERT INTO exams (exam_code, roster_json, sequence, updated_at) VALUES (?, ?, 0, ?)
         ON CONFLICT(exam_code) DO UPDATE SET roster_json = excluded.roster_json, sequence = 0, updated_at = excluded.updated_at`,
		examCode, string(data), now(),
	)
}

// SaveSequence stores the latest issued ordinal.
func (s *SQLite) SaveSequence(ctx context.Context, examCode string, sequence int) error {
	return s.exec(ctx,
		`INSERT INTO exams (exam_code, sequence, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(exam_code) DO UPDATE SET sequence = excluded.sequence, updated_at = excluded.updated_at`,
		examCode, sequence, now(),
	)
}

// SaveMetadata stores the raw answer metadata document.
func (s *SQLite) SaveMetadata(ctx context.Context, examCode string, raw []byte) error {
	return s.exec(ctx,
		`INSERT INTO exams (exam_code, metadata_json, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(exam_code) DO UPDATE SET metadata_json = excluded.metadata_json, updated_at = excluded.updated_at`,
		examCode, string(raw), now(),
	)
}

// LoadAll returns every persisted exam ordered by code.
func (s *SQLite) LoadAll(ctx context.Context) ([]Record, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT exam_code, roster_json, sequence, metadata_json FROM exams ORDER BY exam_code`)
	if err != nil {
		return nil, fmt.Errorf("load exams: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			roster   sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&rec.ExamCode, &roster, &rec.Sequence, &metadata); err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		if roster.Valid && roster.String != "" {
			if err := json.Unmarshal([]byte(roster.String), &rec.IDs); err != nil {
				return nil, fmt.Errorf("decode roster for %s: %w", rec.ExamCode, err)
			}
		}
		if metadata.Valid {
			rec.Metadata = []byte(metadata.String)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return records, nil
}

func (s *SQLite) exec(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
