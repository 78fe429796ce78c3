// Package postgres provides PostgreSQL storage for attendance sessions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/qrrelay/qrrelay/server/internal/session"
)

const (
	sessionsTable = "attendance_sessions"
	scansTable    = "scan_events"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"site_key", "display_name", "code_id", "secondary_id",
	"observed_time", "is_expired", "created_at", "updated_at",
}

// upsertConflict merges a partial update into an existing row. Supplied scan
// fields always clear is_expired.
const upsertConflict = `ON CONFLICT (site_key) DO UPDATE SET
	display_name = COALESCE(?, attendance_sessions.display_name),
	code_id = COALESCE(EXCLUDED.code_id, attendance_sessions.code_id),
	secondary_id = COALESCE(EXCLUDED.secondary_id, attendance_sessions.secondary_id),
	observed_time = COALESCE(EXCLUDED.observed_time, attendance_sessions.observed_time),
	is_expired = CASE WHEN ? THEN FALSE ELSE attendance_sessions.is_expired END,
	updated_at = NOW()`

// Store implements session.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL session store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load retrieves a session by key. Returns nil, nil if not found.
func (s *Store) Load(ctx context.Context, key string) (*session.Record, error) {
	query, args, err := psq.Select(sessionColumns...).
		From(sessionsTable).
		Where(sq.Eq{"site_key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building load query: %w", err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, &session.StoreError{Op: "loading session", Err: err}
	}
	return rec, nil
}

// Upsert inserts a session or merges a partial update into it.
func (s *Store) Upsert(ctx context.Context, u session.Update) error {
	insertName := session.DefaultDisplayName(u.Key)
	if u.DisplayName != nil {
		insertName = *u.DisplayName
	}

	query, args, err := psq.Insert(sessionsTable).
		Columns("site_key", "display_name", "code_id", "secondary_id", "observed_time", "is_expired", "created_at", "updated_at").
		Values(u.Key, insertName, nullable(u.CodeID), nullable(u.SecondaryID), nullable(u.ObservedTime),
			sq.Expr("FALSE"), sq.Expr("NOW()"), sq.Expr("NOW()")).
		Suffix(upsertConflict, nullable(u.DisplayName), u.HasScan()).
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &session.StoreError{Op: "upserting session", Err: err}
	}
	return nil
}

// SetExpired sets the expired flag on a session.
func (s *Store) SetExpired(ctx context.Context, key string, expired bool) error {
	query, args, err := psq.Update(sessionsTable).
		Set("is_expired", expired).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"site_key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building expire query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &session.StoreError{Op: "updating expired flag", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &session.StoreError{Op: "reading affected rows", Err: err}
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// List returns all sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]*session.Record, error) {
	query, args, err := psq.Select(sessionColumns...).
		From(sessionsTable).
		OrderBy("updated_at DESC", "site_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &session.StoreError{Op: "listing sessions", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*session.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &session.StoreError{Op: "scanning session row", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &session.StoreError{Op: "iterating session rows", Err: err}
	}
	return out, nil
}

// LogScan appends a scan event to the audit table.
func (s *Store) LogScan(ctx context.Context, ev session.ScanEvent) error {
	query, args, err := psq.Insert(scansTable).
		Columns("id", "site_key", "code_id", "secondary_id", "observed_time", "raw", "scanned_at").
		Values(ev.ID, ev.Key, ev.CodeID, ev.SecondaryID, ev.ObservedTime, ev.Raw, ev.ScannedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building scan log query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &session.StoreError{Op: "inserting scan event", Err: err}
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*session.Record, error) {
	var (
		rec                            session.Record
		codeID, secondary, observation sql.NullString
	)
	err := row.Scan(&rec.Key, &rec.DisplayName, &codeID, &secondary,
		&observation, &rec.IsExpired, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.CodeID = codeID.String
	rec.SecondaryID = secondary.String
	rec.ObservedTime = observation.String
	return &rec, nil
}

// nullable converts an optional field to a driver value, NULL when absent.
func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// Verify interface compliance.
var _ session.Store = (*Store)(nil)
