// Package store persists scheduled events in SQLite.
//
// Rolling an event forward never rewrites or deletes the lapsed row: the old
// occurrence is flagged superseded and the new one is inserted with its own
// id, both in one transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	appLog "github.com/RTSDA/RTSDA-Android-sub001/internal/log"
	"github.com/RTSDA/RTSDA-Android-sub001/internal/model"
)

var (
	// ErrNotFound is returned when no event has the requested id.
	ErrNotFound = errors.New("store: event not found")

	// ErrConflict is returned when an id is already taken, or when an event
	// being advanced was already superseded by a concurrent sweep.
	ErrConflict = errors.New("store: conflict")
)

// timeLayout is fixed width and always UTC so that stored values sort and
// compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Filter narrows List. Zero values mean "no bound".
type Filter struct {
	// From and Until select events whose start lies in [From, Until).
	From  time.Time
	Until time.Time

	// RecurringOnly drops events whose rule is RuleNone.
	RecurringOnly bool

	// IncludeSuperseded also returns occurrences that were rolled forward.
	IncludeSuperseded bool

	Limit int
}

// Store is a SQLite-backed event store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps a ":memory:" database from splitting across
	// connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	appLog.Debug("store: opened", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			location    TEXT NOT NULL DEFAULT '',
			start_at    TEXT NOT NULL,
			end_at      TEXT NOT NULL,
			recurrence  TEXT NOT NULL DEFAULT 'none',
			parent_id   TEXT NOT NULL DEFAULT '',
			superseded  INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_start_at ON events(start_at);
		CREATE INDEX IF NOT EXISTS idx_events_lapsed ON events(superseded, recurrence, start_at);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts e. An empty ID is replaced with a new UUID and written back
// to e. A duplicate id fails with ErrConflict.
func (s *Store) Create(ctx context.Context, e *model.ScheduledEvent) error {
	if err := prepare(e); err != nil {
		return err
	}
	if err := s.insert(ctx, s.db, "INSERT", e); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: id %q already exists", ErrConflict, e.ID)
		}
		return err
	}
	return nil
}

// CreateIfAbsent inserts e unless an event with the same id exists, in which
// case the stored row is left alone and false is returned.
func (s *Store) CreateIfAbsent(ctx context.Context, e *model.ScheduledEvent) (bool, error) {
	if err := prepare(e); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, insertSQL("INSERT OR IGNORE"), s.args(e)...)
	if err != nil {
		return false, fmt.Errorf("failed to store event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to store event: %w", err)
	}
	return n == 1, nil
}

// Get returns the event with id, superseded or not.
func (s *Store) Get(ctx context.Context, id string) (model.ScheduledEvent, error) {
	row := s.db.QueryRowContext(ctx, selectSQL+` WHERE id = ?`, id)
	e, _, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduledEvent{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return model.ScheduledEvent{}, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// Superseded reports whether the event with id has been rolled forward.
func (s *Store) Superseded(ctx context.Context, id string) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT superseded FROM events WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to get event: %w", err)
	}
	return v != 0, nil
}

// List returns events matching f ordered by start time.
func (s *Store) List(ctx context.Context, f Filter) ([]model.ScheduledEvent, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeSuperseded {
		where = append(where, "superseded = 0")
	}
	if f.RecurringOnly {
		where = append(where, "recurrence <> ?")
		args = append(args, string(model.RuleNone))
	}
	if !f.From.IsZero() {
		where = append(where, "start_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.Until.IsZero() {
		where = append(where, "start_at < ?")
		args = append(args, formatTime(f.Until))
	}

	q := selectSQL
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY start_at, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.query(ctx, q, args...)
}

// Lapsed returns the live recurring events whose start is before asOf, that
// is, the events a sweep should roll forward.
func (s *Store) Lapsed(ctx context.Context, asOf time.Time) ([]model.ScheduledEvent, error) {
	return s.query(ctx, selectSQL+`
		WHERE superseded = 0 AND recurrence <> ? AND start_at < ?
		ORDER BY start_at, id`,
		string(model.RuleNone), formatTime(asOf),
	)
}

// Advance marks oldID superseded and inserts next in one transaction. An
// empty next.ID is assigned a new UUID. If oldID was already superseded the
// call fails with ErrConflict and nothing is written.
func (s *Store) Advance(ctx context.Context, oldID string, next *model.ScheduledEvent) error {
	if err := prepare(next); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE events SET superseded = 1 WHERE id = ? AND superseded = 0`, oldID)
	if err != nil {
		return fmt.Errorf("failed to supersede event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to supersede event: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM events WHERE id = ?`, oldID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to supersede event: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("%w: %q", ErrNotFound, oldID)
		}
		return fmt.Errorf("%w: %q already superseded", ErrConflict, oldID)
	}

	if err := s.insert(ctx, tx, "INSERT", next); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: id %q already exists", ErrConflict, next.ID)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit advance: %w", err)
	}
	return nil
}

// Delete removes the event with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, ex execer, verb string, e *model.ScheduledEvent) error {
	if _, err := ex.ExecContext(ctx, insertSQL(verb), s.args(e)...); err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

func (s *Store) args(e *model.ScheduledEvent) []any {
	return []any{
		e.ID,
		e.Title,
		e.Description,
		e.Location,
		formatTime(e.Start),
		formatTime(e.End),
		string(e.Recurrence),
		e.ParentID,
		formatTime(s.now()),
	}
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.ScheduledEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	out := make([]model.ScheduledEvent, 0)
	for rows.Next() {
		e, _, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return out, nil
}

const selectSQL = `SELECT id, title, description, location, start_at, end_at, recurrence, parent_id, superseded FROM events`

func insertSQL(verb string) string {
	return verb + ` INTO events (
		id, title, description, location, start_at, end_at, recurrence, parent_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (model.ScheduledEvent, bool, error) {
	var (
		e               model.ScheduledEvent
		start, end, rec string
		superseded      int
	)
	if err := sc.Scan(&e.ID, &e.Title, &e.Description, &e.Location, &start, &end, &rec, &e.ParentID, &superseded); err != nil {
		return e, false, err
	}

	var err error
	if e.Start, err = parseTime(start); err != nil {
		return e, false, fmt.Errorf("event %q start: %w", e.ID, err)
	}
	if e.End, err = parseTime(end); err != nil {
		return e, false, fmt.Errorf("event %q end: %w", e.ID, err)
	}
	if e.Recurrence, err = model.ParseRule(rec); err != nil {
		// Keep the row readable; an unknown rule is treated as one-off.
		appLog.Warn("store: unknown recurrence rule", "id", e.ID, "rule", rec)
		e.Recurrence = model.RuleNone
	}
	return e, superseded != 0, nil
}

// prepare validates e and assigns an id when it has none.
func prepare(e *model.ScheduledEvent) error {
	if e == nil {
		return errors.New("store: nil event")
	}
	if strings.TrimSpace(e.Title) == "" {
		return errors.New("store: event title is required")
	}
	if e.Start.IsZero() {
		return errors.New("store: event start is required")
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("store: event %q ends before it starts", e.Title)
	}
	if e.Recurrence == "" {
		e.Recurrence = model.RuleNone
	}
	if !e.Recurrence.Valid() {
		return fmt.Errorf("store: unknown recurrence rule %q", e.Recurrence)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
