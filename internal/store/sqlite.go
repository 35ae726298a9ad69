// Package store persists security events, thread states, trust score
// history, and consumed rate slots in SQLite. The engine runs entirely
// in memory; the store exists so a restart can rebuild that state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/mailwarden/internal/ledger"
	"github.com/ppiankov/mailwarden/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS security_events (
    id          TEXT PRIMARY KEY,
    thread_id   TEXT NOT NULL,
    type        TEXT NOT NULL,
    severity    TEXT NOT NULL,
    description TEXT NOT NULL,
    quarantined INTEGER NOT NULL DEFAULT 0,
    resolution  TEXT NOT NULL DEFAULT 'unresolved',
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_thread ON security_events(thread_id);
CREATE INDEX IF NOT EXISTS idx_events_resolution ON security_events(resolution);

CREATE TABLE IF NOT EXISTS thread_states (
    thread_id   TEXT PRIMARY KEY,
    state       TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS thread_scores (
    thread_id   TEXT NOT NULL,
    ordinal     INTEGER NOT NULL,
    score       INTEGER NOT NULL,
    PRIMARY KEY (thread_id, ordinal)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    actor   TEXT NOT NULL,
    bucket  TEXT NOT NULL,
    ts      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_bucket ON ledger_entries(actor, bucket);
`

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveEvent inserts a new security event. Events are never deleted.
func (s *Store) SaveEvent(ev model.SecurityEvent) error {
	quarantined := 0
	if ev.Quarantined {
		quarantined = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO security_events (id, thread_id, type, severity, description, quarantined, resolution, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ThreadID, string(ev.Type), string(ev.Severity), ev.Description,
		quarantined, string(ev.Resolution), ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// Event fetches one security event by ID.
func (s *Store) Event(id string) (*model.SecurityEvent, error) {
	row := s.db.QueryRow(`
		SELECT id, thread_id, type, severity, description, quarantined, resolution, created_at
		FROM security_events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("security event %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query security event: %w", err)
	}
	return ev, nil
}

// EventFilter narrows Events queries. Zero values mean no filtering.
type EventFilter struct {
	ThreadID   string
	Unresolved bool
}

// Events lists security events, newest first.
func (s *Store) Events(filter EventFilter) ([]model.SecurityEvent, error) {
	q := `SELECT id, thread_id, type, severity, description, quarantined, resolution, created_at
		FROM security_events WHERE 1=1`
	var args []any
	if filter.ThreadID != "" {
		q += " AND thread_id = ?"
		args = append(args, filter.ThreadID)
	}
	if filter.Unresolved {
		q += " AND resolution = 'unresolved'"
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var out []model.SecurityEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

// ResolveEvent applies a human resolution to an unresolved event.
// Resolving an already-resolved event is an error; resolutions are
// single-shot, like the events they close.
func (s *Store) ResolveEvent(id string, resolution model.Resolution) error {
	switch resolution {
	case model.Approved, model.Dismissed, model.FalsePositive:
	default:
		return fmt.Errorf("invalid resolution %q", resolution)
	}
	res, err := s.db.Exec(`
		UPDATE security_events SET resolution = ?
		WHERE id = ? AND resolution = 'unresolved'`,
		string(resolution), id)
	if err != nil {
		return fmt.Errorf("resolve security event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve security event: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("security event %q not found or already resolved", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*model.SecurityEvent, error) {
	var ev model.SecurityEvent
	var evType, severity, resolution, createdAt string
	var quarantined int
	if err := r.Scan(&ev.ID, &ev.ThreadID, &evType, &severity, &ev.Description,
		&quarantined, &resolution, &createdAt); err != nil {
		return nil, err
	}
	ev.Type = model.EventType(evType)
	ev.Severity = model.Severity(severity)
	ev.Quarantined = quarantined != 0
	ev.Resolution = model.Resolution(resolution)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	ev.CreatedAt = t
	return &ev, nil
}

// SaveThreadState upserts the persisted state of a thread.
func (s *Store) SaveThreadState(threadID string, state model.ThreadState, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO thread_states (thread_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		threadID, string(state), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save thread state: %w", err)
	}
	return nil
}

// ThreadStates returns every persisted thread state for startup restore.
func (s *Store) ThreadStates() (map[string]model.ThreadState, error) {
	rows, err := s.db.Query(`SELECT thread_id, state FROM thread_states`)
	if err != nil {
		return nil, fmt.Errorf("query thread states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.ThreadState)
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("scan thread state: %w", err)
		}
		out[id] = model.ThreadState(state)
	}
	return out, rows.Err()
}

// AppendScore adds one message-level trust score to a thread's history.
func (s *Store) AppendScore(threadID string, score int) error {
	_, err := s.db.Exec(`
		INSERT INTO thread_scores (thread_id, ordinal, score)
		VALUES (?, (SELECT COALESCE(MAX(ordinal), -1) + 1 FROM thread_scores WHERE thread_id = ?), ?)`,
		threadID, threadID, score)
	if err != nil {
		return fmt.Errorf("append thread score: %w", err)
	}
	return nil
}

// ScoresByThread returns all persisted score histories for startup restore.
func (s *Store) ScoresByThread() (map[string][]int, error) {
	rows, err := s.db.Query(`SELECT thread_id, score FROM thread_scores ORDER BY thread_id, ordinal`)
	if err != nil {
		return nil, fmt.Errorf("query thread scores: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]int)
	for rows.Next() {
		var id string
		var score int
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan thread score: %w", err)
		}
		out[id] = append(out[id], score)
	}
	return out, rows.Err()
}

// AppendLedgerEntry persists one consumed rate slot.
func (s *Store) AppendLedgerEntry(e ledger.Entry) error {
	_, err := s.db.Exec(`INSERT INTO ledger_entries (actor, bucket, ts) VALUES (?, ?, ?)`,
		string(e.Actor), e.Bucket, e.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// LedgerEntries returns every persisted rate slot, oldest first.
// Expired buckets are included: the ledger is append-only.
func (s *Store) LedgerEntries() ([]ledger.Entry, error) {
	rows, err := s.db.Query(`SELECT actor, bucket, ts FROM ledger_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var actor, bucket, ts string
		if err := rows.Scan(&actor, &bucket, &ts); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse ledger timestamp: %w", err)
		}
		out = append(out, ledger.Entry{Actor: model.Actor(actor), Bucket: bucket, Timestamp: t})
	}
	return out, rows.Err()
}
