package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

// schema defines every table of the record store. Timestamps are Unix
// milliseconds; list and map fields are JSON columns. Referential
// integrity is enforced at the application level inside each write
// transaction.
const schema = `
CREATE TABLE IF NOT EXISTS reflections (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    encrypted INTEGER NOT NULL DEFAULT 0,
    layer TEXT NOT NULL,
    modality TEXT NOT NULL,
    thread_id TEXT,
    identity_axis_id TEXT,
    tags TEXT,
    visible INTEGER NOT NULL DEFAULT 1,
    metadata TEXT,
    rev INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reflections_created ON reflections(created_at);
CREATE INDEX IF NOT EXISTS idx_reflections_thread ON reflections(thread_id);
CREATE INDEX IF NOT EXISTS idx_reflections_layer ON reflections(layer);
CREATE INDEX IF NOT EXISTS idx_reflections_visible ON reflections(visible);

CREATE TABLE IF NOT EXISTS threads (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    member_ids TEXT NOT NULL,
    tags TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threads_created ON threads(created_at);

CREATE TABLE IF NOT EXISTS identity_axes (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    value TEXT,
    color TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Singleton row, keyed by a fixed id.
CREATE TABLE IF NOT EXISTS user_settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    theme TEXT NOT NULL,
    high_contrast INTEGER NOT NULL DEFAULT 0,
    font_scale REAL NOT NULL DEFAULT 1.0,
    default_layer TEXT NOT NULL,
    default_modality TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Append-only; no update or delete statements exist for this table.
CREATE TABLE IF NOT EXISTS consent_records (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    accepted INTEGER NOT NULL,
    ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_consent_ts ON consent_records(ts);

CREATE TABLE IF NOT EXISTS sync_boundaries (
    layer TEXT PRIMARY KEY,
    allowed INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Store is the sovereign record store handle. Construct one at process
// start and pass it by reference; initialization happens in the
// constructor, never as a side effect of first use.
//
// All operations are logically serialized per collection: every write
// opens its own short-lived transaction and either fully commits or
// fully aborts.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	log    *zap.Logger
	dbPath string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a structured logger. Without it the store is
// silent.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open creates or opens the record store at path. Use ":memory:" for an
// ephemeral store in tests. Safe to call repeatedly on the same path;
// schema creation is idempotent.
func Open(path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// and gives the per-collection ordering guarantee.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db, log: zap.NewNop(), dbPath: path}
	for _, opt := range opts {
		opt(s)
	}
	s.log.Debug("store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// withTx runs fn inside a write transaction. The transaction commits
// only if fn returns nil; any failure rolls back and surfaces as
// ErrTransactionAborted unless fn returned a typed store error.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return abortErr(op, err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return abortErr(op, err)
	}
	return nil
}

// ===========================================================================
// Stats and bulk maintenance
// ===========================================================================

// GetStats counts every collection.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, c := range []struct {
		table string
		dst   *int64
	}{
		{"reflections", &st.Reflections},
		{"threads", &st.Threads},
		{"identity_axes", &st.IdentityAxes},
		{"consent_records", &st.ConsentRecords},
	} {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return st, nil
}

// ClearAll wipes every collection, including settings, consent history
// and boundary toggles. The UI confirms before calling; the store
// executes unconditionally once called.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "clear all", func(tx *sql.Tx) error {
		for _, table := range []string{
			"reflections", "threads", "identity_axes",
			"user_settings", "consent_records", "sync_boundaries", "meta",
		} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return abortErr("clear "+table, err)
			}
		}
		s.log.Info("store cleared")
		return nil
	})
}

// ===========================================================================
// Meta flags
// ===========================================================================

// SetMeta persists a small engine flag (suggestion dismissal and the
// like). Not part of the user-facing data model.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "set meta", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			return abortErr("set meta", err)
		}
		return nil
	})
}

// GetMeta reads a flag; missing keys return "".
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta: %w", err)
	}
	return value, nil
}

// DeleteMeta removes a flag. Used only by test reset paths.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "delete meta", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM meta WHERE key = ?", key); err != nil {
			return abortErr("delete meta", err)
		}
		return nil
	})
}

// ===========================================================================
// Helpers
// ===========================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// millis converts a timestamp for storage; zero times stay zero.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromMillis restores a native time from storage. All reads surface
// time.Time so consumers never re-parse dates.
func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// marshalJSON serializes a list/map column; empty values store as NULL.
func marshalJSON(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal column: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}
