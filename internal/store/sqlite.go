package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; transactions never wait on each other for an upgrade.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: dbPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// NewID returns a new lexically sortable record id.
func NewID() string {
	return ulid.Make().String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		seq              INTEGER PRIMARY KEY AUTOINCREMENT,
		id               TEXT NOT NULL UNIQUE,
		memory_type      TEXT NOT NULL,
		kind             TEXT NOT NULL DEFAULT 'note',
		owner_role       TEXT NOT NULL,
		content          TEXT NOT NULL,
		tags             TEXT,
		importance       REAL NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		last_accessed_at TEXT,
		merged_from      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);

	CREATE TABLE IF NOT EXISTS access_rules (
		role        TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		operations  TEXT NOT NULL,
		PRIMARY KEY (role, memory_type)
	);

	CREATE TABLE IF NOT EXISTS knowledge_items (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		source     TEXT NOT NULL,
		version    INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS knowledge_versions (
		item_id      TEXT NOT NULL REFERENCES knowledge_items(id),
		version      INTEGER NOT NULL,
		title        TEXT NOT NULL,
		content      TEXT NOT NULL,
		tags         TEXT,
		status       TEXT NOT NULL DEFAULT 'active',
		dependencies TEXT,
		checksum     TEXT NOT NULL,
		note         TEXT,
		created_at   TEXT NOT NULL,
		PRIMARY KEY (item_id, version)
	);

	CREATE TABLE IF NOT EXISTS knowledge_usage (
		id            TEXT PRIMARY KEY,
		item_id       TEXT NOT NULL,
		plan_id       TEXT,
		content_type  TEXT,
		tags          TEXT,
		effectiveness REAL NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_item ON knowledge_usage(item_id);

	CREATE TABLE IF NOT EXISTS plans (
		id            TEXT PRIMARY KEY,
		template_type TEXT NOT NULL,
		status        TEXT NOT NULL,
		revision      INTEGER NOT NULL DEFAULT 0,
		stamp         INTEGER NOT NULL DEFAULT 0,
		body          TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);

	CREATE TABLE IF NOT EXISTS ledger (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		kind       TEXT NOT NULL,
		subject_id TEXT,
		plan_id    TEXT,
		trace_id   TEXT,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_subject ON ledger(kind, subject_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_plan ON ledger(plan_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release; errors mean they already exist.
	s.db.Exec(`ALTER TABLE plans ADD COLUMN stamp INTEGER NOT NULL DEFAULT 0`)
	s.db.Exec(`ALTER TABLE knowledge_items ADD COLUMN source_checksum TEXT NOT NULL DEFAULT ''`)
	return nil
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// jsonText encodes v for a nullable TEXT column; empty slices become NULL.
func jsonText[T any](v []T) *string {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	s := string(b)
	return &s
}

func decodeJSON[T any](s sql.NullString) []T {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []T
	json.Unmarshal([]byte(s.String), &out)
	return out
}
