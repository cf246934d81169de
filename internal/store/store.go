package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragma is a connection setting and the value PRAGMA reports once applied.
type pragma struct {
	name, value, reads string
}

// A queue acknowledges an Append only after it is on disk, so synchronous
// is FULL rather than NORMAL.
var pragmas = []pragma{
	{"journal_mode", "WAL", "wal"},
	{"synchronous", "FULL", "2"},
	{"busy_timeout", "5000", "5000"},
}

// migration upgrades a queue file written by an older release.
// migrations[i] moves user_version from i to i+1.
type migration struct {
	name string
	stmt string
}

var migrations = []migration{
	{
		name: "bucket index",
		stmt: `CREATE INDEX IF NOT EXISTS idx_pending_tasks_bucket
			ON pending_tasks(scope_id, entity_id)`,
	},
}

// currentSchemaVersion is the user_version of a fully migrated file.
var currentSchemaVersion = len(migrations)

// Store is the durable pending-task queue.
// Safe for concurrent use; all access goes through one SQLite connection.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the queue file at path and brings its schema up to
// date. Reopening a path is how a restart recovers the pending queue, so
// Open on an existing file never touches the rows.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storageErr("open", 0, err)
	}

	// One connection serialises appends and removals; seq order is the
	// queue order, and SQLITE_BUSY never reaches callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("open", 0, fmt.Errorf("connect: %w", err))
	}

	for _, step := range []func(*sql.DB) error{applyPragmas, applySchema, migrate} {
		if err := step(db); err != nil {
			db.Close()
			return nil, storageErr("open", 0, err)
		}
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the connection. Later calls are no-ops.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the file the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// applyPragmas sets each pragma and reads it back. A filesystem that cannot
// hold a WAL file reports another journal mode; that is an open failure.
func applyPragmas(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
		if err := checkPragma(db, p.name, p.reads); err != nil {
			return err
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// migrate runs the migrations the file has not seen yet. Each one commits
// together with its user_version, so a crash mid-upgrade resumes at the
// first step that did not finish.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("queue file is schema v%d, newer than this build (v%d)", version, currentSchemaVersion)
	}

	for i := version; i < currentSchemaVersion; i++ {
		m := migrations[i]
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate v%d (%s): %w", i+1, m.name, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate v%d (%s): %w", i+1, m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate v%d (%s): set user_version: %w", i+1, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate v%d (%s): %w", i+1, m.name, err)
		}
	}
	return nil
}

func checkPragma(db *sql.DB, name, want string) error {
	var got string
	if err := db.QueryRow("PRAGMA " + name).Scan(&got); err != nil {
		return fmt.Errorf("read pragma %s: %w", name, err)
	}
	if got != want {
		return fmt.Errorf("pragma %s = %q, want %q", name, got, want)
	}
	return nil
}

// verifyPragma reports whether the open connection still has name = want.
func (s *Store) verifyPragma(name, want string) error {
	return checkPragma(s.db, name, want)
}
