// Package store implements the embedded local store: filing records, the
// download task queue, per-task logs, and a generic expiring cache. No
// other component touches the database file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// Store is the SQLite-backed local store.
type Store struct {
	db     *sql.DB
	path   string
	clock  edgar.Clock
	logger *zap.Logger
}

// migration is one additive schema step. Steps run once, in order, and a
// failed step is logged and skipped so existing installations keep working
// with the columns they have.
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS filings (
				id INTEGER PRIMARY KEY,
				cik INTEGER NOT NULL,
				ticker TEXT NOT NULL DEFAULT '',
				company_name TEXT NOT NULL DEFAULT '',
				form_type TEXT NOT NULL,
				filing_date TEXT NOT NULL,
				accession_number TEXT NOT NULL,
				source_path TEXT NOT NULL DEFAULT '',
				document_url TEXT NOT NULL DEFAULT '',
				submission_url TEXT NOT NULL DEFAULT '',
				size INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				UNIQUE (cik, form_type, filing_date, accession_number)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_filings_date ON filings (filing_date DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_filings_ticker ON filings (ticker)`,
			`CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				status TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				started_at DATETIME,
				completed_at DATETIME,
				last_error TEXT NOT NULL DEFAULT '',
				params_blob BLOB
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status)`,
			`CREATE TABLE IF NOT EXISTS task_logs (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				task_id TEXT NOT NULL,
				ts DATETIME NOT NULL,
				line TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_task_logs_task ON task_logs (task_id, seq)`,
			`CREATE TABLE IF NOT EXISTS cache (
				key TEXT PRIMARY KEY,
				value BLOB NOT NULL,
				expires_at DATETIME NOT NULL
			)`,
		},
	},
	{
		// Downloaded payload bookkeeping arrived after the first release;
		// columns are additive so v1 databases upgrade in place.
		version: 2,
		statements: []string{
			`ALTER TABLE tasks ADD COLUMN storage_path TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE tasks ADD COLUMN content_hash TEXT NOT NULL DEFAULT ''`,
		},
	},
}

// Open creates or opens the store database at dataDir/edgarfetch.db.
func Open(dataDir string, clock edgar.Clock, logger *zap.Logger) (*Store, error) {
	if dataDir == "" {
		return nil, &edgar.ConfigurationError{
			Field:       "store.data_dir",
			Remediation: "set store.data_dir in the config file or EDGAR_STORE_DATA_DIR",
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "edgarfetch.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite serializes writes; one connection avoids
	// SQLITE_BUSY churn under concurrent workers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath, clock: clock, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies pending schema steps. Only bookkeeping failures are
// fatal; a failed step degrades to "column missing" behavior.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		failed := false
		for _, stmt := range m.statements {
			if _, err := s.db.Exec(stmt); err != nil {
				s.logger.Warn("schema migration step failed, continuing",
					zap.Int("version", m.version),
					zap.Error(err),
				)
				failed = true
			}
		}
		if !failed {
			if _, err := s.db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
				return fmt.Errorf("record migration %d: %w", m.version, err)
			}
		}
	}
	return nil
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(timeLayout)
}

const (
	timeLayout = "2006-01-02 15:04:05.999999999"
	dateLayout = "2006-01-02"
)
