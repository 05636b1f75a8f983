// Package index persists the merged quarterly filing index in a
// columnar on-disk table built for fast date-range scans.
package index

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// Store is a DuckDB-backed filing index. Bulk loads go through the
// native appender; reads are plain range scans ordered newest first.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger

	// mu serializes bulk loads; concurrent reads are fine.
	mu sync.Mutex
}

// Open creates or reopens the index file at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='512MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open filing index %s: %w", path, err)
	}

	db := sql.OpenDB(connector)
	s := &Store{db: db, path: path, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS filing_index (
			cik          BIGINT NOT NULL,
			company_name VARCHAR NOT NULL,
			form_type    VARCHAR NOT NULL,
			date_filed   DATE NOT NULL,
			filename     VARCHAR NOT NULL,
			accession    VARCHAR NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS loaded_segments (
			segment   VARCHAR PRIMARY KEY,
			loaded_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("filing index schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database. The index file is kept; it is a
// durable artifact, not a scratch table.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk location of the index.
func (s *Store) Path() string { return s.path }

// HasSegment reports whether the named index segment (for example
// "2023-QTR4") has already been merged.
func (s *Store) HasSegment(ctx context.Context, segment string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loaded_segments WHERE segment = ?`, segment).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("segment lookup: %w", err)
	}
	return n > 0, nil
}

// InsertSegment bulk-loads one segment's rows and marks the segment as
// merged. Reloading an already-merged segment is a no-op so duplicate
// rows never enter the table.
func (s *Store) InsertSegment(ctx context.Context, segment string, refs []edgar.FilingReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.HasSegment(ctx, segment)
	if err != nil {
		return err
	}
	if loaded {
		return nil
	}

	if err := s.appendRows(ctx, refs); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO loaded_segments (segment, loaded_at) VALUES (?, ?)`,
		segment, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark segment %s: %w", segment, err)
	}
	s.logger.Info("merged index segment",
		zap.String("segment", segment),
		zap.Int("rows", len(refs)))
	return nil
}

// appendRows streams rows through the native appender, which is far
// faster than prepared inserts for bulk loads.
func (s *Store) appendRows(ctx context.Context, refs []edgar.FilingReference) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("index connection: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", "filing_index")
		if err != nil {
			return fmt.Errorf("index appender: %w", err)
		}
		defer appender.Close()

		for _, ref := range refs {
			err := appender.AppendRow(
				ref.CIK,
				ref.CompanyName,
				ref.FormType,
				ref.FilingDate,
				ref.SourcePath,
				ref.AccessionNumber,
			)
			if err != nil {
				return fmt.Errorf("append %s: %w", ref.AccessionNumber, err)
			}
		}
		return appender.Flush()
	})
}

// Count returns the number of indexed rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM filing_index`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index count: %w", err)
	}
	return n, nil
}

// Scan returns indexed filings matching the filters, newest first.
// A zero cik matches every entity; empty formTypes matches every form.
func (s *Store) Scan(ctx context.Context, start, end time.Time, formTypes []string, cik int64, limit int) ([]edgar.FilingReference, error) {
	var (
		clauses []string
		args    []any
	)
	if cik > 0 {
		clauses = append(clauses, "cik = ?")
		args = append(args, cik)
	}
	if len(formTypes) > 0 {
		ph := make([]string, len(formTypes))
		for i, ft := range formTypes {
			ph[i] = "?"
			args = append(args, ft)
		}
		clauses = append(clauses, "form_type IN ("+strings.Join(ph, ", ")+")")
	}
	if !start.IsZero() {
		clauses = append(clauses, "date_filed >= ?")
		args = append(args, start)
	}
	if !end.IsZero() {
		clauses = append(clauses, "date_filed <= ?")
		args = append(args, end)
	}

	query := `SELECT cik, company_name, form_type, date_filed, filename, accession FROM filing_index`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY date_filed DESC, accession DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index scan: %w", err)
	}
	defer rows.Close()

	var refs []edgar.FilingReference
	for rows.Next() {
		var (
			ref   edgar.FilingReference
			filed time.Time
		)
		if err := rows.Scan(&ref.CIK, &ref.CompanyName, &ref.FormType, &filed, &ref.SourcePath, &ref.AccessionNumber); err != nil {
			return nil, fmt.Errorf("index scan row: %w", err)
		}
		ref.FilingDate = time.Date(filed.Year(), filed.Month(), filed.Day(), 0, 0, 0, 0, time.UTC)
		ref.SubmissionURL = edgar.SubmissionURL(ref.CIK, ref.AccessionNumber)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ExportParquet writes the whole index to a Parquet file for external
// analysis.
func (s *Store) ExportParquet(ctx context.Context, dest string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`COPY (SELECT * FROM filing_index ORDER BY date_filed DESC) TO '%s' (FORMAT PARQUET)`,
		strings.ReplaceAll(dest, "'", "''")))
	if err != nil {
		return fmt.Errorf("parquet export to %s: %w", dest, err)
	}
	return nil
}
