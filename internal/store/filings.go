package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// UpsertFiling inserts or refreshes a filing reference. The identity key
// (cik, form_type, filing_date, accession_number) never duplicates; a
// re-ingest from a different feed updates the non-identity fields
// (last write wins).
func (s *Store) UpsertFiling(ctx context.Context, ref edgar.FilingReference) error {
	if !ref.Valid() {
		return &edgar.ParseError{
			Subject: "filing reference",
			Cause:   fmt.Errorf("missing identity fields for accession %q", ref.AccessionNumber),
		}
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filings (
			cik, ticker, company_name, form_type, filing_date, accession_number,
			source_path, document_url, submission_url, size, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cik, form_type, filing_date, accession_number) DO UPDATE SET
			ticker = CASE WHEN excluded.ticker != '' THEN excluded.ticker ELSE filings.ticker END,
			company_name = excluded.company_name,
			source_path = excluded.source_path,
			document_url = CASE WHEN excluded.document_url != '' THEN excluded.document_url ELSE filings.document_url END,
			submission_url = excluded.submission_url,
			size = CASE WHEN excluded.size > 0 THEN excluded.size ELSE filings.size END,
			updated_at = excluded.updated_at`,
		ref.CIK, ref.Ticker, ref.CompanyName, ref.FormType,
		ref.FilingDate.UTC().Format(dateLayout), ref.AccessionNumber,
		ref.SourcePath, ref.DocumentURL, ref.SubmissionURL, ref.Size,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert filing %s: %w", ref.AccessionNumber, err)
	}
	return nil
}

// ListFilings returns filings matching the query, newest first, capped at
// the query limit.
func (s *Store) ListFilings(ctx context.Context, q edgar.Query) ([]edgar.FilingReference, error) {
	where, args := filingFilter(q)
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT cik, ticker, company_name, form_type, filing_date, accession_number,
			source_path, document_url, submission_url, size
		FROM filings`+where+`
		ORDER BY filing_date DESC, accession_number DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list filings: %w", err)
	}
	defer rows.Close()

	var out []edgar.FilingReference
	for rows.Next() {
		var (
			ref  edgar.FilingReference
			date string
		)
		if err := rows.Scan(
			&ref.CIK, &ref.Ticker, &ref.CompanyName, &ref.FormType, &date,
			&ref.AccessionNumber, &ref.SourcePath, &ref.DocumentURL,
			&ref.SubmissionURL, &ref.Size,
		); err != nil {
			return nil, fmt.Errorf("scan filing: %w", err)
		}
		ref.FilingDate, err = time.ParseInLocation(dateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse filing date %q: %w", date, err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate filings: %w", err)
	}
	return out, nil
}

// CountFilings returns the number of filings matching the query.
func (s *Store) CountFilings(ctx context.Context, q edgar.Query) (int64, error) {
	where, args := filingFilter(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM filings`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count filings: %w", err)
	}
	return n, nil
}

// filingFilter builds the shared WHERE clause for list/count.
func filingFilter(q edgar.Query) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if q.TickerOrCIK != "" {
		if cik, err := strconv.ParseInt(strings.TrimLeft(q.TickerOrCIK, "0"), 10, 64); err == nil {
			clauses = append(clauses, "cik = ?")
			args = append(args, cik)
		} else {
			clauses = append(clauses, "ticker = ? COLLATE NOCASE")
			args = append(args, q.TickerOrCIK)
		}
	}
	if len(q.FormTypes) > 0 {
		placeholders := strings.Repeat("?, ", len(q.FormTypes))
		clauses = append(clauses, "form_type IN ("+placeholders[:len(placeholders)-2]+")")
		for _, ft := range q.FormTypes {
			args = append(args, ft)
		}
	}
	if !q.Start.IsZero() {
		clauses = append(clauses, "filing_date >= ?")
		args = append(args, q.Start.UTC().Format(dateLayout))
	}
	if !q.End.IsZero() {
		clauses = append(clauses, "filing_date <= ?")
		args = append(args, q.End.UTC().Format(dateLayout))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
