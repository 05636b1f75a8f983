package feeds

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

const masterDateLayout = "2006-01-02"

// ParseMasterIndex reads a pipe-delimited master index file. The format
// carries a free-text preamble, a column header, a dashed separator, and
// then one row per filing:
//
//	CIK|Company Name|Form Type|Date Filed|Filename
//
// Rows that fail to parse are counted and skipped rather than failing
// the whole file. An index with zero parseable rows is a parse error.
func ParseMasterIndex(r io.Reader) ([]edgar.FilingReference, int, error) {
	var (
		refs    []edgar.FilingReference
		skipped int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		ref, ok := parseMasterLine(line)
		if !ok {
			if looksLikeRow(line) {
				skipped++
			}
			continue
		}
		refs = append(refs, ref)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, &edgar.ParseError{Subject: "master index", Cause: err}
	}
	if len(refs) == 0 {
		return nil, skipped, &edgar.ParseError{Subject: "master index: no parseable rows"}
	}
	return refs, skipped, nil
}

// looksLikeRow distinguishes malformed data rows from preamble and
// header lines, which are expected and not worth counting.
func looksLikeRow(line string) bool {
	if strings.Count(line, "|") < 4 {
		return false
	}
	if strings.HasPrefix(line, "CIK|") {
		return false
	}
	return true
}

func parseMasterLine(line string) (edgar.FilingReference, bool) {
	parts := strings.Split(line, "|")
	if len(parts) != 5 {
		return edgar.FilingReference{}, false
	}

	cik, err := edgar.ParseCIK(parts[0])
	if err != nil || cik <= 0 {
		return edgar.FilingReference{}, false
	}
	formType := strings.TrimSpace(parts[2])
	filed, err := time.Parse(masterDateLayout, strings.TrimSpace(parts[3]))
	if err != nil || formType == "" {
		return edgar.FilingReference{}, false
	}
	sourcePath := strings.TrimSpace(parts[4])
	accession := edgar.AccessionFromPath(sourcePath)
	if accession == "" {
		return edgar.FilingReference{}, false
	}

	return edgar.FilingReference{
		CIK:             cik,
		CompanyName:     strings.TrimSpace(parts[1]),
		FormType:        formType,
		FilingDate:      filed,
		AccessionNumber: accession,
		SourcePath:      sourcePath,
		SubmissionURL:   edgar.SubmissionURL(cik, accession),
	}, true
}
