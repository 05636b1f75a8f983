package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// tickerRecord mirrors one entry of the archive's company_tickers.json,
// which is keyed by arbitrary row numbers rather than tickers.
type tickerRecord struct {
	CIK    int64  `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// TickerMap resolves ticker symbols to CIKs. Lookups are
// case-insensitive. The map is immutable after load.
type TickerMap struct {
	path     string
	byTicker map[string]tickerRecord
}

// LoadTickerMap reads the reference file at path. A missing file is a
// configuration error that names the file and the command that
// populates it.
func LoadTickerMap(path string) (*TickerMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &edgar.ConfigurationError{
				Field:       fmt.Sprintf("ticker map file %s is missing", path),
				Remediation: "run `edgarfetch tickers refresh` to download it",
			}
		}
		return nil, fmt.Errorf("read ticker map: %w", err)
	}
	m, err := parseTickerMap(raw)
	if err != nil {
		return nil, err
	}
	m.path = path
	return m, nil
}

func parseTickerMap(raw []byte) (*TickerMap, error) {
	var rows map[string]tickerRecord
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &edgar.ParseError{Subject: "ticker map", Cause: err}
	}
	byTicker := make(map[string]tickerRecord, len(rows))
	for _, rec := range rows {
		if rec.Ticker == "" || rec.CIK <= 0 {
			continue
		}
		byTicker[strings.ToUpper(rec.Ticker)] = rec
	}
	if len(byTicker) == 0 {
		return nil, &edgar.ParseError{Subject: "ticker map with no usable rows"}
	}
	return &TickerMap{byTicker: byTicker}, nil
}

// CIK resolves a ticker symbol.
func (m *TickerMap) CIK(ticker string) (int64, bool) {
	if m == nil {
		return 0, false
	}
	rec, ok := m.byTicker[strings.ToUpper(strings.TrimSpace(ticker))]
	return rec.CIK, ok
}

// CompanyName returns the registered title for a ticker.
func (m *TickerMap) CompanyName(ticker string) (string, bool) {
	if m == nil {
		return "", false
	}
	rec, ok := m.byTicker[strings.ToUpper(strings.TrimSpace(ticker))]
	return rec.Title, ok
}

// Len reports the number of resolvable tickers.
func (m *TickerMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.byTicker)
}

// DownloadTickerMap fetches the reference file from url and writes it to
// path atomically. The payload is parsed before the write so a truncated
// or reshaped upstream response never clobbers a working copy. Returns
// the number of resolvable tickers.
func DownloadTickerMap(ctx context.Context, fetcher edgar.Fetcher, url, path string) (int, error) {
	if url == "" {
		url = edgar.TickerMapURL
	}
	body, err := fetcher.Fetch(ctx, url, edgar.FetchOptions{})
	if err != nil {
		return 0, err
	}
	m, err := parseTickerMap(body)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create ticker map directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tickers-*")
	if err != nil {
		return 0, fmt.Errorf("stage ticker map: %w", err)
	}
	if _, err := tmp.ReadFrom(bytes.NewReader(body)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write ticker map: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("close ticker map: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("install ticker map: %w", err)
	}
	return m.Len(), nil
}
