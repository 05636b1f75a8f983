package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// realTimeFetchCount is how many entries one latest-filings request asks
// for; the feed caps responses around this size anyway.
const realTimeFetchCount = 400

// RealTimeAdapter reads the archive's latest-filings Atom feed. Coverage
// is only the last few days, so it serves queries whose window touches
// the present.
type RealTimeAdapter struct {
	deps Deps
}

// NewRealTime builds the real-time adapter.
func NewRealTime(deps Deps) *RealTimeAdapter {
	return &RealTimeAdapter{deps: deps}
}

// Kind implements Adapter.
func (a *RealTimeAdapter) Kind() edgar.FeedKind { return edgar.FeedRealTime }

// Fetch pulls the current Atom feed, normalizes entries inside the
// window, and persists them. Results are newest first.
func (a *RealTimeAdapter) Fetch(ctx context.Context, w Window) ([]edgar.FilingReference, error) {
	url := rebase(a.deps.base(), edgar.RecentFilingsURL("", realTimeFetchCount))

	var refs []edgar.FilingReference
	err := runIndexTask(ctx, a.deps, a.Kind(), url, func(ctx context.Context) error {
		body, err := a.deps.Fetcher.Fetch(ctx, url, edgar.FetchOptions{})
		if err != nil {
			return err
		}
		parsed, err := parseAtomFeed(body)
		if err != nil {
			return err
		}
		for _, ref := range parsed {
			if w.Contains(ref.FilingDate) {
				refs = append(refs, ref)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	upsertAll(ctx, a.deps, refs)
	sortNewestFirst(refs)
	return refs, nil
}

// Update refreshes the feed and records its status.
func (a *RealTimeAdapter) Update(ctx context.Context) error {
	refs, err := a.Fetch(ctx, Window{})
	st := edgar.FeedStatus{
		Kind:        a.Kind(),
		LastUpdated: a.deps.Clock.Now().UTC(),
		FileCount:   int64(len(refs)),
		Healthy:     err == nil,
	}
	if err != nil {
		st.Message = err.Error()
	}
	if recErr := recordStatus(ctx, a.deps.Cache, st); recErr != nil {
		a.deps.Logger.Warn("recording feed status failed", zap.Error(recErr))
	}
	return err
}

// Status implements Adapter.
func (a *RealTimeAdapter) Status(ctx context.Context) (edgar.FeedStatus, error) {
	return readStatus(ctx, a.deps.Cache, a.Kind())
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string `xml:"title"`
	ID      string `xml:"id"`
	Updated string `xml:"updated"`
	Link    struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Category struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

// titleCIKRe pulls the zero-padded CIK out of titles shaped like
// "10-K - APPLE INC (0000320193) (Filer)".
var titleCIKRe = regexp.MustCompile(`\((\d{10})\)`)

// idAccessionRe pulls the accession number out of entry IDs shaped like
// "urn:tag:sec.gov,2008:accession-number=0000320193-23-000106".
var idAccessionRe = regexp.MustCompile(`accession-number=(\d{10}-\d{2}-\d{6})`)

// parseAtomFeed converts the latest-filings Atom payload into filing
// references. Entries missing a CIK or accession are skipped.
func parseAtomFeed(body []byte) ([]edgar.FilingReference, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, &edgar.ParseError{Subject: "latest-filings feed", Cause: err}
	}

	refs := make([]edgar.FilingReference, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		ref, err := atomEntryRef(entry)
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 && len(feed.Entries) > 0 {
		return nil, &edgar.ParseError{Subject: "latest-filings feed: no usable entries"}
	}
	return refs, nil
}

func atomEntryRef(entry atomEntry) (edgar.FilingReference, error) {
	m := idAccessionRe.FindStringSubmatch(entry.ID)
	if m == nil {
		return edgar.FilingReference{}, fmt.Errorf("entry %q: no accession number", entry.ID)
	}
	accession := m[1]

	cm := titleCIKRe.FindStringSubmatch(entry.Title)
	if cm == nil {
		return edgar.FilingReference{}, fmt.Errorf("entry %q: no entity identifier", entry.Title)
	}
	cik, err := edgar.ParseCIK(cm[1])
	if err != nil {
		return edgar.FilingReference{}, err
	}

	updated, err := time.Parse(time.RFC3339, entry.Updated)
	if err != nil {
		return edgar.FilingReference{}, fmt.Errorf("entry %q: bad timestamp: %w", entry.ID, err)
	}

	formType := strings.TrimSpace(entry.Category.Term)
	if formType == "" {
		// Titles lead with the form type: "10-K - APPLE INC (...".
		if idx := strings.Index(entry.Title, " - "); idx > 0 {
			formType = strings.TrimSpace(entry.Title[:idx])
		}
	}

	companyName := entry.Title
	if idx := strings.Index(companyName, " - "); idx >= 0 {
		companyName = companyName[idx+3:]
	}
	if idx := strings.Index(companyName, " ("); idx >= 0 {
		companyName = companyName[:idx]
	}

	return edgar.FilingReference{
		CIK:             cik,
		CompanyName:     strings.TrimSpace(companyName),
		FormType:        formType,
		FilingDate:      time.Date(updated.Year(), updated.Month(), updated.Day(), 0, 0, 0, 0, time.UTC),
		AccessionNumber: accession,
		SourcePath:      mustSourcePath(cik, accession),
		DocumentURL:     entry.Link.Href,
		SubmissionURL:   edgar.SubmissionURL(cik, accession),
	}, nil
}
