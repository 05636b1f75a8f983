package feeds

import (
	"context"
	"encoding/xml"
	"time"

	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

const monthlyFilingDateLayout = "01/02/2006"

// MonthlyAdapter reads the month-level structured-data indexes. Closed
// months are complete; the current month's index lags, so that slice of
// the window is delegated to the daily feed.
type MonthlyAdapter struct {
	deps  Deps
	daily Adapter
}

// NewMonthly builds the monthly adapter. daily covers the current
// partial month and may be nil, in which case the partial month is
// served from the (possibly incomplete) monthly index alone.
func NewMonthly(deps Deps, daily Adapter) *MonthlyAdapter {
	return &MonthlyAdapter{deps: deps, daily: daily}
}

// Kind implements Adapter.
func (a *MonthlyAdapter) Kind() edgar.FeedKind { return edgar.FeedMonthly }

// Fetch pulls every monthly index overlapping the window and merges the
// rows newest first.
func (a *MonthlyAdapter) Fetch(ctx context.Context, w Window) ([]edgar.FilingReference, error) {
	now := a.deps.Clock.Now().UTC()
	end := w.End
	if end.IsZero() || end.After(now) {
		end = now
	}
	start := w.Start
	if start.IsZero() {
		start = end.AddDate(0, 0, -90)
	}

	var refs []edgar.FilingReference
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	for month := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); !month.After(end); month = month.AddDate(0, 1, 0) {
		if !month.Before(currentMonth) && a.daily != nil {
			sub := Window{Start: maxTime(start, month), End: end}
			dayRefs, err := a.daily.Fetch(ctx, sub)
			if err != nil {
				if edgar.IsCancelled(err) {
					return nil, err
				}
				a.deps.Logger.Warn("partial-month fallback failed", zap.Error(err))
				continue
			}
			refs = append(refs, dayRefs...)
			continue
		}

		monthRefs, err := a.fetchMonth(ctx, month.Year(), month.Month())
		if err != nil {
			if edgar.IsCancelled(err) {
				return nil, err
			}
			a.deps.Logger.Warn("monthly index fetch failed",
				zap.Int("year", month.Year()),
				zap.String("month", month.Month().String()),
				zap.Error(err))
			continue
		}
		refs = append(refs, monthRefs...)
	}

	filtered := refs[:0]
	for _, ref := range refs {
		if w.Contains(ref.FilingDate) {
			filtered = append(filtered, ref)
		}
	}
	refs = filtered

	upsertAll(ctx, a.deps, refs)
	sortNewestFirst(refs)
	return refs, nil
}

func (a *MonthlyAdapter) fetchMonth(ctx context.Context, year int, month time.Month) ([]edgar.FilingReference, error) {
	url := rebase(a.deps.base(), edgar.MonthlyIndexURL(year, month))

	var refs []edgar.FilingReference
	err := runIndexTask(ctx, a.deps, a.Kind(), url, func(ctx context.Context) error {
		body, err := a.deps.Fetcher.Fetch(ctx, url, edgar.FetchOptions{})
		if err != nil {
			return err
		}
		parsed, err := parseMonthlyIndex(body)
		if err != nil {
			return err
		}
		refs = parsed
		return nil
	})
	return refs, err
}

// Update refreshes the closed month preceding now and records status.
func (a *MonthlyAdapter) Update(ctx context.Context) error {
	now := a.deps.Clock.Now().UTC()
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	refs, err := a.fetchMonth(ctx, prev.Year(), prev.Month())
	if err == nil {
		upsertAll(ctx, a.deps, refs)
	}
	st := edgar.FeedStatus{
		Kind:        a.Kind(),
		LastUpdated: now,
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
func (a *MonthlyAdapter) Status(ctx context.Context) (edgar.FeedStatus, error) {
	return readStatus(ctx, a.deps.Cache, a.Kind())
}

type monthlyRSS struct {
	XMLName xml.Name      `xml:"rss"`
	Items   []monthlyItem `xml:"channel>item"`
}

type monthlyItem struct {
	Filing struct {
		CompanyName     string `xml:"companyName"`
		FormType        string `xml:"formType"`
		FilingDate      string `xml:"filingDate"`
		CIKNumber       string `xml:"cikNumber"`
		AccessionNumber string `xml:"accessionNumber"`
	} `xml:"xbrlFiling"`
}

// parseMonthlyIndex converts the month-level structured-data payload
// into filing references. Items missing identity fields are skipped.
func parseMonthlyIndex(body []byte) ([]edgar.FilingReference, error) {
	var rss monthlyRSS
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, &edgar.ParseError{Subject: "monthly index", Cause: err}
	}

	refs := make([]edgar.FilingReference, 0, len(rss.Items))
	for _, item := range rss.Items {
		f := item.Filing
		if !edgar.AccessionPattern.MatchString(f.AccessionNumber) {
			continue
		}
		cik, err := edgar.ParseCIK(f.CIKNumber)
		if err != nil || cik <= 0 {
			continue
		}
		filed, err := time.Parse(monthlyFilingDateLayout, f.FilingDate)
		if err != nil {
			continue
		}
		refs = append(refs, edgar.FilingReference{
			CIK:             cik,
			CompanyName:     f.CompanyName,
			FormType:        f.FormType,
			FilingDate:      filed,
			AccessionNumber: f.AccessionNumber,
			SourcePath:      mustSourcePath(cik, f.AccessionNumber),
			SubmissionURL:   edgar.SubmissionURL(cik, f.AccessionNumber),
		})
	}
	if len(refs) == 0 && len(rss.Items) > 0 {
		return nil, &edgar.ParseError{Subject: "monthly index: no usable items"}
	}
	return refs, nil
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
