package feeds

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// dailyIndexRe matches per-day master index filenames inside the
// daily-index directory listing.
var dailyIndexRe = regexp.MustCompile(`master\.(\d{8})\.idx$`)

// DailyAdapter enumerates the per-day master index files. The directory
// listing is the source of truth for which days exist; weekends and
// holidays simply have no file.
type DailyAdapter struct {
	deps Deps
}

// NewDaily builds the daily adapter.
func NewDaily(deps Deps) *DailyAdapter {
	return &DailyAdapter{deps: deps}
}

// Kind implements Adapter.
func (a *DailyAdapter) Kind() edgar.FeedKind { return edgar.FeedDaily }

// Fetch lists the daily-index directories covering the window, pulls
// each day's master index inside it, and merges the rows newest first.
func (a *DailyAdapter) Fetch(ctx context.Context, w Window) ([]edgar.FilingReference, error) {
	days, err := a.listDays(ctx, w)
	if err != nil {
		return nil, err
	}

	var refs []edgar.FilingReference
	for _, day := range days {
		url := rebase(a.deps.base(), edgar.DailyIndexURL(day))
		dayRefs, err := a.fetchDay(ctx, url)
		if err != nil {
			if edgar.IsCancelled(err) {
				return nil, err
			}
			a.deps.Logger.Warn("daily index fetch failed",
				zap.String("day", day.Format("2006-01-02")),
				zap.Error(err))
			continue
		}
		refs = append(refs, dayRefs...)
	}

	upsertAll(ctx, a.deps, refs)
	sortNewestFirst(refs)
	return refs, nil
}

// listDays enumerates available index days via the quarter directory
// listings that overlap the window.
func (a *DailyAdapter) listDays(ctx context.Context, w Window) ([]time.Time, error) {
	start, end := a.effectiveWindow(w)

	seen := map[string]struct{}{}
	var days []time.Time

	for _, quarter := range quarterStarts(start, end) {
		url := rebase(a.deps.base(), edgar.DailyIndexDirURL(quarter))
		found, err := a.scrapeListing(ctx, url)
		if err != nil {
			return nil, err
		}
		for _, day := range found {
			if day.Before(start) || day.After(end) {
				continue
			}
			key := day.Format("20060102")
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			days = append(days, day)
		}
	}
	return days, nil
}

// fetcherTransport routes collector requests through the shared fetch
// chokepoint, so listing scrapes get the same pacing, concurrency
// bound, user agent, retries, and metrics as every other outbound
// request. Collectors do not carry the caller's context, so the
// transport pins it per scrape.
type fetcherTransport struct {
	ctx     context.Context
	fetcher edgar.Fetcher
}

func (t *fetcherTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := t.fetcher.Fetch(t.ctx, req.URL.String(), edgar.FetchOptions{})
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{http.DetectContentType(body)}},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

// scrapeListing extracts master.YYYYMMDD.idx links from one directory
// listing page.
func (a *DailyAdapter) scrapeListing(ctx context.Context, url string) ([]time.Time, error) {
	var (
		days     []time.Time
		scrapErr error
	)

	c := colly.NewCollector(colly.Async(false))
	if a.deps.UserAgent != "" {
		c.UserAgent = a.deps.UserAgent
	}
	c.IgnoreRobotsTxt = true
	c.WithTransport(&fetcherTransport{ctx: ctx, fetcher: a.deps.Fetcher})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		m := dailyIndexRe.FindStringSubmatch(e.Attr("href"))
		if m == nil {
			return
		}
		day, err := time.Parse("20060102", m[1])
		if err != nil {
			return
		}
		days = append(days, day)
	})
	c.OnError(func(_ *colly.Response, err error) {
		scrapErr = err
	})

	if err := ctx.Err(); err != nil {
		return nil, edgar.AsCancelled(err)
	}
	if err := c.Visit(url); err != nil {
		return nil, fmt.Errorf("listing %s: %w", url, err)
	}
	c.Wait()
	if scrapErr != nil {
		return nil, fmt.Errorf("listing %s: %w", url, scrapErr)
	}
	return days, nil
}

func (a *DailyAdapter) fetchDay(ctx context.Context, url string) ([]edgar.FilingReference, error) {
	var refs []edgar.FilingReference
	err := runIndexTask(ctx, a.deps, a.Kind(), url, func(ctx context.Context) error {
		body, err := a.deps.Fetcher.Fetch(ctx, url, edgar.FetchOptions{})
		if err != nil {
			return err
		}
		parsed, skipped, err := ParseMasterIndex(bytes.NewReader(body))
		if err != nil {
			return err
		}
		if skipped > 0 {
			a.deps.Logger.Debug("skipped malformed index rows",
				zap.String("url", url), zap.Int("rows", skipped))
		}
		refs = parsed
		return nil
	})
	return refs, err
}

// effectiveWindow clamps an open window to the feed's natural coverage.
func (a *DailyAdapter) effectiveWindow(w Window) (time.Time, time.Time) {
	now := a.deps.Clock.Now().UTC()
	end := w.End
	if end.IsZero() || end.After(now) {
		end = now
	}
	start := w.Start
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	return start, end
}

// Update pulls today's index and records the feed status.
func (a *DailyAdapter) Update(ctx context.Context) error {
	now := a.deps.Clock.Now().UTC()
	refs, err := a.Fetch(ctx, Window{Start: now.AddDate(0, 0, -1), End: now})
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
func (a *DailyAdapter) Status(ctx context.Context) (edgar.FeedStatus, error) {
	return readStatus(ctx, a.deps.Cache, a.Kind())
}

// quarterStarts returns one representative date per quarter touched by
// [start, end], in ascending order.
func quarterStarts(start, end time.Time) []time.Time {
	var out []time.Time
	q := time.Date(start.Year(), firstMonthOfQuarter(start), 1, 0, 0, 0, 0, time.UTC)
	for !q.After(end) {
		out = append(out, q)
		q = q.AddDate(0, 3, 0)
	}
	if len(out) == 0 {
		out = append(out, q)
	}
	return out
}

func firstMonthOfQuarter(t time.Time) time.Month {
	return time.Month((edgar.QuarterOf(t)-1)*3 + 1)
}
