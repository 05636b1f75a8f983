package feeds

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/feeds/index"
)

// QuarterlyAdapter serves long-range queries from the bulk full-index
// files. Each quarter's master index is fetched once, merged into the
// columnar index, and every later query for that quarter is a local
// range scan.
type QuarterlyAdapter struct {
	deps Deps
	idx  *index.Store
}

// NewQuarterly builds the quarterly adapter on top of the columnar
// index store.
func NewQuarterly(deps Deps, idx *index.Store) *QuarterlyAdapter {
	return &QuarterlyAdapter{deps: deps, idx: idx}
}

// Kind implements Adapter.
func (a *QuarterlyAdapter) Kind() edgar.FeedKind { return edgar.FeedQuarterly }

// Fetch ensures every quarter overlapping the window is merged, then
// answers from the columnar index newest first.
func (a *QuarterlyAdapter) Fetch(ctx context.Context, w Window) ([]edgar.FilingReference, error) {
	now := a.deps.Clock.Now().UTC()
	end := w.End
	if end.IsZero() || end.After(now) {
		end = now
	}
	start := w.Start
	if start.IsZero() {
		start = end.AddDate(-1, 0, 0)
	}

	for _, quarter := range quarterStarts(start, end) {
		if err := a.ensureQuarter(ctx, quarter.Year(), edgar.QuarterOf(quarter)); err != nil {
			if edgar.IsCancelled(err) {
				return nil, err
			}
			// A quarter that is not yet published must not hide the
			// quarters that are.
			a.deps.Logger.Warn("quarterly index unavailable",
				zap.Int("year", quarter.Year()),
				zap.Int("quarter", edgar.QuarterOf(quarter)),
				zap.Error(err))
		}
	}

	return a.idx.Scan(ctx, start, end, nil, 0, 0)
}

// ensureQuarter merges one quarter's master index if it is not already
// in the columnar store.
func (a *QuarterlyAdapter) ensureQuarter(ctx context.Context, year, quarter int) error {
	segment := fmt.Sprintf("%d-QTR%d", year, quarter)
	loaded, err := a.idx.HasSegment(ctx, segment)
	if err != nil {
		return err
	}
	if loaded {
		return nil
	}

	url := rebase(a.deps.base(), edgar.QuarterlyIndexURL(year, quarter))
	return runIndexTask(ctx, a.deps, a.Kind(), url, func(ctx context.Context) error {
		body, err := a.deps.Fetcher.Fetch(ctx, url, edgar.FetchOptions{})
		if err != nil {
			return err
		}
		refs, skipped, err := ParseMasterIndex(bytes.NewReader(body))
		if err != nil {
			return err
		}
		if skipped > 0 {
			a.deps.Logger.Debug("skipped malformed index rows",
				zap.String("segment", segment), zap.Int("rows", skipped))
		}
		return a.idx.InsertSegment(ctx, segment, refs)
	})
}

// Update merges the current quarter if missing and records status.
func (a *QuarterlyAdapter) Update(ctx context.Context) error {
	now := a.deps.Clock.Now().UTC()
	err := a.ensureQuarter(ctx, now.Year(), edgar.QuarterOf(now))

	count, cntErr := a.idx.Count(ctx)
	if cntErr != nil {
		a.deps.Logger.Warn("index count failed", zap.Error(cntErr))
	}
	st := edgar.FeedStatus{
		Kind:        a.Kind(),
		LastUpdated: now,
		FileCount:   count,
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
func (a *QuarterlyAdapter) Status(ctx context.Context) (edgar.FeedStatus, error) {
	return readStatus(ctx, a.deps.Cache, a.Kind())
}
