package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/feeds"
	"github.com/openfilings/edgarfetch/internal/hash/sha256"
	"github.com/openfilings/edgarfetch/internal/router"
	"github.com/openfilings/edgarfetch/internal/storage/local"
	"github.com/openfilings/edgarfetch/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("task-%04d", g.n), nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	errs    map[string]error
	fetched []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{bodies: map[string][]byte{}, errs: map[string]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, _ edgar.FetchOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, edgar.AsCancelled(err)
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, &edgar.ClientRequestError{URL: url, StatusCode: 404}
	}
	return body, nil
}

func (f *fakeFetcher) FetchToFile(ctx context.Context, url, dest string, opts edgar.FetchOptions) (edgar.FileResult, error) {
	if !opts.Overwrite {
		if info, err := os.Stat(dest); err == nil {
			return edgar.FileResult{Path: dest, Size: info.Size(), Cached: true}, nil
		}
	}
	body, err := f.Fetch(ctx, url, opts)
	if err != nil {
		return edgar.FileResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return edgar.FileResult{}, err
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return edgar.FileResult{}, err
	}
	return edgar.FileResult{Path: dest, Size: int64(len(body))}, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

type fakeAdapter struct {
	kind   edgar.FeedKind
	refs   []edgar.FilingReference
	err    error
	status edgar.FeedStatus

	mu      sync.Mutex
	fetches int
}

func (a *fakeAdapter) Kind() edgar.FeedKind { return a.kind }

func (a *fakeAdapter) Fetch(_ context.Context, _ feeds.Window) ([]edgar.FilingReference, error) {
	a.mu.Lock()
	a.fetches++
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return a.refs, nil
}

func (a *fakeAdapter) Update(context.Context) error { return nil }

func (a *fakeAdapter) Status(context.Context) (edgar.FeedStatus, error) {
	return a.status, nil
}

func (a *fakeAdapter) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

// today for every test clock; mid-quarter so routing math is stable.
var testNow = time.Date(2023, 11, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc     *Service
	store   *store.Store
	fetcher *fakeFetcher
	ids     *seqIDs
}

func newTestEnv(t *testing.T, tickers *TickerMap, adapters ...feeds.Adapter) *testEnv {
	t.Helper()
	clock := fixedClock{t: testNow}
	st, err := store.Open(t.TempDir(), clock, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	payloads, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	ids := &seqIDs{}
	svc := New(Deps{
		Router:   router.New(clock),
		Registry: feeds.NewRegistry(adapters...),
		Fetcher:  fetcher,
		Filings:  st,
		Tasks:    st,
		Cache:    st,
		Payloads: payloads,
		Tickers:  tickers,
		Hasher:   sha256.New(),
		IDs:      ids,
		Clock:    clock,
		Logger:   zap.NewNop(),
		Workers:  3,
	})
	return &testEnv{svc: svc, store: st, fetcher: fetcher, ids: ids}
}

func writeTickerMap(t *testing.T) *TickerMap {
	t.Helper()
	path := filepath.Join(t.TempDir(), "company_tickers.json")
	raw := `{
		"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."},
		"1": {"cik_str": 789019, "ticker": "MSFT", "title": "Microsoft Corp"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	m, err := LoadTickerMap(path)
	require.NoError(t, err)
	return m
}

func ref(cik int64, form string, date time.Time, accession string) edgar.FilingReference {
	return edgar.FilingReference{
		CIK:             cik,
		CompanyName:     fmt.Sprintf("Company %d", cik),
		FormType:        form,
		FilingDate:      date,
		AccessionNumber: accession,
		SourcePath:      fmt.Sprintf("edgar/data/%d/%s.txt", cik, accession),
		SubmissionURL:   edgar.SubmissionURL(cik, accession),
	}
}

func TestSearch_ThreeYearRangeServedByQuarterly(t *testing.T) {
	t.Parallel()

	quarterly := &fakeAdapter{kind: edgar.FeedQuarterly, refs: []edgar.FilingReference{
		ref(320193, "10-K", time.Date(2020, 10, 30, 0, 0, 0, 0, time.UTC), "0000320193-20-000096"),
		ref(320193, "10-K", time.Date(2021, 10, 29, 0, 0, 0, 0, time.UTC), "0000320193-21-000105"),
		ref(320193, "10-K", time.Date(2022, 10, 28, 0, 0, 0, 0, time.UTC), "0000320193-22-000108"),
		ref(320193, "10-Q", time.Date(2022, 7, 29, 0, 0, 0, 0, time.UTC), "0000320193-22-000070"),
		ref(789019, "10-K", time.Date(2022, 7, 28, 0, 0, 0, 0, time.UTC), "0000789019-22-000010"),
	}}
	realtime := &fakeAdapter{kind: edgar.FeedRealTime}
	env := newTestEnv(t, writeTickerMap(t), quarterly, realtime)

	got, err := env.svc.Search(context.Background(), SearchRequest{
		TickerOrCIK: "AAPL",
		FormTypes:   []string{"10-K"},
		Start:       "2020-01-01",
		End:         "2022-12-31",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, quarterly.fetchCount())
	assert.Zero(t, realtime.fetchCount())

	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, int64(320193), r.CIK)
		assert.Equal(t, "10-K", r.FormType)
		assert.Equal(t, "AAPL", r.Ticker)
		assert.Regexp(t, edgar.AccessionPattern, r.AccessionNumber)
		if i > 0 {
			assert.True(t, got[i-1].FilingDate.After(r.FilingDate),
				"results must be strictly newest first")
		}
	}
}

func TestSearch_MergesFeedWithStore(t *testing.T) {
	t.Parallel()

	stored := ref(320193, "10-K", time.Date(2021, 10, 29, 0, 0, 0, 0, time.UTC), "0000320193-21-000105")
	stored.Ticker = "AAPL"
	fromFeed := ref(320193, "10-K", time.Date(2022, 10, 28, 0, 0, 0, 0, time.UTC), "0000320193-22-000108")
	duplicate := stored
	duplicate.Ticker = ""

	quarterly := &fakeAdapter{kind: edgar.FeedQuarterly,
		refs: []edgar.FilingReference{fromFeed, duplicate}}
	env := newTestEnv(t, writeTickerMap(t), quarterly)
	require.NoError(t, env.store.UpsertFiling(context.Background(), stored))

	got, err := env.svc.Search(context.Background(), SearchRequest{
		TickerOrCIK: "AAPL",
		FormTypes:   []string{"10-K"},
		Start:       "2021-01-01",
		End:         "2022-12-31",
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "0000320193-22-000108", got[0].AccessionNumber)
	assert.Equal(t, "0000320193-21-000105", got[1].AccessionNumber)
}

func TestSearch_FeedFailureServesStoredResults(t *testing.T) {
	t.Parallel()

	stored := ref(320193, "10-K", time.Date(2021, 10, 29, 0, 0, 0, 0, time.UTC), "0000320193-21-000105")
	stored.Ticker = "AAPL"
	quarterly := &fakeAdapter{kind: edgar.FeedQuarterly,
		err: &edgar.TransientNetworkError{URL: "https://example.invalid", Attempts: 3}}
	env := newTestEnv(t, writeTickerMap(t), quarterly)
	require.NoError(t, env.store.UpsertFiling(context.Background(), stored))

	got, err := env.svc.Search(context.Background(), SearchRequest{
		TickerOrCIK: "AAPL",
		Start:       "2021-01-01",
		End:         "2021-12-31",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stored.AccessionNumber, got[0].AccessionNumber)
}

func TestSearch_CancellationPropagates(t *testing.T) {
	t.Parallel()

	quarterly := &fakeAdapter{kind: edgar.FeedQuarterly,
		err: fmt.Errorf("fetch: %w", context.Canceled)}
	env := newTestEnv(t, writeTickerMap(t), quarterly)

	_, err := env.svc.Search(context.Background(), SearchRequest{
		TickerOrCIK: "AAPL",
		Start:       "2021-01-01",
		End:         "2021-12-31",
	})
	require.Error(t, err)
	assert.True(t, edgar.IsCancelled(err))
}

func TestSearch_NoMatchesIsEmptyNotError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, writeTickerMap(t), &fakeAdapter{kind: edgar.FeedQuarterly})

	got, err := env.svc.Search(context.Background(), SearchRequest{
		TickerOrCIK: "AAPL",
		Start:       "2021-01-01",
		End:         "2021-12-31",
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_LimitCapsResults(t *testing.T) {
	t.Parallel()

	var refs []edgar.FilingReference
	for i := 0; i < 6; i++ {
		refs = append(refs, ref(320193, "10-Q",
			time.Date(2021, time.Month(i+1), 10, 0, 0, 0, 0, time.UTC),
			fmt.Sprintf("0000320193-21-%06d", i+1)))
	}
	env := newTestEnv(t, writeTickerMap(t), &fakeAdapter{kind: edgar.FeedQuarterly, refs: refs})

	got, err := env.svc.Search(context.Background(), SearchRequest{
		TickerOrCIK: "320193",
		Start:       "2021",
		End:         "2021",
		Limit:       2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, time.June, got[0].FilingDate.Month())
	assert.Equal(t, time.May, got[1].FilingDate.Month())
}

func TestDownload_StoresPayloadAndTaskResult(t *testing.T) {
	t.Parallel()

	target := ref(320193, "10-K", time.Date(2022, 10, 28, 0, 0, 0, 0, time.UTC), "0000320193-22-000108")
	env := newTestEnv(t, nil)
	body := []byte("<SEC-DOCUMENT>payload</SEC-DOCUMENT>")
	env.fetcher.bodies[target.SubmissionURL] = body

	got, err := env.svc.Download(context.Background(), target, DownloadOptions{})
	require.NoError(t, err)
	assert.Equal(t, body, got)

	tasks, err := env.store.ListTasks(context.Background(), edgar.TaskStatusCompleted, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, edgar.TaskKindFetchFiling, task.Kind)
	assert.NotEmpty(t, task.StoragePath)
	assert.FileExists(t, task.StoragePath)
	hash, err := sha256.New().Hash(body)
	require.NoError(t, err)
	assert.Equal(t, hash, task.ContentHash)

	logs, err := env.store.TaskLogs(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0].Line, "fetching")
}

func TestDownload_SecondCallReusesFile(t *testing.T) {
	t.Parallel()

	target := ref(320193, "10-K", time.Date(2022, 10, 28, 0, 0, 0, 0, time.UTC), "0000320193-22-000108")
	env := newTestEnv(t, nil)
	env.fetcher.bodies[target.SubmissionURL] = []byte("payload")

	_, err := env.svc.Download(context.Background(), target, DownloadOptions{})
	require.NoError(t, err)
	_, err = env.svc.Download(context.Background(), target, DownloadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, env.fetcher.calls())

	_, err = env.svc.Download(context.Background(), target, DownloadOptions{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, 2, env.fetcher.calls())
}

func TestDownload_FailureRecordedOnTask(t *testing.T) {
	t.Parallel()

	target := ref(320193, "10-K", time.Date(2022, 10, 28, 0, 0, 0, 0, time.UTC), "0000320193-22-000108")
	env := newTestEnv(t, nil)
	cause := &edgar.TransientNetworkError{URL: target.SubmissionURL, Attempts: 3}
	env.fetcher.errs[target.SubmissionURL] = cause

	_, err := env.svc.Download(context.Background(), target, DownloadOptions{})
	require.Error(t, err)
	var netErr *edgar.TransientNetworkError
	require.ErrorAs(t, err, &netErr)

	tasks, listErr := env.store.ListTasks(context.Background(), edgar.TaskStatusFailed, 0)
	require.NoError(t, listErr)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].LastError, target.SubmissionURL)
}

func TestDownload_RejectsInvalidReference(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	_, err := env.svc.Download(context.Background(), edgar.FilingReference{AccessionNumber: "nope"}, DownloadOptions{})
	require.Error(t, err)
	var parseErr *edgar.ParseError
	assert.ErrorAs(t, err, &parseErr)

	tasks, listErr := env.store.ListTasks(context.Background(), "", 0)
	require.NoError(t, listErr)
	assert.Empty(t, tasks)
}

const extractFixture = `<SEC-HEADER>ACCESSION NUMBER: 0000320193-22-000108
CONFORMED SUBMISSION TYPE: 10-K
</SEC-HEADER>
<DOCUMENT>
<TYPE>10-K
<SEQUENCE>1
<FILENAME>report.htm
<DESCRIPTION>Annual report
<TEXT>
<html><body><p>The report body.</p></body></html>
</TEXT>
</DOCUMENT>
<DOCUMENT>
<TYPE>EX-99
<SEQUENCE>2
<FILENAME>exhibit.txt
<TEXT>
small exhibit
</TEXT>
</DOCUMENT>
`

func TestExtract_DecomposesAndCaches(t *testing.T) {
	t.Parallel()

	target := ref(320193, "10-K", time.Date(2022, 10, 28, 0, 0, 0, 0, time.UTC), "0000320193-22-000108")
	env := newTestEnv(t, nil)
	env.fetcher.bodies[target.SubmissionURL] = []byte(extractFixture)

	res, err := env.svc.Extract(context.Background(), target)
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "10-K", res.Documents[0].Type)
	assert.True(t, res.Documents[0].IsPrimary)
	assert.False(t, res.Documents[1].IsPrimary)

	// A second extract answers from the cache: no new download task.
	before, err := env.store.ListTasks(context.Background(), "", 0)
	require.NoError(t, err)
	again, err := env.svc.Extract(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, res.Documents[0].Filename, again.Documents[0].Filename)
	after, err := env.store.ListTasks(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestDownloadBatch_PartialFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	var refs []edgar.FilingReference
	for i := 0; i < 8; i++ {
		r := ref(320193, "10-Q",
			time.Date(2022, time.Month(i+1), 5, 0, 0, 0, 0, time.UTC),
			fmt.Sprintf("0000320193-22-%06d", i+1))
		refs = append(refs, r)
		env.fetcher.bodies[r.SubmissionURL] = []byte("payload " + r.AccessionNumber)
	}
	failing := refs[3]
	delete(env.fetcher.bodies, failing.SubmissionURL)
	env.fetcher.errs[failing.SubmissionURL] = &edgar.TransientNetworkError{URL: failing.SubmissionURL, Attempts: 3}

	results, err := env.svc.DownloadBatch(context.Background(), refs, DownloadOptions{})
	require.NoError(t, err)
	require.Len(t, results, 8)
	for i, res := range results {
		assert.Equal(t, refs[i].AccessionNumber, res.Ref.AccessionNumber)
		if i == 3 {
			require.Error(t, res.Err)
			continue
		}
		require.NoError(t, res.Err)
		assert.FileExists(t, res.Path)
	}

	failed, err := env.store.ListTasks(context.Background(), edgar.TaskStatusFailed, 0)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
	completed, err := env.store.ListTasks(context.Background(), edgar.TaskStatusCompleted, 0)
	require.NoError(t, err)
	assert.Len(t, completed, 7)
}

func TestDownloadBatch_CancelledBeforeDispatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	refs := []edgar.FilingReference{
		ref(320193, "10-K", time.Date(2022, 10, 28, 0, 0, 0, 0, time.UTC), "0000320193-22-000108"),
		ref(320193, "10-K", time.Date(2021, 10, 29, 0, 0, 0, 0, time.UTC), "0000320193-21-000105"),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := env.svc.DownloadBatch(ctx, refs, DownloadOptions{})
	require.Error(t, err)
	assert.True(t, edgar.IsCancelled(err))
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, edgar.IsCancelled(res.Err))
	}
}

func TestFeedStatuses_ReportsEveryFeed(t *testing.T) {
	t.Parallel()

	realtime := &fakeAdapter{kind: edgar.FeedRealTime,
		status: edgar.FeedStatus{Kind: edgar.FeedRealTime, Healthy: true, FileCount: 12, LastUpdated: testNow}}
	quarterly := &fakeAdapter{kind: edgar.FeedQuarterly,
		status: edgar.FeedStatus{Kind: edgar.FeedQuarterly, Healthy: false, Message: "never updated"}}
	env := newTestEnv(t, nil, realtime, quarterly)

	statuses, err := env.svc.FeedStatuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, edgar.FeedRealTime, statuses[0].Kind)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, edgar.FeedQuarterly, statuses[1].Kind)
	assert.Equal(t, "never updated", statuses[1].Message)
}
