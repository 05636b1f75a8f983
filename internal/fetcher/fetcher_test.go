package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

func testClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	if cfg.UserAgent == "" {
		cfg.UserAgent = "edgarfetch-test test@example.com"
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = time.Millisecond
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 5 * time.Millisecond
	}
	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNew_RequiresUserAgent(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)

	var cfgErr *edgar.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Error(), "user_agent")
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := testClient(t, Config{})
	body, err := c.Fetch(context.Background(), srv.URL, edgar.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), body)
	assert.Equal(t, "edgarfetch-test test@example.com", gotUA)
}

func TestFetch_RetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(t, Config{MaxRetries: 3})
	body, err := c.Fetch(context.Background(), srv.URL, edgar.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetch_ExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, Config{MaxRetries: 2})
	_, err := c.Fetch(context.Background(), srv.URL, edgar.FetchOptions{})
	require.Error(t, err)

	var transient *edgar.TransientNetworkError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempts)
	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetch_TimeoutRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(500 * time.Millisecond)
			return
		}
		w.Write([]byte("slow start"))
	}))
	defer srv.Close()

	c := testClient(t, Config{MaxRetries: 2, Timeout: 75 * time.Millisecond})
	body, err := c.Fetch(context.Background(), srv.URL, edgar.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("slow start"), body)
	// The timed-out first attempt must be retried, not surfaced as
	// cancellation.
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetch_TimeoutExhaustionIsTransient(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := testClient(t, Config{MaxRetries: 1, Timeout: 50 * time.Millisecond})
	_, err := c.Fetch(context.Background(), srv.URL, edgar.FetchOptions{})
	require.Error(t, err)

	var transient *edgar.TransientNetworkError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 2, transient.Attempts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.False(t, edgar.IsCancelled(err), "per-request timeout reported as cancellation: %v", err)
}

func TestFetch_ClientErrorNoRetry(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, Config{MaxRetries: 3})
	_, err := c.Fetch(context.Background(), srv.URL, edgar.FetchOptions{})
	require.Error(t, err)

	var clientErr *edgar.ClientRequestError
	require.ErrorAs(t, err, &clientErr)
	assert.Equal(t, http.StatusNotFound, clientErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetch_HonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(t, Config{MaxRetries: 1})
	start := time.Now()
	body, err := c.Fetch(context.Background(), srv.URL, edgar.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "Retry-After should override the shorter backoff")
}

func TestFetch_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := testClient(t, Config{MaxRetries: 3, Timeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, srv.URL, edgar.FetchOptions{})
	require.Error(t, err)
	assert.True(t, edgar.IsCancelled(err), "expected cancelled error, got %v", err)
	assert.Equal(t, 1, strings.Count(err.Error(), edgar.ErrCancelled.Error()))
}

func TestFetchToFile_CacheShortCircuit(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("filing body"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "filings", "0000320193-23-000106.txt")
	c := testClient(t, Config{})

	first, err := c.FetchToFile(context.Background(), srv.URL, dest, edgar.FetchOptions{})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, int64(len("filing body")), first.Size)

	second, err := c.FetchToFile(context.Background(), srv.URL, dest, edgar.FetchOptions{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call must not hit the network")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "filing body", string(data))
}

func TestFetchToFile_OverwriteRefetches(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("v2"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "filing.txt")
	require.NoError(t, os.WriteFile(dest, []byte("v1"), 0o600))

	c := testClient(t, Config{})
	res, err := c.FetchToFile(context.Background(), srv.URL, dest, edgar.FetchOptions{Overwrite: true})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestFetch_GlobalSpacingUnderConcurrency(t *testing.T) {
	t.Parallel()

	const interval = 30 * time.Millisecond

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient(t, Config{MinInterval: interval, MaxConcurrent: 5})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Fetch(context.Background(), srv.URL, edgar.FetchOptions{}); err != nil {
				t.Errorf("fetch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 5)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, interval-15*time.Millisecond, "request %d violated spacing", i)
	}
}

func TestRetryPolicy_NeverRetriesCancellation(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Second)
	assert.False(t, p.ShouldRetry(context.Canceled, 0))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
	assert.False(t, p.ShouldRetry(nil, 0))
	assert.False(t, p.ShouldRetry(errors.New("anything"), 3))
	assert.True(t, p.ShouldRetry(errors.New("transient"), 2))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 7*time.Second, parseRetryAfter("7", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))

	at := now.Add(30 * time.Second)
	assert.Equal(t, 30*time.Second, parseRetryAfter(at.Format(http.TimeFormat), now))
}
