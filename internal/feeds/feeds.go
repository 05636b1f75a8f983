// Package feeds enumerates filings from the archive's four retrieval
// mechanisms and normalizes them into filing references.
package feeds

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// Window bounds the filing dates an adapter should enumerate. A zero
// Start or End leaves that side open.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// Adapter enumerates filings from one feed. Fetch returns normalized
// references newest-first; Update refreshes the feed's cached state and
// status record; Status reports the last recorded state without network
// access.
type Adapter interface {
	Kind() edgar.FeedKind
	Fetch(ctx context.Context, w Window) ([]edgar.FilingReference, error)
	Update(ctx context.Context) error
	Status(ctx context.Context) (edgar.FeedStatus, error)
}

// Deps carries the shared collaborators every adapter needs.
type Deps struct {
	Fetcher   edgar.Fetcher
	Filings   edgar.FilingStore
	Tasks     edgar.TaskStore
	Cache     edgar.KVCache
	Clock     edgar.Clock
	IDs       edgar.IDGenerator
	Logger    *zap.Logger
	UserAgent string

	// BaseURL overrides the archive root, used by tests.
	BaseURL string
}

func (d Deps) base() string {
	if d.BaseURL != "" {
		return d.BaseURL
	}
	return edgar.BaseURL
}

// rebase swaps the archive root of a built URL for the configured one.
func rebase(base, full string) string {
	if base == edgar.BaseURL {
		return full
	}
	return base + strings.TrimPrefix(full, edgar.BaseURL)
}

// Registry resolves adapters by feed kind.
type Registry struct {
	adapters map[edgar.FeedKind]Adapter
}

// NewRegistry indexes the given adapters by kind.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[edgar.FeedKind]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Kind()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind edgar.FeedKind) (Adapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds lists registered feed kinds in freshness order.
func (r *Registry) Kinds() []edgar.FeedKind {
	order := []edgar.FeedKind{edgar.FeedRealTime, edgar.FeedDaily, edgar.FeedMonthly, edgar.FeedQuarterly}
	out := make([]edgar.FeedKind, 0, len(r.adapters))
	for _, k := range order {
		if _, ok := r.adapters[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

const statusTTL = 7 * 24 * time.Hour

func statusKey(kind edgar.FeedKind) string {
	return "feed-status:" + string(kind)
}

// recordStatus persists a feed status snapshot in the expiring cache.
func recordStatus(ctx context.Context, cache edgar.KVCache, st edgar.FeedStatus) error {
	blob, err := msgpack.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode feed status: %w", err)
	}
	return cache.CacheSet(ctx, statusKey(st.Kind), blob, statusTTL)
}

// readStatus loads the last recorded status for kind. A missing record
// reports an unhealthy feed that has never updated.
func readStatus(ctx context.Context, cache edgar.KVCache, kind edgar.FeedKind) (edgar.FeedStatus, error) {
	blob, ok, err := cache.CacheGet(ctx, statusKey(kind))
	if err != nil {
		return edgar.FeedStatus{}, err
	}
	if !ok {
		return edgar.FeedStatus{Kind: kind, Healthy: false, Message: "never updated"}, nil
	}
	var st edgar.FeedStatus
	if err := msgpack.Unmarshal(blob, &st); err != nil {
		return edgar.FeedStatus{}, fmt.Errorf("decode feed status: %w", err)
	}
	return st, nil
}

// indexTaskParams is the msgpack payload stored on fetch-index tasks.
type indexTaskParams struct {
	Feed edgar.FeedKind `msgpack:"feed"`
	URL  string         `msgpack:"url"`
}

// runIndexTask wraps one index fetch in a tracked task so failures are
// inspectable after the fact. The task outcome mirrors fn's result.
func runIndexTask(ctx context.Context, d Deps, kind edgar.FeedKind, url string, fn func(context.Context) error) error {
	id, err := d.IDs.NewID()
	if err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	params, err := msgpack.Marshal(indexTaskParams{Feed: kind, URL: url})
	if err != nil {
		return fmt.Errorf("encode task params: %w", err)
	}
	if err := d.Tasks.CreateTask(ctx, edgar.DownloadTask{
		ID:         id,
		Kind:       edgar.TaskKindFetchIndex,
		ParamsBlob: params,
	}); err != nil {
		return fmt.Errorf("create index task: %w", err)
	}
	if err := d.Tasks.UpdateTaskStatus(ctx, id, edgar.TaskStatusRunning, ""); err != nil {
		return err
	}
	_ = d.Tasks.AppendTaskLog(ctx, id, "fetching "+url)

	runErr := fn(ctx)
	switch {
	case runErr == nil:
		_ = d.Tasks.AppendTaskLog(ctx, id, "done")
		return d.Tasks.UpdateTaskStatus(ctx, id, edgar.TaskStatusCompleted, "")
	case edgar.IsCancelled(runErr):
		_ = d.Tasks.AppendTaskLog(ctx, id, "cancelled")
		_ = d.Tasks.UpdateTaskStatus(ctx, id, edgar.TaskStatusCancelled, runErr.Error())
		return runErr
	default:
		_ = d.Tasks.AppendTaskLog(ctx, id, runErr.Error())
		_ = d.Tasks.UpdateTaskStatus(ctx, id, edgar.TaskStatusFailed, runErr.Error())
		return runErr
	}
}

// upsertAll stores every valid reference, logging and skipping the rest.
func upsertAll(ctx context.Context, d Deps, refs []edgar.FilingReference) int64 {
	var stored int64
	for _, ref := range refs {
		if err := d.Filings.UpsertFiling(ctx, ref); err != nil {
			d.Logger.Warn("skipping filing reference",
				zap.String("accession", ref.AccessionNumber),
				zap.Error(err))
			continue
		}
		stored++
	}
	return stored
}

// mustSourcePath builds the archive-relative path of a complete
// submission file.
func mustSourcePath(cik int64, accession string) string {
	return fmt.Sprintf("edgar/data/%d/%s.txt", cik, accession)
}

// sortNewestFirst orders references by filing date descending, accession
// descending as the tiebreak.
func sortNewestFirst(refs []edgar.FilingReference) {
	sort.SliceStable(refs, func(i, j int) bool {
		if !refs[i].FilingDate.Equal(refs[j].FilingDate) {
			return refs[i].FilingDate.After(refs[j].FilingDate)
		}
		return refs[i].AccessionNumber > refs[j].AccessionNumber
	})
}
