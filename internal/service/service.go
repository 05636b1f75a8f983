// Package service is the filing facade: it routes a requested window to
// the right feed, merges feed results with the local store, and drives
// downloads and decomposition of complete submissions.
package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/feeds"
	"github.com/openfilings/edgarfetch/internal/progress"
	"github.com/openfilings/edgarfetch/internal/router"
	"github.com/openfilings/edgarfetch/internal/storage/local"
)

const (
	defaultWorkers    = 5
	defaultExtractTTL = 24 * time.Hour
)

// Deps carries the facade's collaborators. Tickers may be nil when the
// reference file has not been provisioned; ticker searches then fall
// back to whatever the local store already knows.
type Deps struct {
	Router   *router.Router
	Registry *feeds.Registry
	Fetcher  edgar.Fetcher
	Filings  edgar.FilingStore
	Tasks    edgar.TaskStore
	Cache    edgar.KVCache
	Payloads *local.Store
	Tickers  *TickerMap
	Hasher   edgar.Hasher
	IDs      edgar.IDGenerator
	Clock    edgar.Clock
	Progress progress.Emitter
	Logger   *zap.Logger

	// Workers bounds the batch download pool. Zero means the default.
	Workers int
	// ExtractTTL bounds the decomposed-result cache. Zero means the
	// default.
	ExtractTTL time.Duration
}

// Service implements the public facade surface.
type Service struct {
	deps       Deps
	workers    int
	extractTTL time.Duration
}

// New builds the facade. Logger falls back to a no-op logger.
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Service{deps: deps, workers: deps.Workers, extractTTL: deps.ExtractTTL}
	if s.workers <= 0 {
		s.workers = defaultWorkers
	}
	if s.extractTTL <= 0 {
		s.extractTTL = defaultExtractTTL
	}
	return s
}

// SearchRequest captures one facade search. Start and End accept full or
// partial dates (YYYY, YYYY-MM, YYYY-MM-DD); either may be empty.
type SearchRequest struct {
	TickerOrCIK string
	FormTypes   []string
	Start       string
	End         string
	Limit       int
}

// Search routes the window to a feed, enumerates it, merges the results
// with the local store, and returns matching references newest first,
// capped at the request limit. No matches is an empty result, not an
// error. A feed failure degrades to store-only results unless the
// context was cancelled.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]edgar.FilingReference, error) {
	decision := s.deps.Router.Route(req.Start, req.End)
	s.deps.Logger.Debug("routed search window",
		zap.String("feed", string(decision.Kind)),
		zap.String("rationale", decision.Rationale))

	cik, ticker := s.resolveEntity(req.TickerOrCIK)

	var fetched []edgar.FilingReference
	if adapter, ok := s.deps.Registry.Get(decision.Kind); ok {
		refs, err := adapter.Fetch(ctx, feeds.Window{Start: decision.Start, End: decision.End})
		switch {
		case err == nil:
			fetched = refs
		case edgar.IsCancelled(err):
			return nil, err
		default:
			s.deps.Logger.Warn("feed enumeration failed, serving stored results",
				zap.String("feed", string(decision.Kind)),
				zap.Error(err))
		}
	}

	entityRequested := strings.TrimSpace(req.TickerOrCIK) != ""
	window := feeds.Window{Start: decision.Start, End: decision.End}
	merged := make(map[string]edgar.FilingReference)
	for _, ref := range fetched {
		if !matches(ref, cik, entityRequested, req.FormTypes, window) {
			continue
		}
		if ticker != "" {
			ref.Ticker = ticker
		}
		merged[ref.AccessionNumber] = ref
		// Feed hits become part of the durable cache so later searches
		// can answer without the feed.
		if err := s.deps.Filings.UpsertFiling(ctx, ref); err != nil {
			s.deps.Logger.Warn("caching search hit failed",
				zap.String("accession", ref.AccessionNumber),
				zap.Error(err))
		}
	}

	stored, err := s.deps.Filings.ListFilings(ctx, edgar.Query{
		TickerOrCIK: req.TickerOrCIK,
		FormTypes:   req.FormTypes,
		Start:       decision.Start,
		End:         decision.End,
		Limit:       0,
	})
	if err != nil {
		return nil, err
	}
	for _, ref := range stored {
		merged[ref.AccessionNumber] = ref
	}

	out := make([]edgar.FilingReference, 0, len(merged))
	for _, ref := range merged {
		out = append(out, ref)
	}
	sortNewestFirst(out)
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// resolveEntity splits a tickerOrCik argument into a numeric CIK and,
// when the input was a symbol, the normalized ticker. An unresolvable
// ticker yields CIK 0; the store's own ticker column still applies.
func (s *Service) resolveEntity(tickerOrCIK string) (int64, string) {
	trimmed := strings.TrimSpace(tickerOrCIK)
	if trimmed == "" {
		return 0, ""
	}
	if isDigits(trimmed) {
		cik, err := edgar.ParseCIK(trimmed)
		if err == nil {
			return cik, ""
		}
	}
	ticker := strings.ToUpper(trimmed)
	cik, ok := s.deps.Tickers.CIK(ticker)
	if !ok {
		s.deps.Logger.Debug("ticker not in reference map", zap.String("ticker", ticker))
		return 0, ticker
	}
	return cik, ticker
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// matches applies the entity, form, and window filters to one feed hit.
// A search by unresolvable ticker matches no feed hits; feeds carry no
// ticker column, so attribution is impossible there.
func matches(ref edgar.FilingReference, cik int64, entityRequested bool, formTypes []string, w feeds.Window) bool {
	if entityRequested && (cik == 0 || ref.CIK != cik) {
		return false
	}
	if len(formTypes) > 0 {
		ok := false
		for _, ft := range formTypes {
			if strings.EqualFold(strings.TrimSpace(ft), ref.FormType) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return w.Contains(ref.FilingDate)
}

func sortNewestFirst(refs []edgar.FilingReference) {
	sort.SliceStable(refs, func(i, j int) bool {
		if !refs[i].FilingDate.Equal(refs[j].FilingDate) {
			return refs[i].FilingDate.After(refs[j].FilingDate)
		}
		return refs[i].AccessionNumber > refs[j].AccessionNumber
	})
}

// FeedStatuses reports the last recorded status of every registered
// feed, in freshness order. The payload store's footprint is shared by
// all feeds, so it is reported on each status that has no size of its
// own.
func (s *Service) FeedStatuses(ctx context.Context) ([]edgar.FeedStatus, error) {
	var payloadBytes int64
	if s.deps.Payloads != nil {
		if _, bytes, err := s.deps.Payloads.Usage(); err == nil {
			payloadBytes = bytes
		} else {
			s.deps.Logger.Warn("payload usage unavailable", zap.Error(err))
		}
	}

	kinds := s.deps.Registry.Kinds()
	out := make([]edgar.FeedStatus, 0, len(kinds))
	for _, kind := range kinds {
		adapter, _ := s.deps.Registry.Get(kind)
		st, err := adapter.Status(ctx)
		if err != nil {
			s.deps.Logger.Warn("feed status unavailable",
				zap.String("feed", string(kind)), zap.Error(err))
			st = edgar.FeedStatus{Kind: kind, Healthy: false, Message: err.Error()}
		}
		if st.DataSize == 0 {
			st.DataSize = payloadBytes
		}
		out = append(out, st)
	}
	return out, nil
}

// RefreshFeeds runs every registered adapter's update cycle. Individual
// failures are logged and the first one returned; cancellation stops the
// sweep immediately.
func (s *Service) RefreshFeeds(ctx context.Context) error {
	var first error
	for _, kind := range s.deps.Registry.Kinds() {
		adapter, _ := s.deps.Registry.Get(kind)
		if err := adapter.Update(ctx); err != nil {
			if edgar.IsCancelled(err) {
				return err
			}
			s.deps.Logger.Warn("feed update failed",
				zap.String("feed", string(kind)), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
