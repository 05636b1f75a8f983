// Package app initializes and holds the long-lived services of the
// filing pipeline, acting as the composition root shared by every CLI
// command.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openfilings/edgarfetch/internal/clock/system"
	"github.com/openfilings/edgarfetch/internal/config"
	"github.com/openfilings/edgarfetch/internal/edgar"
	"github.com/openfilings/edgarfetch/internal/feeds"
	"github.com/openfilings/edgarfetch/internal/feeds/index"
	"github.com/openfilings/edgarfetch/internal/fetcher"
	"github.com/openfilings/edgarfetch/internal/hash/sha256"
	"github.com/openfilings/edgarfetch/internal/id/uuid"
	"github.com/openfilings/edgarfetch/internal/logging"
	"github.com/openfilings/edgarfetch/internal/metrics"
	"github.com/openfilings/edgarfetch/internal/progress"
	"github.com/openfilings/edgarfetch/internal/progress/sinks"
	"github.com/openfilings/edgarfetch/internal/router"
	"github.com/openfilings/edgarfetch/internal/service"
	"github.com/openfilings/edgarfetch/internal/storage/local"
	"github.com/openfilings/edgarfetch/internal/store"
)

// App holds every shared service. It is built once at startup and
// passed to commands through the cobra context.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Clock    edgar.Clock
	Store    *store.Store
	Payloads *local.Store
	Index    *index.Store
	Fetcher  *fetcher.Client
	Hub      *progress.Hub
	Registry *feeds.Registry
	Service  *service.Service

	// Tickers is nil when the reference file is not provisioned;
	// TickersErr then carries the configuration error with the
	// remediation step.
	Tickers    *service.TickerMap
	TickersErr error
}

// New builds the full service graph from the config at cfgPath. It
// fails fast on anything unusable; a missing ticker map alone is
// recorded, not fatal, because numeric-CIK work does not need it.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	clk := system.New()
	st, err := store.Open(cfg.Storage.DataDir, clk, logger)
	if err != nil {
		return nil, err
	}
	payloads, err := local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	if err != nil {
		st.Close()
		return nil, err
	}
	idx, err := index.Open(cfg.Storage.IndexPath, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	client, err := fetcher.New(fetcher.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		Timeout:       cfg.Fetcher.Timeout(),
		MaxConcurrent: cfg.Fetcher.MaxConcurrent,
		MinInterval:   cfg.Fetcher.MinInterval(),
		MaxRetries:    cfg.Fetcher.MaxRetries,
		BackoffBase:   cfg.Fetcher.BackoffInitial(),
		BackoffMax:    cfg.Fetcher.BackoffMax(),
	}, logger)
	if err != nil {
		idx.Close()
		st.Close()
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		idx.Close()
		st.Close()
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{BaseContext: ctx, Logger: logger},
		sinks.NewLogSink(logger),
		promSink,
		sinks.NewStoreSink(st, logger),
	)

	tickers, tickersErr := service.LoadTickerMap(cfg.Storage.TickerMapPath)
	if tickersErr != nil {
		var cfgErr *edgar.ConfigurationError
		if !errors.As(tickersErr, &cfgErr) {
			hub.Close(ctx)
			idx.Close()
			st.Close()
			return nil, tickersErr
		}
		logger.Warn("ticker map unavailable, ticker searches degraded",
			zap.Error(tickersErr))
		tickers = nil
	}

	deps := feeds.Deps{
		Fetcher:   client,
		Filings:   st,
		Tasks:     st,
		Cache:     st,
		Clock:     clk,
		IDs:       uuid.NewUUIDGenerator(),
		Logger:    logger,
		UserAgent: cfg.Fetcher.UserAgent,
	}
	daily := feeds.NewDaily(deps)
	registry := feeds.NewRegistry(
		feeds.NewRealTime(deps),
		daily,
		feeds.NewMonthly(deps, daily),
		feeds.NewQuarterly(deps, idx),
	)

	svc := service.New(service.Deps{
		Router:     router.New(clk),
		Registry:   registry,
		Fetcher:    client,
		Filings:    st,
		Tasks:      st,
		Cache:      st,
		Payloads:   payloads,
		Tickers:    tickers,
		Hasher:     sha256.New(),
		IDs:        uuid.NewUUIDGenerator(),
		Clock:      clk,
		Progress:   hub,
		Logger:     logger,
		Workers:    cfg.Service.Workers,
		ExtractTTL: cfg.Service.ExtractTTL(),
	})

	return &App{
		Config:     cfg,
		Logger:     logger,
		Clock:      clk,
		Store:      st,
		Payloads:   payloads,
		Index:      idx,
		Fetcher:    client,
		Hub:        hub,
		Registry:   registry,
		Service:    svc,
		Tickers:    tickers,
		TickersErr: tickersErr,
	}, nil
}

// Close shuts the services down in reverse dependency order.
func (a *App) Close(ctx context.Context) {
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			a.Logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			a.Logger.Warn("index close failed", zap.Error(err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("store close failed", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
