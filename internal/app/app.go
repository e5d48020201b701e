// Package app wires a loaded configuration into a ready orchestrator: the
// warehouse, the metrics backend and the HTTP fetcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"backfill/internal/backfill"
	"backfill/internal/config"
	"backfill/internal/metrics"
	"backfill/internal/metrics/datadog"
	"backfill/internal/metrics/prompush"
	"backfill/internal/source"
	"backfill/internal/storage"

	// every backend is compiled in; warehouse.kind picks one.
	_ "backfill/internal/storage/all"
)

type App struct {
	Config       *config.Config
	Log          *zap.Logger
	Metrics      metrics.Backend
	Warehouse    storage.Warehouse
	Orchestrator *backfill.Orchestrator

	closers []func() error
}

// Open opens the warehouse and the metrics backend. A metrics backend that
// fails to start is logged and replaced by a no-op one; a warehouse that
// fails to open is an error.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log}

	m, closeMetrics := OpenMetrics(ctx, cfg, log)
	a.Metrics = m
	a.closers = append(a.closers, closeMetrics)

	wh, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open %s warehouse: %w", cfg.Warehouse.Kind, err)
	}
	a.Warehouse = wh
	a.closers = append(a.closers, wh.Close)

	a.Orchestrator = backfill.New(wh,
		backfill.WithCatalog(cfg.Catalog()),
		backfill.WithTarget(cfg.Warehouse.Database, cfg.Warehouse.Schema),
		backfill.WithRetryPolicy(cfg.RetryPolicy()),
		backfill.WithLogger(log),
		backfill.WithMetrics(m),
		backfill.WithFetcher(NewFetcher(cfg, log, m)),
	)
	return a, nil
}

// NewFetcher builds the HTTP fetcher with the configured timeout.
func NewFetcher(cfg *config.Config, log *zap.Logger, m metrics.Backend) *source.Fetcher {
	timeout := cfg.Source.Timeout
	if timeout <= 0 {
		timeout = source.DefaultTimeout
	}
	return source.NewFetcher(
		source.WithHTTPClient(&http.Client{Timeout: timeout}),
		source.WithLogger(log),
		source.WithMetrics(m),
	)
}

// Run executes one backfill. Zero fields of p fall back to the configured
// defaults.
func (a *App) Run(ctx context.Context, p backfill.Params) (*backfill.Summary, error) {
	return a.Orchestrator.Run(ctx, MergeParams(a.Config.Params(), p))
}

// MergeParams overlays the non-zero fields of override on base. ForceReload
// is sticky: either side can turn it on.
func MergeParams(base, override backfill.Params) backfill.Params {
	out := base
	if override.Service != "" {
		out.Service = override.Service
	}
	if override.Year != 0 {
		out.Year = override.Year
	}
	if override.Months != nil {
		out.Months = override.Months
	}
	if override.ChunkSize != 0 {
		out.ChunkSize = override.ChunkSize
	}
	if override.MaxRetries != 0 {
		out.MaxRetries = override.MaxRetries
	}
	if override.ExecutionDate != nil {
		out.ExecutionDate = override.ExecutionDate
	}
	out.ForceReload = base.ForceReload || override.ForceReload
	return out
}

// Close releases everything Open acquired, metrics last so the final flush
// sees the whole run.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenMetrics starts the configured metrics backend. The returned close
// function flushes it.
func OpenMetrics(ctx context.Context, cfg *config.Config, log *zap.Logger) (metrics.Backend, func() error) {
	nop := func() error { return nil }
	name := cfg.Metrics.Backend

	switch name {
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.Job, cfg.Metrics.PushgatewayURL)
		if err != nil {
			log.Warn("metrics backend unavailable; using nop", zap.String("backend", name), zap.Error(err))
			return metrics.Nop{}, nop
		}
		log.Info("metrics enabled", zap.String("backend", name), zap.String("url", cfg.Metrics.PushgatewayURL), zap.String("job", cfg.Job))
		return b, b.Close

	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.Metrics.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       tags,
			FlushEvery: cfg.Metrics.FlushEvery,
		})
		if err != nil {
			log.Warn("metrics backend unavailable; using nop", zap.String("backend", name), zap.Error(err))
			return metrics.Nop{}, nop
		}
		log.Info("metrics enabled", zap.String("backend", name), zap.String("job", cfg.Job), zap.Strings("tags", tags))
		return b, b.Close

	case "", "none":
		log.Debug("metrics disabled")
	default:
		log.Warn("unknown metrics backend; metrics disabled", zap.String("backend", name))
	}
	return metrics.Nop{}, nop
}
