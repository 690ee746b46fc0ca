// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/vitalsync/vitalsync/internal/config"
	"github.com/vitalsync/vitalsync/internal/logging"
	"github.com/vitalsync/vitalsync/internal/remote"
	"github.com/vitalsync/vitalsync/internal/storage"
	enginesync "github.com/vitalsync/vitalsync/internal/sync"
)

// app holds the wired collaborators commands operate on.
type app struct {
	cfg        *config.Config
	store      *storage.Store
	registry   *remote.Registry
	reporter   *enginesync.MultiReporter
	controller *enginesync.Controller
}

// newApp loads configuration, initializes logging, opens the store and
// assembles the engine.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	store, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, err
	}

	reporter := enginesync.NewMultiReporter(enginesync.LogReporter{})
	controller := enginesync.NewController(store, store, store, registry, enginesync.Options{
		Reporter:     reporter,
		UnitInterval: cfg.Sync.UnitInterval,
	})

	return &app{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		reporter:   reporter,
		controller: controller,
	}, nil
}

// buildRegistry registers one HTTP accessor per configured metric,
// wrapped in a circuit breaker when enabled. With no remote configured
// the registry stays empty; read-only commands still work.
func buildRegistry(cfg *config.Config) (*remote.Registry, error) {
	registry := remote.NewRegistry()
	if cfg.Remote.BaseURL == "" {
		return registry, nil
	}
	for _, metric := range cfg.Sync.Metrics {
		accessor, err := remote.NewHTTPAccessor(cfg.Remote.BaseURL, metric, cfg.Remote.Timeout)
		if err != nil {
			return nil, fmt.Errorf("accessor for %s: %w", metric, err)
		}
		var a remote.Accessor = accessor
		if cfg.Remote.BreakerEnabled {
			a = remote.WithBreaker(metric, a)
		}
		registry.Register(metric, a)
	}
	return registry, nil
}

// close shuts down active syncs and the store.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.controller.Close(ctx); err != nil {
		logging.Warn().Err(err).Msg("Engine shutdown incomplete")
	}
	if err := a.store.Close(); err != nil {
		logging.Warn().Err(err).Msg("Store close failed")
	}
}
