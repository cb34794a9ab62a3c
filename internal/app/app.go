// Package app assembles the service: storage, session cache, capture
// registry, prediction engine and the HTTP surface, and runs them as one
// unit.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"candlesight/internal/capture"
	"candlesight/internal/config"
	"candlesight/internal/logger"
	"candlesight/internal/seed"
	"candlesight/internal/session"
	"candlesight/internal/store/cyclejournal"
	"candlesight/internal/store/gormstore"
	apihttp "candlesight/internal/transport/http"
)

const shutdownGrace = 10 * time.Second

// App owns the wired components and their lifecycles.
type App struct {
	cfg      *config.Config
	store    *gormstore.Store
	journal  *cyclejournal.Journal
	sessions *session.Cache
	service  *capture.Service
	server   *apihttp.Server
	seeder   *seed.Seeder
}

// NewApp builds the application from config; nothing is started yet.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the HTTP server, the session reaper and (when configured) the
// history seeder, then blocks until a termination signal or a fatal error.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.sessions.StartReaper(ctx)

	group, ctx := errgroup.WithContext(ctx)

	if a.seeder != nil && a.cfg.Seed.Enabled {
		group.Go(func() error {
			// a failed backfill is not fatal; live capture builds its own history
			if _, err := a.seeder.Run(ctx, a.cfg.Seed.Pair, a.cfg.Seed.Symbol, a.cfg.Seed.Limit); err != nil {
				logger.Warnf("history seed: %v", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Infof("shutting down")
		a.service.StopAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}
		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				logger.Warnf("journal close: %v", err)
			}
		}
		if err := a.store.Close(); err != nil {
			logger.Warnf("store close: %v", err)
		}
		return nil
	})

	return group.Wait()
}

// CaptureService exposes the loop registry (for test harnesses).
func (a *App) CaptureService() *capture.Service {
	if a == nil {
		return nil
	}
	return a.service
}
