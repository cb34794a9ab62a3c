package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"candlesight/internal/capture"
	"candlesight/internal/config"
	"candlesight/internal/instruments"
	"candlesight/internal/logger"
	"candlesight/internal/metrics"
	"candlesight/internal/predict"
	"candlesight/internal/seed"
	"candlesight/internal/session"
	"candlesight/internal/store/cyclejournal"
	"candlesight/internal/store/gormstore"
	apihttp "candlesight/internal/transport/http"
	"candlesight/internal/vision"
)

// AppBuilder constructs an App. The fn fields exist so tests can swap the
// browser-backed pieces for fakes without touching the wiring itself.
type AppBuilder struct {
	cfg *config.Config

	verifierFn  func(*config.Config) session.Verifier
	collectorFn func(*config.Config) capture.CollectorFactory

	storeOverride *gormstore.Store
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		verifierFn:  buildVerifier,
		collectorFn: buildCollectorFactory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithVerifier swaps the platform login probe.
func WithVerifier(v session.Verifier) AppBuilderOption {
	return func(b *AppBuilder) {
		if v != nil {
			b.verifierFn = func(*config.Config) session.Verifier { return v }
		}
	}
}

// WithCollectorFactory swaps the per-session chart collector.
func WithCollectorFactory(f capture.CollectorFactory) AppBuilderOption {
	return func(b *AppBuilder) {
		if f != nil {
			b.collectorFn = func(*config.Config) capture.CollectorFactory { return f }
		}
	}
}

// WithStore injects a pre-opened store (in-memory in tests).
func WithStore(st *gormstore.Store) AppBuilderOption {
	return func(b *AppBuilder) { b.storeOverride = st }
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st := b.storeOverride
	if st == nil {
		var err error
		st, err = gormstore.Open(filepath.Join(cfg.App.DataDir, "candlesight.db"))
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	journal, err := cyclejournal.Open(filepath.Join(cfg.App.DataDir, "cycles.db"))
	if err != nil {
		return nil, fmt.Errorf("opening cycle journal: %w", err)
	}

	catalog, err := instruments.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("loading instrument catalog: %w", err)
	}
	logger.Infof("instrument catalog loaded: %d pair(s)", len(catalog.Pairs()))

	registry := prometheus.NewRegistry()
	mx := metrics.New(registry)

	sessions := session.NewCache(st, b.verifierFn(cfg), session.Options{
		RevalidationWindow: time.Duration(cfg.Session.RevalidationWindowMin) * time.Minute,
		TTL:                time.Duration(cfg.Session.TTLHours) * time.Hour,
		IdleBound:          time.Duration(cfg.Session.IdleExpiryDays) * 24 * time.Hour,
		ReapInterval:       time.Duration(cfg.Session.ReapIntervalMin) * time.Minute,
	})

	engine := predict.NewEngine(cfg.Predict, st, st)
	hub := apihttp.NewHub()

	service := capture.NewService(ctx, cfg.Capture, cfg.Predict.MinHistory, capture.ServiceDeps{
		Sessions: sessions,
		Obs:      st,
		Engine:   engine,
		Journal:  journal,
		Metrics:  mx,
		Catalog:  catalog,
		Factory:  b.collectorFn(cfg),
		Notify:   hub.Publish,
	})

	router := &apihttp.Router{
		Sessions:    sessions,
		Capture:     service,
		Obs:         st,
		Predictions: st,
		Engine:      engine,
		Journal:     journal,
		Hub:         hub,
	}
	server, err := apihttp.NewServer(cfg.App.ListenAddr, router, registry)
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}

	var seeder *seed.Seeder
	if cfg.Seed.Enabled {
		seeder = seed.NewSeeder(st)
	}

	return &App{
		cfg:      cfg,
		store:    st,
		journal:  journal,
		sessions: sessions,
		service:  service,
		server:   server,
		seeder:   seeder,
	}, nil
}

func buildVerifier(cfg *config.Config) session.Verifier {
	// the verifier keeps its own browser so a stopping capture loop cannot
	// tear it down mid-probe
	return vision.NewChromeCollector(cfg.Platform, cfg.Capture.ScreenshotRetention)
}

func buildCollectorFactory(cfg *config.Config) capture.CollectorFactory {
	return func(sessionID string) vision.Collector {
		return vision.NewChromeCollector(cfg.Platform, cfg.Capture.ScreenshotRetention)
	}
}
