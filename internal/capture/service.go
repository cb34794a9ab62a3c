package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"candlesight/internal/config"
	"candlesight/internal/instruments"
	"candlesight/internal/metrics"
	"candlesight/internal/predict"
	"candlesight/internal/session"
	"candlesight/internal/store"
	"candlesight/internal/store/cyclejournal"
	"candlesight/internal/vision"
)

// ErrUnknownInstrument rejects capture on a pair the catalog does not list.
var ErrUnknownInstrument = errors.New("capture: unknown trading pair")

// CollectorFactory builds the scoped vision collector for one session loop.
// Each loop owns its collector and releases it on stop.
type CollectorFactory func(sessionID string) vision.Collector

// Service is the registry of capture loops, keyed by session id. There is
// no global singleton: every session gets its own lifecycle.
type Service struct {
	cfg        config.CaptureConfig
	minHistory int
	sessions   *session.Cache
	obs      store.ObservationStore
	engine   *predict.Engine
	journal  *cyclejournal.Journal
	metrics  *metrics.Metrics
	catalog  *instruments.Catalog
	factory  CollectorFactory
	notify   func(Event)

	ctx context.Context

	mu      sync.Mutex
	runners map[string]*Runner
}

// ServiceDeps bundles the collaborators shared by all loops.
type ServiceDeps struct {
	Sessions *session.Cache
	Obs      store.ObservationStore
	Engine   *predict.Engine
	Journal  *cyclejournal.Journal
	Metrics  *metrics.Metrics
	Catalog  *instruments.Catalog
	Factory  CollectorFactory
	Notify   func(Event)
}

// NewService builds the registry. ctx bounds the lifetime of every loop the
// service starts; canceling it stops them all. minHistory is the prediction
// engine's observation floor, shared so loops know when predicting starts.
func NewService(ctx context.Context, cfg config.CaptureConfig, minHistory int, deps ServiceDeps) *Service {
	return &Service{
		cfg:        cfg,
		minHistory: minHistory,
		sessions:   deps.Sessions,
		obs:      deps.Obs,
		engine:   deps.Engine,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		catalog:  deps.Catalog,
		factory:  deps.Factory,
		notify:   deps.Notify,
		ctx:      ctx,
		runners:  make(map[string]*Runner),
	}
}

// Start launches the capture loop for the session on the given pair. The
// loop runs until Stop, service shutdown, or session invalidation.
func (s *Service) Start(sessionID, pair string, interval time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("capture: session id is required")
	}
	norm, err := instruments.NormalizePair(pair)
	if err != nil {
		return err
	}
	if s.catalog != nil {
		if _, ok := s.catalog.Lookup(norm); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownInstrument, norm)
		}
	}
	if interval <= 0 {
		interval = time.Duration(s.cfg.DefaultIntervalMS) * time.Millisecond
	}

	s.mu.Lock()
	if existing, ok := s.runners[sessionID]; ok && existing.Status().Running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runner := NewRunner(Deps{
		Sessions:  s.sessions,
		Collector: s.factory(sessionID),
		Obs:       s.obs,
		Engine:    s.engine,
		Journal:   s.journal,
		Metrics:   s.metrics,
		Notify:    s.notify,
	}, Options{
		SessionID:         sessionID,
		TradingPair:       norm,
		TimeframeSeconds:  s.cfg.TimeframeSeconds,
		Interval:          interval,
		DedupeWindow:      time.Duration(s.cfg.DedupeWindowSec) * time.Second,
		CycleTimeout:      time.Duration(s.cfg.CycleTimeoutSec) * time.Second,
		DegradedThreshold: s.cfg.DegradedThreshold,
		MinHistory:        s.minHistory,
	})
	s.runners[sessionID] = runner
	s.mu.Unlock()

	return runner.Start(s.ctx)
}

// Stop halts the session's loop if one exists. Idempotent.
func (s *Service) Stop(sessionID string) {
	s.mu.Lock()
	runner, ok := s.runners[sessionID]
	s.mu.Unlock()
	if ok {
		runner.Stop()
	}
}

// StopAll halts every loop; used on shutdown.
func (s *Service) StopAll() {
	s.mu.Lock()
	runners := make([]*Runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.Unlock()
	for _, r := range runners {
		r.Stop()
	}
}

// StatusFor reports the loop state for one session.
func (s *Service) StatusFor(sessionID string) (Status, bool) {
	s.mu.Lock()
	runner, ok := s.runners[sessionID]
	s.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return runner.Status(), true
}

// PairFor returns the trading pair a session's loop was started on.
func (s *Service) PairFor(sessionID string) (string, bool) {
	s.mu.Lock()
	runner, ok := s.runners[sessionID]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	return runner.opts.TradingPair, true
}
