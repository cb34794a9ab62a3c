// Package capture drives one capture-and-predict loop per session: read the
// chart, dedupe, persist, predict, grade. Loops for different sessions are
// independent; a single loop never overlaps itself.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"candlesight/internal/logger"
	"candlesight/internal/metrics"
	"candlesight/internal/predict"
	"candlesight/internal/session"
	"candlesight/internal/store"
	"candlesight/internal/store/cyclejournal"
	"candlesight/internal/types"
	"candlesight/internal/vision"
)

// ErrAlreadyRunning is returned by Start when a loop is active.
var ErrAlreadyRunning = errors.New("capture: already running for this session")

// StorageError wraps a persistence failure inside a cycle; the cycle is
// marked failed and the loop continues.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Status is the externally visible loop state.
type Status struct {
	Running     bool      `json:"running"`
	Degraded    bool      `json:"degraded"`
	LastCycleAt time.Time `json:"last_cycle_at"`
	LastError   string    `json:"last_error,omitempty"`
	SessionID   string    `json:"session_id"`
	TradingPair string    `json:"trading_pair"`
}

// Event is pushed to stream subscribers after a cycle produces something.
type Event struct {
	Type        string                   `json:"type"`
	SessionID   string                   `json:"session_id"`
	TradingPair string                   `json:"trading_pair"`
	Observation *types.CandleObservation `json:"observation,omitempty"`
	Prediction  *types.PredictionRecord  `json:"prediction,omitempty"`
	At          time.Time                `json:"at"`
}

// Deps are the collaborators one runner needs.
type Deps struct {
	Sessions  *session.Cache
	Collector vision.Collector
	Obs       store.ObservationStore
	Engine    *predict.Engine
	Journal   *cyclejournal.Journal // optional
	Metrics   *metrics.Metrics
	Notify    func(Event) // optional
}

// Options are the per-loop knobs.
type Options struct {
	SessionID         string
	TradingPair       string
	TimeframeSeconds  int
	Interval          time.Duration
	DedupeWindow      time.Duration
	CycleTimeout      time.Duration
	DegradedThreshold int
	MinHistory        int
}

// Runner is one session's capture loop.
type Runner struct {
	deps Deps
	opts Options

	mu           sync.Mutex
	running      bool
	inFlight     bool
	degraded     bool
	failures     int
	lastCycleAt  time.Time
	lastErr      error
	cancel       context.CancelFunc
	done         chan struct{}
	stopRequests chan struct{}
}

func NewRunner(deps Deps, opts Options) *Runner {
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = 30 * time.Second
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 30 * time.Second
	}
	if opts.DegradedThreshold <= 0 {
		opts.DegradedThreshold = 3
	}
	if opts.MinHistory <= 0 {
		opts.MinHistory = 10
	}
	return &Runner{deps: deps, opts: opts}
}

// Start performs one cycle immediately, then schedules further cycles every
// interval until Stop. Fails with ErrAlreadyRunning when the loop is active.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.degraded = false
	r.failures = 0
	r.lastErr = nil
	r.cancel = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	if r.deps.Metrics != nil {
		r.deps.Metrics.ActiveLoops.Inc()
	}
	logger.Infof("capture loop started session=%s pair=%s interval=%s",
		r.opts.SessionID, r.opts.TradingPair, r.opts.Interval)

	go r.loop(loopCtx)
	return nil
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if r.deps.Metrics != nil {
			r.deps.Metrics.ActiveLoops.Dec()
		}
	}()

	r.tick(ctx)
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick runs one cycle unless the previous one is still in flight; an
// overlapping tick is skipped, never queued.
func (r *Runner) tick(ctx context.Context) {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		logger.Debugf("capture tick skipped, previous cycle in flight session=%s", r.opts.SessionID)
		return
	}
	r.inFlight = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.mu.Unlock()
	}()

	started := time.Now()
	entry := cyclejournal.Entry{
		SessionID: r.opts.SessionID,
		Pair:      r.opts.TradingPair,
		StartedAt: started.UTC(),
	}
	cycleCtx, cancel := context.WithTimeout(ctx, r.opts.CycleTimeout)
	outcome, predicted, verified, err := r.cycle(cycleCtx)
	cancel()

	entry.DurationMS = time.Since(started).Milliseconds()
	entry.Outcome = outcome
	entry.Predicted = predicted
	entry.Verified = verified

	r.mu.Lock()
	r.lastCycleAt = started.UTC()
	switch {
	case err != nil:
		entry.Error = err.Error()
		r.lastErr = err
		r.failures++
		if r.failures >= r.opts.DegradedThreshold && !r.degraded {
			r.degraded = true
			logger.Warnf("capture loop degraded after %d consecutive failures session=%s", r.failures, r.opts.SessionID)
		}
	case outcome == cyclejournal.OutcomeOK:
		r.failures = 0
		if r.degraded {
			r.degraded = false
			logger.Infof("capture loop recovered session=%s", r.opts.SessionID)
		}
		r.lastErr = nil
	}
	r.mu.Unlock()
	sessionInvalid := outcome == cyclejournal.OutcomeSkipped && err == nil && r.sessionIsInvalid(ctx)

	if err != nil {
		logger.Warnf("capture cycle failed session=%s: %v", r.opts.SessionID, err)
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.CyclesTotal.WithLabelValues(string(outcome)).Inc()
	}
	if r.deps.Journal != nil {
		if jerr := r.deps.Journal.Append(context.Background(), entry); jerr != nil {
			logger.Warnf("cycle journal append: %v", jerr)
		}
	}
	if sessionInvalid {
		// an explicitly invalidated session stops the loop; stale sessions
		// only skip cycles
		logger.Infof("capture loop stopping, session invalidated session=%s", r.opts.SessionID)
		go r.Stop()
	}
}

func (r *Runner) sessionIsInvalid(ctx context.Context) bool {
	rec, err := r.deps.Sessions.Peek(ctx, r.opts.SessionID)
	return err == nil && rec.Status == types.SessionInvalid
}

// cycle is one capture-and-predict pass.
func (r *Runner) cycle(ctx context.Context) (cyclejournal.Outcome, bool, bool, error) {
	usable, err := r.deps.Sessions.IsUsable(ctx, r.opts.SessionID)
	if err != nil {
		return cyclejournal.OutcomeFailed, false, false, err
	}
	if !usable.Usable {
		logger.Warnf("capture cycle skipped, session not usable session=%s: %s", r.opts.SessionID, usable.Reason)
		return cyclejournal.OutcomeSkipped, false, false, nil
	}

	raw, err := r.deps.Collector.CaptureObservation(ctx, r.opts.SessionID)
	if err != nil {
		return cyclejournal.OutcomeFailed, false, false, &vision.CollectionError{SessionID: r.opts.SessionID, Err: err}
	}

	prevClose := r.previousClose(ctx)
	obs, err := vision.BuildCandle(raw, r.opts.TradingPair, r.opts.SessionID, r.opts.TimeframeSeconds, prevClose)
	if err != nil {
		if errors.Is(err, vision.ErrExtractionFailed) {
			// explicit low-quality signal: skip, never fabricate
			logger.Warnf("capture cycle skipped, extraction failed session=%s", r.opts.SessionID)
			return cyclejournal.OutcomeSkipped, false, false, nil
		}
		return cyclejournal.OutcomeFailed, false, false, err
	}

	dup, err := r.deps.Obs.HasNear(ctx, obs.TradingPair, obs.SessionID, obs.Timestamp, r.opts.DedupeWindow)
	if err != nil {
		return cyclejournal.OutcomeFailed, false, false, &StorageError{Op: "dedupe lookup", Err: err}
	}
	if dup {
		// platform double-capture: soft drop
		logger.Debugf("duplicate observation dropped session=%s ts=%s", r.opts.SessionID, obs.Timestamp)
		if r.deps.Metrics != nil {
			r.deps.Metrics.DuplicatesTotal.Inc()
		}
		return cyclejournal.OutcomeDuplicate, false, false, nil
	}

	if err := r.deps.Obs.InsertObservation(ctx, obs); err != nil {
		return cyclejournal.OutcomeFailed, false, false, &StorageError{Op: "observation insert", Err: err}
	}
	r.notify(Event{Type: "observation", SessionID: obs.SessionID, TradingPair: obs.TradingPair, Observation: &obs, At: time.Now().UTC()})

	predicted := r.maybePredict(ctx)
	verified := r.verify(ctx, obs)
	return cyclejournal.OutcomeOK, predicted, verified, nil
}

func (r *Runner) previousClose(ctx context.Context) float64 {
	recent, err := r.deps.Obs.RecentObservations(ctx, r.opts.TradingPair, 1)
	if err != nil || len(recent) == 0 {
		return 0
	}
	return recent[0].Close
}

// maybePredict emits a new call when enough history exists and the previous
// call has already been graded; one outstanding prediction at a time.
func (r *Runner) maybePredict(ctx context.Context) bool {
	count, err := r.deps.Obs.CountForSession(ctx, r.opts.SessionID)
	if err != nil {
		logger.Warnf("prediction skipped, history count failed session=%s: %v", r.opts.SessionID, err)
		return false
	}
	if count < int64(r.opts.MinHistory) {
		return false
	}
	if pending, err := r.deps.Engine.HasPending(ctx, r.opts.TradingPair, r.opts.SessionID); err != nil {
		logger.Warnf("prediction skipped, pending lookup failed session=%s: %v", r.opts.SessionID, err)
		return false
	} else if pending {
		return false
	}
	rec, err := r.deps.Engine.Predict(ctx, r.opts.TradingPair, r.opts.SessionID)
	if err != nil {
		if errors.Is(err, predict.ErrInsufficientHistory) {
			return false
		}
		logger.Warnf("prediction failed session=%s: %v", r.opts.SessionID, err)
		return false
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.PredictionsTotal.WithLabelValues(rec.AlgorithmUsed).Inc()
	}
	r.notify(Event{Type: "prediction", SessionID: rec.SessionID, TradingPair: rec.TradingPair, Prediction: &rec, At: time.Now().UTC()})
	return true
}

func (r *Runner) verify(ctx context.Context, obs types.CandleObservation) bool {
	graded, err := r.deps.Engine.VerifyAgainst(ctx, obs)
	if err != nil {
		// leaves the record ungraded; retried on the next opportunity
		logger.Warnf("verification failed session=%s: %v", r.opts.SessionID, err)
		return false
	}
	if graded == nil {
		return false
	}
	if r.deps.Metrics != nil && graded.ActualResult != nil {
		r.deps.Metrics.VerificationsTotal.WithLabelValues(fmt.Sprintf("%v", graded.ActualResult.Correct)).Inc()
	}
	return true
}

func (r *Runner) notify(ev Event) {
	if r.deps.Notify != nil {
		r.deps.Notify(ev)
	}
}

// Stop cancels the loop, awaits the in-flight cycle, and releases the
// browser handle. Idempotent.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if err := r.deps.Collector.Release(); err != nil {
		logger.Warnf("collector release session=%s: %v", r.opts.SessionID, err)
	}
	logger.Infof("capture loop stopped session=%s", r.opts.SessionID)
}

// Status reports the loop state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		Running:     r.running,
		Degraded:    r.degraded,
		LastCycleAt: r.lastCycleAt,
		SessionID:   r.opts.SessionID,
		TradingPair: r.opts.TradingPair,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}
