package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlesight/internal/config"
	"candlesight/internal/metrics"
	"candlesight/internal/predict"
	"candlesight/internal/session"
	"candlesight/internal/store"
	"candlesight/internal/types"
)

const (
	testPair    = "EURUSD"
	testSession = "sess-1"
)

type memObs struct {
	mu   sync.Mutex
	data []types.CandleObservation
}

func (m *memObs) InsertObservation(_ context.Context, obs types.CandleObservation) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, obs)
	return nil
}

func (m *memObs) HasNear(_ context.Context, pair, sessionID string, ts time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, obs := range m.data {
		if obs.TradingPair != pair || obs.SessionID != sessionID {
			continue
		}
		d := obs.Timestamp.Sub(ts)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return true, nil
		}
	}
	return false, nil
}

func (m *memObs) RecentObservations(_ context.Context, pair string, limit int) ([]types.CandleObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CandleObservation
	for _, obs := range m.data {
		if obs.TradingPair == pair {
			out = append(out, obs)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memObs) RangeObservations(_ context.Context, pair string, from, to time.Time) ([]types.CandleObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.CandleObservation
	for _, obs := range m.data {
		if obs.TradingPair == pair && !obs.Timestamp.Before(from) && !obs.Timestamp.After(to) {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (m *memObs) CountForSession(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, obs := range m.data {
		if obs.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

type memPreds struct {
	mu   sync.Mutex
	recs []types.PredictionRecord
}

func (m *memPreds) InsertPrediction(_ context.Context, rec types.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memPreds) LatestPrediction(_ context.Context, pair, sessionID string) (types.PredictionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.recs) - 1; i >= 0; i-- {
		if m.recs[i].TradingPair == pair && m.recs[i].SessionID == sessionID {
			return m.recs[i], nil
		}
	}
	return types.PredictionRecord{}, store.ErrNotFound
}

func (m *memPreds) LatestUnverified(_ context.Context, pair, sessionID string) (types.PredictionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.recs) - 1; i >= 0; i-- {
		rec := m.recs[i]
		if rec.TradingPair == pair && rec.SessionID == sessionID && rec.ActualResult == nil {
			return rec, nil
		}
	}
	return types.PredictionRecord{}, store.ErrNotFound
}

func (m *memPreds) SetActualResult(_ context.Context, id string, res types.ActualResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.recs {
		if m.recs[i].ID != id {
			continue
		}
		if m.recs[i].ActualResult != nil {
			return store.ErrAlreadyVerified
		}
		m.recs[i].ActualResult = &res
		return nil
	}
	return store.ErrNotFound
}

func (m *memPreds) RecentVerified(_ context.Context, pair string, limit int) ([]types.PredictionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.PredictionRecord
	for i := len(m.recs) - 1; i >= 0; i-- {
		rec := m.recs[i]
		if rec.TradingPair == pair && rec.ActualResult != nil {
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memPreds) verifiedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.recs {
		if rec.ActualResult != nil {
			n++
		}
	}
	return n
}

type memSessions struct {
	mu   sync.Mutex
	recs map[string]types.SessionRecord
}

func (m *memSessions) Get(_ context.Context, sessionID string) (types.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[sessionID]
	if !ok {
		return types.SessionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *memSessions) Upsert(_ context.Context, rec types.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.SessionID] = rec
	return nil
}

func (m *memSessions) AppendValidation(_ context.Context, sessionID string, ev types.ValidationEvent, mutate func(*types.SessionRecord)) (types.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[sessionID]
	if !ok {
		rec = types.SessionRecord{SessionID: sessionID, Status: types.SessionPending}
	}
	rec.ValidationHistory = append(rec.ValidationHistory, ev)
	rec.ValidationAttempts++
	if mutate != nil {
		mutate(&rec)
	}
	m.recs[sessionID] = rec
	return rec, nil
}

func (m *memSessions) DeleteExpired(context.Context, time.Time, time.Duration) (int64, error) {
	return 0, nil
}

type loggedInVerifier struct{}

func (loggedInVerifier) Verify(context.Context, string) (session.VerifyResult, error) {
	return session.VerifyResult{LoggedIn: true}, nil
}

// scriptedCollector replays prepared raw observations; a nil entry fails the
// capture.
type scriptedCollector struct {
	mu       sync.Mutex
	raws     []*types.RawObservation
	idx      int
	released int
}

func (c *scriptedCollector) CaptureObservation(context.Context, string) (types.RawObservation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.raws) {
		return types.RawObservation{}, errors.New("script exhausted")
	}
	raw := c.raws[c.idx]
	c.idx++
	if raw == nil {
		return types.RawObservation{}, errors.New("capture failed")
	}
	return *raw, nil
}

func (c *scriptedCollector) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
	return nil
}

func fullRaw(ts time.Time, dir types.Direction) *types.RawObservation {
	open, close := 1.1000, 1.1010
	if dir == types.DirectionDown {
		open, close = 1.1010, 1.1000
	}
	high, low := 1.1015, 1.0995
	return &types.RawObservation{
		Timestamp:        ts,
		Open:             &open,
		High:             &high,
		Low:              &low,
		Close:            &close,
		Confidence:       90,
		ExtractionMethod: "chart_payload",
	}
}

type harness struct {
	runner    *Runner
	obs       *memObs
	preds     *memPreds
	collector *scriptedCollector
	events    *eventSink
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) record(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) countType(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func newHarness(t *testing.T, collector *scriptedCollector, engineClock time.Time) *harness {
	t.Helper()
	obs := &memObs{}
	preds := &memPreds{}
	sink := &eventSink{}
	sessions := session.NewCache(&memSessions{recs: make(map[string]types.SessionRecord)}, loggedInVerifier{}, session.Options{})
	engine := predict.NewEngine(config.PredictConfig{
		PatternLength: 5, MinHistory: 10, ScanDepth: 1000,
		ConfidenceCap: 95, AgreeBonus: 10, ConflictPenalty: 15, ConflictFloor: 50, AccuracyWindow: 10,
	}, obs, preds)
	engine.SetClock(func() time.Time { return engineClock })

	runner := NewRunner(Deps{
		Sessions:  sessions,
		Collector: collector,
		Obs:       obs,
		Engine:    engine,
		Metrics:   metrics.NewUnregistered(),
		Notify:    sink.record,
	}, Options{
		SessionID:         testSession,
		TradingPair:       testPair,
		TimeframeSeconds:  60,
		Interval:          time.Hour,
		DedupeWindow:      30 * time.Second,
		CycleTimeout:      5 * time.Second,
		DegradedThreshold: 3,
		MinHistory:        10,
	})
	return &harness{runner: runner, obs: obs, preds: preds, collector: collector, events: sink}
}

func TestRunner_ElevenCyclesOnePredictionGraded(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	collector := &scriptedCollector{}
	for i := 0; i < 11; i++ {
		dir := types.DirectionUp
		if i%2 == 1 {
			dir = types.DirectionDown
		}
		collector.raws = append(collector.raws, fullRaw(base.Add(time.Duration(i)*time.Minute), dir))
	}
	// the engine clock sits between the 10th and 11th candle, so the call
	// emitted after candle 10 is only gradable by candle 11
	h := newHarness(t, collector, base.Add(9*time.Minute+30*time.Second))

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		h.runner.tick(ctx)
	}
	assert.Equal(t, 10, h.events.countType("observation"))
	assert.Equal(t, 1, h.events.countType("prediction"), "first call comes with the 10th observation")
	assert.Equal(t, 0, h.preds.verifiedCount(), "a call is never graded by the candle it was made on")

	h.runner.tick(ctx)
	assert.Equal(t, 11, h.events.countType("observation"))
	assert.Equal(t, 1, h.events.countType("prediction"), "one call outstanding at a time")
	assert.Equal(t, 1, h.preds.verifiedCount(), "the 11th candle grades the outstanding call")

	rec, err := h.preds.LatestPrediction(ctx, testPair, testSession)
	require.NoError(t, err)
	require.NotNil(t, rec.ActualResult)
	assert.Equal(t, types.DirectionUp, rec.ActualResult.Direction, "candle 11 is an up candle")
}

func TestRunner_DuplicateObservationDropped(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	collector := &scriptedCollector{raws: []*types.RawObservation{
		fullRaw(base, types.DirectionUp),
		fullRaw(base.Add(25*time.Second), types.DirectionUp), // inside the +-30s window
		fullRaw(base.Add(65*time.Second), types.DirectionDown),
	}}
	h := newHarness(t, collector, base)

	ctx := context.Background()
	h.runner.tick(ctx)
	h.runner.tick(ctx)
	h.runner.tick(ctx)

	assert.Equal(t, 2, h.events.countType("observation"), "near-duplicate must be dropped")
	count, err := h.obs.CountForSession(ctx, testSession)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	st := h.runner.Status()
	assert.Empty(t, st.LastError, "a dropped duplicate is not a failure")
}

func TestRunner_ExtractionFailureSkipsCycle(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	collector := &scriptedCollector{raws: []*types.RawObservation{
		{Timestamp: base, Confidence: 0, ExtractionMethod: types.ExtractionFailed},
	}}
	h := newHarness(t, collector, base)

	h.runner.tick(context.Background())

	assert.Equal(t, 0, h.events.countType("observation"), "nothing is fabricated from a failed read")
	st := h.runner.Status()
	assert.False(t, st.Degraded)
	assert.Empty(t, st.LastError)
}

func TestRunner_DegradedAfterConsecutiveFailuresAndRecovers(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	collector := &scriptedCollector{raws: []*types.RawObservation{
		nil, nil, nil,
		fullRaw(base, types.DirectionUp),
	}}
	h := newHarness(t, collector, base)

	ctx := context.Background()
	h.runner.tick(ctx)
	h.runner.tick(ctx)
	assert.False(t, h.runner.Status().Degraded, "two failures are not enough")

	h.runner.tick(ctx)
	st := h.runner.Status()
	assert.True(t, st.Degraded)
	assert.NotEmpty(t, st.LastError)

	h.runner.tick(ctx)
	st = h.runner.Status()
	assert.False(t, st.Degraded, "one good cycle clears the degraded flag")
	assert.Empty(t, st.LastError)
}

func TestRunner_StartStopLifecycle(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	collector := &scriptedCollector{raws: []*types.RawObservation{fullRaw(base, types.DirectionUp)}}
	h := newHarness(t, collector, base)

	require.NoError(t, h.runner.Start(context.Background()))
	assert.ErrorIs(t, h.runner.Start(context.Background()), ErrAlreadyRunning)
	assert.True(t, h.runner.Status().Running)

	h.runner.Stop()
	assert.False(t, h.runner.Status().Running)
	h.runner.Stop() // idempotent
	assert.Equal(t, 1, collector.released)

	// a stopped runner can be started again
	require.NoError(t, h.runner.Start(context.Background()))
	h.runner.Stop()
	assert.Equal(t, 2, collector.released)
}
