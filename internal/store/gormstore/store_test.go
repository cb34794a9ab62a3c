package gormstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlesight/internal/store"
	"candlesight/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func candle(id string, ts time.Time, dir types.Direction) types.CandleObservation {
	open, close := 1.1000, 1.1010
	if dir == types.DirectionDown {
		open, close = 1.1010, 1.1000
	}
	return types.CandleObservation{
		ID:               id,
		TradingPair:      "EURUSD",
		TimeframeSeconds: 60,
		Timestamp:        ts,
		Open:             open,
		High:             1.1015,
		Low:              1.0995,
		Close:            close,
		Direction:        dir,
		Confidence:       90,
		SessionID:        "s1",
		ExtractionMethod: "chart_payload",
	}
}

func TestObservations_InsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		dir := types.DirectionUp
		if i%2 == 1 {
			dir = types.DirectionDown
		}
		require.NoError(t, s.InsertObservation(ctx, candle("", base.Add(time.Duration(i)*time.Minute), dir)))
	}

	t.Run("recent is oldest-first and limited", func(t *testing.T) {
		got, err := s.RecentObservations(ctx, "EURUSD", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, base.Add(2*time.Minute), got[0].Timestamp)
		assert.Equal(t, base.Add(4*time.Minute), got[2].Timestamp)
		assert.NotEmpty(t, got[0].ID, "missing ids are generated on insert")
	})

	t.Run("range is inclusive", func(t *testing.T) {
		got, err := s.RangeObservations(ctx, "EURUSD", base.Add(time.Minute), base.Add(3*time.Minute))
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("count by session", func(t *testing.T) {
		n, err := s.CountForSession(ctx, "s1")
		require.NoError(t, err)
		assert.EqualValues(t, 5, n)
		n, err = s.CountForSession(ctx, "other")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("invalid candle is rejected", func(t *testing.T) {
		bad := candle("", base.Add(time.Hour), types.DirectionUp)
		bad.Direction = types.DirectionDown // contradicts prices
		assert.Error(t, s.InsertObservation(ctx, bad))
	})
}

func TestObservations_HasNearWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	window := 30 * time.Second

	require.NoError(t, s.InsertObservation(ctx, candle("", base, types.DirectionUp)))

	near, err := s.HasNear(ctx, "EURUSD", "s1", base.Add(25*time.Second), window)
	require.NoError(t, err)
	assert.True(t, near, "25s offset is inside the +-30s window")

	near, err = s.HasNear(ctx, "EURUSD", "s1", base.Add(35*time.Second), window)
	require.NoError(t, err)
	assert.False(t, near, "35s offset is outside the window")

	near, err = s.HasNear(ctx, "EURUSD", "other-session", base, window)
	require.NoError(t, err)
	assert.False(t, near, "dedupe is scoped per session")
}

func prediction(id string, ts time.Time) types.PredictionRecord {
	return types.PredictionRecord{
		ID:               id,
		Timestamp:        ts,
		TradingPair:      "EURUSD",
		SessionID:        "s1",
		Direction:        types.DirectionUp,
		Confidence:       70,
		AlgorithmUsed:    types.AlgoTrendOnly,
		PatternSignature: "up-down-up-down-up",
		Features:         types.FeatureSnapshot{UpCount: 3, DownCount: 2, Streak: 1, LastClose: 1.1010},
	}
}

func TestPredictions_GradeOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertPrediction(ctx, prediction("p1", base)))

	pending, err := s.LatestUnverified(ctx, "EURUSD", "s1")
	require.NoError(t, err)
	assert.Equal(t, "p1", pending.ID)

	res := types.ActualResult{Direction: types.DirectionUp, Correct: true, VerifiedAt: base.Add(time.Minute)}
	require.NoError(t, s.SetActualResult(ctx, "p1", res))

	// set-once: the second grade must not overwrite the first
	err = s.SetActualResult(ctx, "p1", types.ActualResult{Direction: types.DirectionDown, Correct: false})
	assert.ErrorIs(t, err, store.ErrAlreadyVerified)

	err = s.SetActualResult(ctx, "missing", res)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.LatestUnverified(ctx, "EURUSD", "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.LatestPrediction(ctx, "EURUSD", "s1")
	require.NoError(t, err)
	require.NotNil(t, got.ActualResult)
	assert.True(t, got.ActualResult.Correct)
	assert.Equal(t, types.DirectionUp, got.ActualResult.Direction)
	assert.Equal(t, "up-down-up-down-up", got.PatternSignature)
}

func TestPredictions_RecentVerified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		rec := prediction("", base.Add(time.Duration(i)*time.Minute))
		rec.ID = string(rune('a' + i))
		require.NoError(t, s.InsertPrediction(ctx, rec))
	}
	require.NoError(t, s.SetActualResult(ctx, "a", types.ActualResult{Direction: types.DirectionUp, Correct: true, VerifiedAt: base}))
	require.NoError(t, s.SetActualResult(ctx, "c", types.ActualResult{Direction: types.DirectionDown, Correct: false, VerifiedAt: base}))

	got, err := s.RecentVerified(ctx, "EURUSD", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID, "newest first")
	assert.Equal(t, "a", got[1].ID)
}

func TestSessions_AppendValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.Get(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ev := types.ValidationEvent{Timestamp: now, Success: true, Message: "ok", Method: types.ValidationMethodFresh}
	rec, err := s.AppendValidation(ctx, "s1", ev, func(r *types.SessionRecord) {
		r.Status = types.SessionActive
		r.IsValidated = true
		r.LastValidationCheck = now
		r.LastActivity = now
		r.ExpiresAt = now.Add(24 * time.Hour)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ValidationAttempts)
	assert.Equal(t, types.SessionActive, rec.Status)

	ev2 := types.ValidationEvent{Timestamp: now.Add(time.Hour), Success: false, Message: "manual", Method: types.ValidationMethodManual}
	rec, err = s.AppendValidation(ctx, "s1", ev2, func(r *types.SessionRecord) {
		r.Status = types.SessionInvalid
		r.IsValidated = false
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ValidationAttempts)
	require.Len(t, rec.ValidationHistory, 2)
	assert.Equal(t, "ok", rec.ValidationHistory[0].Message)
	assert.Equal(t, "manual", rec.ValidationHistory[1].Message)

	stored, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionInvalid, stored.Status)
	assert.Len(t, stored.ValidationHistory, 2)
}

func TestSessions_DeleteExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, types.SessionRecord{
		SessionID: "live", Status: types.SessionActive, IsValidated: true,
		ExpiresAt: now.Add(time.Hour), LastActivity: now,
	}))
	require.NoError(t, s.Upsert(ctx, types.SessionRecord{
		SessionID: "ttl-gone", Status: types.SessionActive, IsValidated: true,
		ExpiresAt: now.Add(-time.Minute), LastActivity: now,
	}))
	require.NoError(t, s.Upsert(ctx, types.SessionRecord{
		SessionID: "idle-gone", Status: types.SessionInvalid,
		ExpiresAt: now.Add(time.Hour), LastActivity: now.Add(-8 * 24 * time.Hour),
	}))

	n, err := s.DeleteExpired(ctx, now, 7*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = s.Get(ctx, "live")
	assert.NoError(t, err)
	_, err = s.Get(ctx, "ttl-gone")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, "idle-gone")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
