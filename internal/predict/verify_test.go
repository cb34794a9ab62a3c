package predict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlesight/internal/types"
)

func outcomeCandle(ts time.Time, dir types.Direction) types.CandleObservation {
	open, close := 1.2000, 1.2010
	if dir == types.DirectionDown {
		open, close = 1.2010, 1.2000
	}
	return types.CandleObservation{
		ID:          "actual",
		TradingPair: testPair,
		SessionID:   testSession,
		Timestamp:   ts,
		Open:        open,
		High:        1.2015,
		Low:         1.1995,
		Close:       close,
		Direction:   dir,
		Confidence:  90,
	}
}

func TestEngine_VerifyAgainst(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	newEngineWithPending := func(t *testing.T, dir types.Direction) (*Engine, *memPredictionStore) {
		t.Helper()
		preds := &memPredictionStore{}
		engine := NewEngine(testPredictConfig(3), &memObservationStore{}, preds)
		require.NoError(t, preds.InsertPrediction(context.Background(), types.PredictionRecord{
			ID:          "pred-1",
			Timestamp:   base,
			TradingPair: testPair,
			SessionID:   testSession,
			Direction:   dir,
			Confidence:  70,
		}))
		return engine, preds
	}

	t.Run("grades the pending prediction once", func(t *testing.T) {
		engine, preds := newEngineWithPending(t, types.DirectionUp)

		graded, err := engine.VerifyAgainst(context.Background(), outcomeCandle(base.Add(time.Minute), types.DirectionUp))
		require.NoError(t, err)
		require.NotNil(t, graded)
		require.NotNil(t, graded.ActualResult)
		assert.True(t, graded.ActualResult.Correct)
		assert.Equal(t, types.DirectionUp, graded.ActualResult.Direction)

		// re-running against the same or a later candle is a no-op
		again, err := engine.VerifyAgainst(context.Background(), outcomeCandle(base.Add(2*time.Minute), types.DirectionDown))
		require.NoError(t, err)
		assert.Nil(t, again)

		stored, err := preds.LatestPrediction(context.Background(), testPair, testSession)
		require.NoError(t, err)
		assert.True(t, stored.ActualResult.Correct, "first grading must stick")
	})

	t.Run("wrong call grades incorrect", func(t *testing.T) {
		engine, _ := newEngineWithPending(t, types.DirectionUp)

		graded, err := engine.VerifyAgainst(context.Background(), outcomeCandle(base.Add(time.Minute), types.DirectionDown))
		require.NoError(t, err)
		require.NotNil(t, graded)
		assert.False(t, graded.ActualResult.Correct)
	})

	t.Run("outcome must follow the prediction", func(t *testing.T) {
		engine, _ := newEngineWithPending(t, types.DirectionUp)

		graded, err := engine.VerifyAgainst(context.Background(), outcomeCandle(base, types.DirectionUp))
		require.NoError(t, err)
		assert.Nil(t, graded, "same-instant candle must not grade")

		pending, err := engine.HasPending(context.Background(), testPair, testSession)
		require.NoError(t, err)
		assert.True(t, pending)
	})

	t.Run("nothing pending is a no-op", func(t *testing.T) {
		engine := NewEngine(testPredictConfig(3), &memObservationStore{}, &memPredictionStore{})
		graded, err := engine.VerifyAgainst(context.Background(), outcomeCandle(base.Add(time.Minute), types.DirectionUp))
		require.NoError(t, err)
		assert.Nil(t, graded)
	})
}

func TestEngine_HasPending(t *testing.T) {
	preds := &memPredictionStore{}
	engine := NewEngine(testPredictConfig(3), &memObservationStore{}, preds)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	pending, err := engine.HasPending(context.Background(), testPair, testSession)
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, preds.InsertPrediction(context.Background(), types.PredictionRecord{
		ID: "pred-1", Timestamp: base, TradingPair: testPair, SessionID: testSession, Direction: types.DirectionUp,
	}))
	pending, err = engine.HasPending(context.Background(), testPair, testSession)
	require.NoError(t, err)
	assert.True(t, pending)

	_, err = engine.VerifyAgainst(context.Background(), outcomeCandle(base.Add(time.Minute), types.DirectionUp))
	require.NoError(t, err)
	pending, err = engine.HasPending(context.Background(), testPair, testSession)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestEngine_Accuracy(t *testing.T) {
	preds := &memPredictionStore{}
	cfg := testPredictConfig(3)
	cfg.AccuracyWindow = 3
	engine := NewEngine(cfg, &memObservationStore{}, preds)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	insertVerified := func(id string, correct bool) {
		res := types.ActualResult{Direction: types.DirectionUp, Correct: correct, VerifiedAt: base}
		require.NoError(t, preds.InsertPrediction(context.Background(), types.PredictionRecord{
			ID: id, Timestamp: base, TradingPair: testPair, SessionID: testSession,
			Direction: types.DirectionUp, ActualResult: &res,
		}))
	}

	report, err := engine.Accuracy(context.Background(), testPair)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Verified)
	assert.Zero(t, report.Accuracy)

	// five graded calls; the window of 3 only sees the latest three
	insertVerified("p1", true)
	insertVerified("p2", true)
	insertVerified("p3", false)
	insertVerified("p4", true)
	insertVerified("p5", true)

	report, err = engine.Accuracy(context.Background(), testPair)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Verified)
	assert.Equal(t, 2, report.Correct)
	assert.InDelta(t, 2.0/3.0, report.Accuracy, 1e-9)
	assert.Equal(t, 3, report.Window)
}
