package predict

import (
	"context"
	"errors"
	"fmt"

	"candlesight/internal/logger"
	"candlesight/internal/store"
	"candlesight/internal/types"
)

// VerifyAgainst grades the most recent ungraded prediction for the pair and
// session using the freshly captured observation as the actual outcome.
// Returns (nil, nil) when there is nothing to grade. Re-running against an
// already-graded record is a no-op; a storage failure leaves the record
// ungraded so the next cycle retries.
func (e *Engine) VerifyAgainst(ctx context.Context, actual types.CandleObservation) (*types.PredictionRecord, error) {
	pending, err := e.predictions.LatestUnverified(ctx, actual.TradingPair, actual.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("predict: loading pending prediction: %w", err)
	}
	if !actual.Timestamp.After(pending.Timestamp) {
		// the outcome candle must follow the prediction
		return nil, nil
	}
	result := types.ActualResult{
		Direction:  actual.Direction,
		Correct:    actual.Direction == pending.Direction,
		VerifiedAt: e.now().UTC(),
	}
	if err := e.predictions.SetActualResult(ctx, pending.ID, result); err != nil {
		if errors.Is(err, store.ErrAlreadyVerified) {
			return nil, nil
		}
		return nil, fmt.Errorf("predict: grading %s: %w", pending.ID, err)
	}
	logger.Infof("prediction %s graded: predicted=%s actual=%s correct=%v",
		pending.ID, pending.Direction, actual.Direction, result.Correct)
	pending.ActualResult = &result
	return &pending, nil
}

// HasPending reports whether an ungraded prediction is outstanding for the
// pair/session. The capture loop keeps at most one outstanding call so each
// prediction is graded by the candle that directly follows it.
func (e *Engine) HasPending(ctx context.Context, pair, sessionID string) (bool, error) {
	_, err := e.predictions.LatestUnverified(ctx, pair, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
