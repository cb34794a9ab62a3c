// Package predict emits one directional call per new observation by fusing
// historical pattern matching with a trend heuristic, and grades past calls
// once their outcome candle exists.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"candlesight/internal/config"
	"candlesight/internal/logger"
	"candlesight/internal/store"
	"candlesight/internal/types"
)

// ErrInsufficientHistory means there are not enough observations to form a
// signature plus at least one historical outcome. Informational, not a
// failure: the engine never guesses.
var ErrInsufficientHistory = errors.New("predict: insufficient observation history")

// Engine owns prediction creation and grading.
type Engine struct {
	cfg         config.PredictConfig
	obs         store.ObservationStore
	predictions store.PredictionStore
	now         func() time.Time
}

func NewEngine(cfg config.PredictConfig, obs store.ObservationStore, predictions store.PredictionStore) *Engine {
	return &Engine{cfg: cfg, obs: obs, predictions: predictions, now: time.Now}
}

// SetClock is used by tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Predict produces and persists one PredictionRecord for the pair, based on
// the most recent observations under the session.
func (e *Engine) Predict(ctx context.Context, pair, sessionID string) (types.PredictionRecord, error) {
	k := e.cfg.PatternLength
	history, err := e.obs.RecentObservations(ctx, pair, e.cfg.ScanDepth+k)
	if err != nil {
		return types.PredictionRecord{}, fmt.Errorf("predict: loading history: %w", err)
	}
	if len(history) < k+1 {
		return types.PredictionRecord{}, ErrInsufficientHistory
	}

	window := history[len(history)-k:]
	signature := make([]types.Direction, k)
	closes := make([]float64, 0, len(history))
	for i, obs := range window {
		signature[i] = obs.Direction
	}
	for _, obs := range history {
		closes = append(closes, obs.Close)
	}

	pattern, outcomes := e.matchPattern(history[:len(history)-k], signature)
	trendDir, trendConf := e.trend(signature)
	rec := e.fuse(pattern, trendDir, trendConf)

	rec.ID = uuid.NewString()
	rec.Timestamp = e.now().UTC()
	rec.TradingPair = pair
	rec.SessionID = sessionID
	rec.PatternSignature = types.SignatureString(signature)
	rec.MatchedOutcomes = outcomes
	rec.Features = e.features(signature, closes, len(outcomes))

	if err := e.predictions.InsertPrediction(ctx, rec); err != nil {
		return types.PredictionRecord{}, fmt.Errorf("predict: persisting record: %w", err)
	}
	logger.Infof("prediction %s %s conf=%d algo=%s matches=%d",
		pair, rec.Direction, rec.Confidence, rec.AlgorithmUsed, len(outcomes))
	return rec, nil
}

// patternResult is the pattern-matching half of a prediction; ok is false
// when the signature never occurred in the scanned history.
type patternResult struct {
	ok         bool
	direction  types.Direction
	confidence int
}

// matchPattern slides a k-wide window over the historical observations
// (current window already excluded by the caller) and tallies the direction
// of the candle immediately following each exact signature match.
func (e *Engine) matchPattern(history []types.CandleObservation, signature []types.Direction) (patternResult, []types.MatchedOutcome) {
	k := len(signature)
	if len(history) < k+1 {
		return patternResult{}, nil
	}
	var outcomes []types.MatchedOutcome
	for i := 0; i+k < len(history); i++ {
		if !matchesAt(history, i, signature) {
			continue
		}
		next := history[i+k]
		outcomes = append(outcomes, types.MatchedOutcome{Timestamp: next.Timestamp, Direction: next.Direction})
	}
	if len(outcomes) == 0 {
		return patternResult{}, nil
	}
	up, down := 0, 0
	for _, o := range outcomes {
		if o.Direction == types.DirectionUp {
			up++
		} else {
			down++
		}
	}
	// exact ties break down, deterministically
	dir := types.DirectionDown
	winning := down
	if up > down {
		dir = types.DirectionUp
		winning = up
	}
	conf := int(math.Round(float64(winning) / float64(len(outcomes)) * 100))
	if conf > e.cfg.ConfidenceCap {
		conf = e.cfg.ConfidenceCap
	}
	return patternResult{ok: true, direction: dir, confidence: conf}, outcomes
}

func matchesAt(history []types.CandleObservation, start int, signature []types.Direction) bool {
	for j, want := range signature {
		if history[start+j].Direction != want {
			return false
		}
	}
	return true
}

// fuse combines the two methods into the final call per the documented rule.
func (e *Engine) fuse(pattern patternResult, trendDir types.Direction, trendConf int) types.PredictionRecord {
	if !pattern.ok {
		return types.PredictionRecord{
			Direction:     trendDir,
			Confidence:    trendConf,
			AlgorithmUsed: types.AlgoTrendOnly,
		}
	}
	if pattern.direction == trendDir {
		conf := pattern.confidence + e.cfg.AgreeBonus
		if conf > e.cfg.ConfidenceCap {
			conf = e.cfg.ConfidenceCap
		}
		return types.PredictionRecord{
			Direction:     pattern.direction,
			Confidence:    conf,
			AlgorithmUsed: types.AlgoPatternTrendConfirmed,
		}
	}
	conf := pattern.confidence - e.cfg.ConflictPenalty
	if conf < e.cfg.ConflictFloor {
		conf = e.cfg.ConflictFloor
	}
	return types.PredictionRecord{
		Direction:     pattern.direction,
		Confidence:    conf,
		AlgorithmUsed: types.AlgoPatternTrendConflict,
	}
}
