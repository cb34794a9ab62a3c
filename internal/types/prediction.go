package types

import "time"

// Algorithm tags recorded on emitted predictions.
const (
	AlgoPatternTrendConfirmed = "pattern_trend_confirmed"
	AlgoPatternTrendConflict  = "pattern_trend_conflict"
	AlgoTrendOnly             = "trend_only"
)

// MatchedOutcome is the observation that followed one historical window
// matching the current pattern signature.
type MatchedOutcome struct {
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
}

// ActualResult grades a prediction once the real next candle is known.
// Set at most once per prediction.
type ActualResult struct {
	Direction  Direction `json:"direction"`
	Correct    bool      `json:"correct"`
	VerifiedAt time.Time `json:"verified_at"`
}

// FeatureSnapshot captures the inputs the engine saw when it predicted,
// kept for offline inspection of calls that went wrong.
type FeatureSnapshot struct {
	UpCount    int     `json:"up_count"`
	DownCount  int     `json:"down_count"`
	Streak     int     `json:"streak"`
	LastClose  float64 `json:"last_close"`
	RSI        float64 `json:"rsi,omitempty"`
	EMAFast    float64 `json:"ema_fast,omitempty"`
	EMASlow    float64 `json:"ema_slow,omitempty"`
	Momentum   float64 `json:"momentum,omitempty"`
	MatchCount int     `json:"match_count"`
}

// PredictionRecord is one emitted directional call plus its eventual grading.
type PredictionRecord struct {
	ID               string           `json:"id"`
	Timestamp        time.Time        `json:"timestamp"`
	TradingPair      string           `json:"trading_pair"`
	Direction        Direction        `json:"direction"`
	Confidence       int              `json:"confidence"`
	AlgorithmUsed    string           `json:"algorithm_used"`
	PatternSignature string           `json:"pattern_signature"`
	MatchedOutcomes  []MatchedOutcome `json:"matched_outcomes,omitempty"`
	Features         FeatureSnapshot  `json:"features"`
	ActualResult     *ActualResult    `json:"actual_result,omitempty"`
	SessionID        string           `json:"session_id"`
}

// Verified reports whether the prediction has been graded.
func (p PredictionRecord) Verified() bool {
	return p.ActualResult != nil
}

// SignatureString renders a direction sequence as a compact signature key,
// e.g. "up-down-up-down-up".
func SignatureString(dirs []Direction) string {
	if len(dirs) == 0 {
		return ""
	}
	out := string(dirs[0])
	for _, d := range dirs[1:] {
		out += "-" + string(d)
	}
	return out
}
