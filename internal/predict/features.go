package predict

import (
	talib "github.com/markcheno/go-talib"

	"candlesight/internal/types"
)

const (
	rsiPeriod     = 14
	emaFastPeriod = 9
	emaSlowPeriod = 21
	momPeriod     = 10
)

// features snapshots the inputs behind a prediction so a bad call can be
// inspected later. Indicator fields stay zero when the close series is too
// short for their periods.
func (e *Engine) features(signature []types.Direction, closes []float64, matchCount int) types.FeatureSnapshot {
	up, down := 0, 0
	for _, d := range signature {
		if d == types.DirectionUp {
			up++
		} else {
			down++
		}
	}
	snap := types.FeatureSnapshot{
		UpCount:    up,
		DownCount:  down,
		Streak:     streakLength(signature),
		MatchCount: matchCount,
	}
	if len(closes) > 0 {
		snap.LastClose = closes[len(closes)-1]
	}
	if len(closes) > rsiPeriod {
		snap.RSI = lastValue(talib.Rsi(closes, rsiPeriod))
	}
	if len(closes) > emaFastPeriod {
		snap.EMAFast = lastValue(talib.Ema(closes, emaFastPeriod))
	}
	if len(closes) > emaSlowPeriod {
		snap.EMASlow = lastValue(talib.Ema(closes, emaSlowPeriod))
	}
	if len(closes) > momPeriod {
		snap.Momentum = lastValue(talib.Mom(closes, momPeriod))
	}
	return snap
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
