package vision

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"candlesight/internal/types"
)

// ErrExtractionFailed marks a cycle where the chart yielded nothing usable.
// Callers skip the cycle; this is never turned into fabricated data.
var ErrExtractionFailed = errors.New("vision: extraction produced no usable reading")

const priceScale = 6

// BuildCandle turns a raw reading into a fully-formed candle. Missing OHLC
// fields are derived so the result is internally consistent: high always
// covers the body, low always sits under it, and direction always follows
// close vs open. A direction hint is only honored when the prices themselves
// don't already decide it.
func BuildCandle(raw types.RawObservation, pair, sessionID string, timeframeSec int, prevClose float64) (types.CandleObservation, error) {
	if raw.Failed() {
		return types.CandleObservation{}, ErrExtractionFailed
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	open, close, ok := resolveBody(raw, prevClose)
	if !ok {
		return types.CandleObservation{}, ErrExtractionFailed
	}
	open = roundPrice(open)
	close = roundPrice(close)

	high := close
	if open > high {
		high = open
	}
	if raw.High != nil && *raw.High > high {
		high = roundPrice(*raw.High)
	}
	low := close
	if open < low {
		low = open
	}
	if raw.Low != nil && *raw.Low < low && *raw.Low > 0 {
		low = roundPrice(*raw.Low)
	}

	obs := types.CandleObservation{
		TradingPair:      pair,
		TimeframeSeconds: timeframeSec,
		Timestamp:        ts,
		Open:             open,
		High:             high,
		Low:              low,
		Close:            close,
		Direction:        types.DeriveDirection(open, close),
		Confidence:       raw.Confidence,
		SessionID:        sessionID,
		ExtractionMethod: raw.ExtractionMethod,
	}
	return obs, nil
}

// resolveBody settles the open/close pair from whatever the extraction
// delivered, falling back to the previous close and then to a nudge that
// realizes a bare direction signal.
func resolveBody(raw types.RawObservation, prevClose float64) (open, close float64, ok bool) {
	switch {
	case raw.Open != nil && raw.Close != nil:
		// full body present: prices win over any direction hint
		return *raw.Open, *raw.Close, true
	case raw.Close != nil:
		price := *raw.Close
		if prevClose > 0 {
			return prevClose, price, true
		}
		if raw.Direction != nil {
			return nudgeOpen(price, *raw.Direction), price, true
		}
		// single price, no anchor: flat candle, derives as down
		return price, price, true
	case raw.Direction != nil && prevClose > 0:
		// direction-only signal anchored on the previous close
		return prevClose, nudgeClose(prevClose, *raw.Direction), true
	default:
		return 0, 0, false
	}
}

// nudgeOpen returns an open that makes the direction hint hold for close.
func nudgeOpen(close float64, dir types.Direction) float64 {
	eps := epsilonFor(close)
	if dir == types.DirectionUp {
		return close - eps
	}
	return close + eps
}

// nudgeClose returns a close that makes the direction hint hold for open.
func nudgeClose(open float64, dir types.Direction) float64 {
	eps := epsilonFor(open)
	if dir == types.DirectionUp {
		return open + eps
	}
	return open - eps
}

// epsilonFor picks a one-pip-scale nudge proportional to the price, with a
// floor at the smallest representable tick for the price scale.
func epsilonFor(price float64) float64 {
	p := decimal.NewFromFloat(price).Abs()
	eps := p.Mul(decimal.NewFromFloat(0.0001)).Round(priceScale)
	floor := decimal.New(1, -priceScale)
	if eps.LessThan(floor) {
		eps = floor
	}
	f, _ := eps.Float64()
	return f
}

func roundPrice(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(priceScale).Float64()
	return f
}
