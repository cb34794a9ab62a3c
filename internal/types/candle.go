package types

import (
	"fmt"
	"time"
)

// Direction is the discrete call derived from one candle: close above open
// means up, anything else down.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Opposite returns the reversed call.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// DeriveDirection is the only sanctioned way to turn OHLC into a Direction.
// Extractor-provided direction hints are never trusted when prices exist.
func DeriveDirection(open, close float64) Direction {
	if close > open {
		return DirectionUp
	}
	return DirectionDown
}

// CandleObservation is one discrete OHLC+direction reading for an instrument
// at a point in time, produced once per capture cycle.
type CandleObservation struct {
	ID               string    `json:"id"`
	TradingPair      string    `json:"trading_pair"`
	TimeframeSeconds int       `json:"timeframe_seconds"`
	Timestamp        time.Time `json:"timestamp"`
	Open             float64   `json:"open"`
	High             float64   `json:"high"`
	Low              float64   `json:"low"`
	Close            float64   `json:"close"`
	Direction        Direction `json:"direction"`
	Confidence       int       `json:"confidence"`
	SessionID        string    `json:"session_id"`
	ExtractionMethod string    `json:"extraction_method"`
}

// Validate enforces the candle invariants: high covers the body, low covers
// the body, direction matches the open/close relationship.
func (c CandleObservation) Validate() error {
	if c.TradingPair == "" {
		return fmt.Errorf("candle: trading pair is empty")
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candle %s: timestamp is zero", c.TradingPair)
	}
	body := c.Open
	if c.Close > body {
		body = c.Close
	}
	if c.High < body {
		return fmt.Errorf("candle %s@%s: high %.6f below body", c.TradingPair, c.Timestamp.Format(time.RFC3339), c.High)
	}
	body = c.Open
	if c.Close < body {
		body = c.Close
	}
	if c.Low > body {
		return fmt.Errorf("candle %s@%s: low %.6f above body", c.TradingPair, c.Timestamp.Format(time.RFC3339), c.Low)
	}
	if got := DeriveDirection(c.Open, c.Close); c.Direction != got {
		return fmt.Errorf("candle %s@%s: direction %q contradicts prices (want %q)", c.TradingPair, c.Timestamp.Format(time.RFC3339), c.Direction, got)
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return fmt.Errorf("candle %s@%s: confidence %d out of range", c.TradingPair, c.Timestamp.Format(time.RFC3339), c.Confidence)
	}
	return nil
}

// RawObservation is what the vision collaborator hands back. OHLC fields may
// be missing on low-quality extractions; ExtractionMethod "failed" with
// Confidence 0 marks a cycle where nothing usable was read off the chart.
type RawObservation struct {
	Timestamp        time.Time  `json:"timestamp"`
	Open             *float64   `json:"open,omitempty"`
	High             *float64   `json:"high,omitempty"`
	Low              *float64   `json:"low,omitempty"`
	Close            *float64   `json:"close,omitempty"`
	Direction        *Direction `json:"direction,omitempty"`
	Confidence       int        `json:"confidence"`
	ExtractionMethod string     `json:"extraction_method"`
}

const ExtractionFailed = "failed"

// Failed reports whether the extraction produced nothing usable.
func (r RawObservation) Failed() bool {
	return r.ExtractionMethod == ExtractionFailed || r.Confidence <= 0
}
