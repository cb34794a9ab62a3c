// Package seed backfills observation history from binance klines so the
// prediction engine has context before the first live session has captured
// enough candles of its own.
package seed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"candlesight/internal/logger"
	"candlesight/internal/store"
	"candlesight/internal/types"
)

const (
	maxSeedLimit = 1000
	// seed rows carry a synthetic session so live-session counts are not
	// inflated by backfill
	SeedSessionID    = "seed"
	extractionMethod = "binance_seed"
)

// Seeder pulls klines for one reference symbol and writes them as
// observations under the target trading pair.
type Seeder struct {
	client *binance.Client
	obs    store.ObservationStore
}

func NewSeeder(obs store.ObservationStore) *Seeder {
	return &Seeder{client: binance.NewClient("", ""), obs: obs}
}

// Run fetches up to limit 1m klines for symbol and stores them as candles of
// pair. Already-seeded ranges are skipped via the dedupe lookup. Safe to run
// more than once.
func (s *Seeder) Run(ctx context.Context, pair, symbol string, limit int) (int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("seed: symbol is required")
	}
	if limit <= 0 || limit > maxSeedLimit {
		limit = maxSeedLimit
	}
	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval("1m").
		Limit(limit).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed: fetching klines for %s: %w", symbol, err)
	}
	inserted := 0
	for _, kl := range klines {
		if kl == nil {
			continue
		}
		open := parseFloat(kl.Open)
		close := parseFloat(kl.Close)
		high := parseFloat(kl.High)
		low := parseFloat(kl.Low)
		if open <= 0 || close <= 0 {
			continue
		}
		ts := time.UnixMilli(kl.OpenTime).UTC()
		dup, err := s.obs.HasNear(ctx, pair, SeedSessionID, ts, time.Second)
		if err != nil {
			return inserted, err
		}
		if dup {
			continue
		}
		obs := types.CandleObservation{
			TradingPair:      pair,
			TimeframeSeconds: 60,
			Timestamp:        ts,
			Open:             open,
			High:             high,
			Low:              low,
			Close:            close,
			Direction:        types.DeriveDirection(open, close),
			Confidence:       100,
			SessionID:        SeedSessionID,
			ExtractionMethod: extractionMethod,
		}
		if err := s.obs.InsertObservation(ctx, obs); err != nil {
			return inserted, err
		}
		inserted++
	}
	logger.Infof("seeded %d observation(s) for %s from %s", inserted, pair, symbol)
	return inserted, nil
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
