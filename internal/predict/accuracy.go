package predict

import (
	"context"
	"fmt"
)

// AccuracyReport is the trailing-window hit rate. Always recomputed from the
// stored records on read; there is no running average to drift.
type AccuracyReport struct {
	TradingPair string  `json:"trading_pair"`
	Window      int     `json:"window"`
	Verified    int     `json:"verified"`
	Correct     int     `json:"correct"`
	Accuracy    float64 `json:"accuracy"`
}

// Accuracy computes the hit rate over the most recent verified predictions
// for the pair, at most the configured window.
func (e *Engine) Accuracy(ctx context.Context, pair string) (AccuracyReport, error) {
	recent, err := e.predictions.RecentVerified(ctx, pair, e.cfg.AccuracyWindow)
	if err != nil {
		return AccuracyReport{}, fmt.Errorf("predict: loading verified predictions: %w", err)
	}
	report := AccuracyReport{TradingPair: pair, Window: e.cfg.AccuracyWindow, Verified: len(recent)}
	for _, rec := range recent {
		if rec.ActualResult != nil && rec.ActualResult.Correct {
			report.Correct++
		}
	}
	if report.Verified > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Verified)
	}
	return report, nil
}
