package config

import "fmt"

func validate(cfg *Config) error {
	if cfg.Capture.DedupeWindowSec >= cfg.Capture.TimeframeSeconds {
		return fmt.Errorf("capture.dedupe_window_sec (%d) must be below capture.timeframe_seconds (%d)",
			cfg.Capture.DedupeWindowSec, cfg.Capture.TimeframeSeconds)
	}
	if cfg.Predict.PatternLength >= cfg.Predict.MinHistory {
		return fmt.Errorf("predict.pattern_length (%d) must be below predict.min_history (%d)",
			cfg.Predict.PatternLength, cfg.Predict.MinHistory)
	}
	if cfg.Predict.ConfidenceCap > 100 {
		return fmt.Errorf("predict.confidence_cap (%d) cannot exceed 100", cfg.Predict.ConfidenceCap)
	}
	if cfg.Predict.ConflictFloor > cfg.Predict.ConfidenceCap {
		return fmt.Errorf("predict.conflict_floor (%d) cannot exceed predict.confidence_cap (%d)",
			cfg.Predict.ConflictFloor, cfg.Predict.ConfidenceCap)
	}
	if cfg.Session.RevalidationWindowMin > cfg.Session.TTLHours*60 {
		return fmt.Errorf("session.revalidation_window_min (%d) cannot exceed the session TTL", cfg.Session.RevalidationWindowMin)
	}
	if cfg.Seed.Enabled && cfg.Seed.Pair == "" {
		return fmt.Errorf("seed.pair is required when seeding is enabled")
	}
	return nil
}
