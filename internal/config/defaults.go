package config

// applyDefaults fills every unset knob with the documented default.
func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.ListenAddr == "" {
		c.App.ListenAddr = ":9980"
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "data"
	}

	if c.Platform.ScreenshotDir == "" {
		c.Platform.ScreenshotDir = "data/screens"
	}
	if c.Platform.AttachTimeoutSec <= 0 {
		c.Platform.AttachTimeoutSec = 60
	}

	if c.Capture.DefaultIntervalMS <= 0 {
		c.Capture.DefaultIntervalMS = 5000
	}
	if c.Capture.DedupeWindowSec <= 0 {
		c.Capture.DedupeWindowSec = 30
	}
	if c.Capture.CycleTimeoutSec <= 0 {
		c.Capture.CycleTimeoutSec = 30
	}
	if c.Capture.DegradedThreshold <= 0 {
		c.Capture.DegradedThreshold = 3
	}
	if c.Capture.TimeframeSeconds <= 0 {
		c.Capture.TimeframeSeconds = 60
	}

	if c.Session.RevalidationWindowMin <= 0 {
		c.Session.RevalidationWindowMin = 120
	}
	if c.Session.TTLHours <= 0 {
		c.Session.TTLHours = 24
	}
	if c.Session.IdleExpiryDays <= 0 {
		c.Session.IdleExpiryDays = 7
	}
	if c.Session.ReapIntervalMin <= 0 {
		c.Session.ReapIntervalMin = 60
	}

	if c.Predict.PatternLength <= 0 {
		c.Predict.PatternLength = 5
	}
	if c.Predict.MinHistory <= 0 {
		c.Predict.MinHistory = 10
	}
	if c.Predict.ScanDepth <= 0 {
		c.Predict.ScanDepth = 1000
	}
	if c.Predict.ConfidenceCap <= 0 {
		c.Predict.ConfidenceCap = 95
	}
	if c.Predict.AgreeBonus <= 0 {
		c.Predict.AgreeBonus = 10
	}
	if c.Predict.ConflictPenalty <= 0 {
		c.Predict.ConflictPenalty = 15
	}
	if c.Predict.ConflictFloor <= 0 {
		c.Predict.ConflictFloor = 50
	}
	if c.Predict.AccuracyWindow <= 0 {
		c.Predict.AccuracyWindow = 10
	}

	if c.Seed.Limit <= 0 {
		c.Seed.Limit = 200
	}
	if c.Seed.Symbol == "" {
		c.Seed.Symbol = "BTCUSDT"
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = "configs/instruments.yaml"
	}
}
