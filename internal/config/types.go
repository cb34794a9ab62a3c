package config

// Config is the root of the merged YAML configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Platform PlatformConfig `mapstructure:"platform"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Session  SessionConfig  `mapstructure:"session"`
	Predict  PredictConfig  `mapstructure:"predict"`
	Seed     SeedConfig     `mapstructure:"seed"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
}

type AppConfig struct {
	Env        string `mapstructure:"env"`
	LogLevel   string `mapstructure:"log_level"`
	LogPath    string `mapstructure:"log_path"`
	ListenAddr string `mapstructure:"listen_addr"`
	DataDir    string `mapstructure:"data_dir"`
}

// PlatformConfig describes how the headless browser reaches the trading
// platform's chart page and where to find its data on the page.
type PlatformConfig struct {
	ChartURL           string `mapstructure:"chart_url"`
	PayloadScript      string `mapstructure:"payload_script"`
	AccountProbeScript string `mapstructure:"account_probe_script"`
	ScreenshotDir      string `mapstructure:"screenshot_dir"`
	AttachTimeoutSec   int    `mapstructure:"attach_timeout_sec"`
	Headless           bool   `mapstructure:"headless"`
}

type CaptureConfig struct {
	DefaultIntervalMS   int `mapstructure:"default_interval_ms"`
	DedupeWindowSec     int `mapstructure:"dedupe_window_sec"`
	CycleTimeoutSec     int `mapstructure:"cycle_timeout_sec"`
	DegradedThreshold   int `mapstructure:"degraded_threshold"`
	TimeframeSeconds    int `mapstructure:"timeframe_seconds"`
	ScreenshotRetention int `mapstructure:"screenshot_retention"`
}

type SessionConfig struct {
	RevalidationWindowMin int `mapstructure:"revalidation_window_min"`
	TTLHours              int `mapstructure:"ttl_hours"`
	IdleExpiryDays        int `mapstructure:"idle_expiry_days"`
	ReapIntervalMin       int `mapstructure:"reap_interval_min"`
}

// PredictConfig carries the pattern-matching and fusion constants. The
// deltas and windows are empirically chosen; they are configuration, not
// physics, so they all live here with the documented defaults.
type PredictConfig struct {
	PatternLength   int `mapstructure:"pattern_length"`
	MinHistory      int `mapstructure:"min_history"`
	ScanDepth       int `mapstructure:"scan_depth"`
	ConfidenceCap   int `mapstructure:"confidence_cap"`
	AgreeBonus      int `mapstructure:"agree_bonus"`
	ConflictPenalty int `mapstructure:"conflict_penalty"`
	ConflictFloor   int `mapstructure:"conflict_floor"`
	AccuracyWindow  int `mapstructure:"accuracy_window"`
}

// SeedConfig controls optional history backfill from binance klines so a
// fresh database has enough context to predict on the first session.
type SeedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Pair    string `mapstructure:"pair"`
	Symbol  string `mapstructure:"symbol"`
	Limit   int    `mapstructure:"limit"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}
