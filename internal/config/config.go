package config

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML file at path, merges an optional local override file
// next to it (<name>.local.yaml), decodes, applies defaults and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := mergeConfigFile(v, abs); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	if local := localOverridePath(abs); local != "" {
		// optional developer override, a missing file is fine
		_ = mergeConfigFile(v, local)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

func localOverridePath(path string) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	local := base + ".local" + ext
	if local == path {
		return ""
	}
	return local
}
