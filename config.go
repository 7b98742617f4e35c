package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server's runtime configuration. Defaults, then the optional
// tuning file, then environment variables.
var Config struct {
	Addr    string `yaml:"addr"`
	DBPath  string `yaml:"db_path"`
	DataDir string `yaml:"data_dir"` // catalog JSON; empty = bundled catalog
	LogDir  string `yaml:"log_dir"`

	TickIntervalMs int `yaml:"tick_interval_ms"`
	SnapshotEvery  int `yaml:"snapshot_every_ticks"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

func defaultConfig() {
	Config.Addr = DefaultAddr
	Config.DBPath = DefaultDBPath
	Config.DataDir = ""
	Config.LogDir = "./logs"
	Config.TickIntervalMs = DefaultTickMs
	Config.SnapshotEvery = DefaultSnapEvery
	Config.RateLimit = RateLimitConfig{PerSecond: 10, Burst: 20}
}

func initConfig() error {
	defaultConfig()

	if path := os.Getenv("CLAIMSTAKES_TUNING"); path != "" {
		if err := loadTuning(path); err != nil {
			return err
		}
	}

	if v := os.Getenv("CLAIMSTAKES_ADDR"); v != "" {
		Config.Addr = v
	}
	if v := os.Getenv("CLAIMSTAKES_DB"); v != "" {
		Config.DBPath = v
	}
	if v := os.Getenv("CLAIMSTAKES_DATA"); v != "" {
		Config.DataDir = v
	}
	if v := os.Getenv("CLAIMSTAKES_LOGS"); v != "" {
		Config.LogDir = v
	}
	if v := os.Getenv("CLAIMSTAKES_TICK_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("CLAIMSTAKES_TICK_MS: invalid value %q", v)
		}
		Config.TickIntervalMs = ms
	}
	return nil
}

func loadTuning(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, &Config); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if Config.TickIntervalMs <= 0 {
		return fmt.Errorf("%s: tick_interval_ms must be positive", path)
	}
	if Config.RateLimit.PerSecond <= 0 || Config.RateLimit.Burst <= 0 {
		return fmt.Errorf("%s: rate_limit needs positive per_second and burst", path)
	}
	return nil
}

func tickInterval() time.Duration {
	return time.Duration(Config.TickIntervalMs) * time.Millisecond
}
