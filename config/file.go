package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML configuration file. All durations are plain
// numbers of seconds so the file stays tool-agnostic. Pointer fields
// distinguish "absent" from "zero" so the file only overrides what it sets.
type fileConfig struct {
	TCINs        []string `yaml:"tcins"`
	Source       *string  `yaml:"source"`
	PollInterval *float64 `yaml:"poll_interval_seconds"`
	Parallelism  *int     `yaml:"parallelism"`
	Delay        *float64 `yaml:"delay_seconds"`
	RandomDelay  *float64 `yaml:"random_delay_seconds"`
	Timeout      *float64 `yaml:"timeout_seconds"`
	UserAgent    *string  `yaml:"user_agent"`
	APIBaseURL   *string  `yaml:"api_base_url"`
	APIKey       *string  `yaml:"api_key"`
	StoreID      *string  `yaml:"store_id"`
	SiteBaseURL  *string  `yaml:"site_base_url"`
	CacheTTL     *float64 `yaml:"cache_ttl_seconds"`
	CacheSize    *int     `yaml:"cache_size"`

	StateFile             *string  `yaml:"state_file"`
	LockFile              *string  `yaml:"lock_file"`
	LockTimeout           *float64 `yaml:"lock_timeout_seconds"`
	LockRetries           *int     `yaml:"lock_retries"`
	MaxConcurrentAttempts *int     `yaml:"max_concurrent_attempts"`
	AttemptDurationMin    *float64 `yaml:"attempt_duration_min"`
	AttemptDurationMax    *float64 `yaml:"attempt_duration_max"`
	SuccessProbability    *float64 `yaml:"success_probability"`
	FailureReasons        []string `yaml:"failure_reasons"`
	Cooldown              *float64 `yaml:"cooldown_seconds"`
	Window                *float64 `yaml:"window_seconds"`
	PriorityOrder         []string `yaml:"priority_order"`

	EventsFile   *string `yaml:"events_file"`
	EventsFormat *string `yaml:"events_format"`
	MetricsAddr  *string `yaml:"metrics_addr"`
	Verbose      *bool   `yaml:"verbose"`
}

// LoadFile reads a YAML configuration file and applies it over cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	if len(fc.TCINs) > 0 {
		cfg.TCINs = fc.TCINs
	}
	setString(&cfg.Source, fc.Source)
	setSeconds(&cfg.PollInterval, fc.PollInterval)
	setInt(&cfg.Parallelism, fc.Parallelism)
	setSeconds(&cfg.Delay, fc.Delay)
	setSeconds(&cfg.RandomDelay, fc.RandomDelay)
	setSeconds(&cfg.Timeout, fc.Timeout)
	setString(&cfg.UserAgent, fc.UserAgent)
	setString(&cfg.APIBaseURL, fc.APIBaseURL)
	setString(&cfg.APIKey, fc.APIKey)
	setString(&cfg.StoreID, fc.StoreID)
	setString(&cfg.SiteBaseURL, fc.SiteBaseURL)
	setSeconds(&cfg.CacheTTL, fc.CacheTTL)
	setInt(&cfg.CacheSize, fc.CacheSize)

	setString(&cfg.StateFile, fc.StateFile)
	setString(&cfg.LockFile, fc.LockFile)
	setSeconds(&cfg.LockTimeout, fc.LockTimeout)
	setInt(&cfg.LockRetries, fc.LockRetries)
	setInt(&cfg.MaxConcurrentAttempts, fc.MaxConcurrentAttempts)
	setSeconds(&cfg.AttemptDurationMin, fc.AttemptDurationMin)
	setSeconds(&cfg.AttemptDurationMax, fc.AttemptDurationMax)
	if fc.SuccessProbability != nil {
		cfg.SuccessProbability = *fc.SuccessProbability
	}
	if len(fc.FailureReasons) > 0 {
		cfg.FailureReasons = fc.FailureReasons
	}
	if fc.Cooldown != nil {
		cfg.Cooldown = secondsToDuration(*fc.Cooldown)
		// Selecting one policy in the file deselects the other default.
		if fc.Window == nil && cfg.Cooldown > 0 {
			cfg.Window = 0
		}
	}
	if fc.Window != nil {
		cfg.Window = secondsToDuration(*fc.Window)
		if fc.Cooldown == nil && cfg.Window > 0 {
			cfg.Cooldown = 0
		}
	}
	if len(fc.PriorityOrder) > 0 {
		cfg.PriorityOrder = fc.PriorityOrder
	}

	setString(&cfg.EventsFile, fc.EventsFile)
	setString(&cfg.EventsFormat, fc.EventsFormat)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setSeconds(dst *time.Duration, src *float64) {
	if src != nil {
		*dst = secondsToDuration(*src)
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
