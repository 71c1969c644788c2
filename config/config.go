package config

import (
	"fmt"
	"net/url"
	"time"
)

// Source selection for availability polling.
const (
	SourceAPI  = "api"
	SourceSite = "site"
)

// Config holds monitor and purchase-coordination configuration.
type Config struct {
	// Availability polling
	TCINs        []string
	Source       string // api or site
	PollInterval time.Duration
	Parallelism  int
	Delay        time.Duration
	RandomDelay  time.Duration
	Timeout      time.Duration
	UserAgent    string
	APIBaseURL   string
	APIKey       string
	StoreID      string
	SiteBaseURL  string
	CacheTTL     time.Duration
	CacheSize    int

	// Purchase coordination
	StateFile             string
	LockFile              string
	LockTimeout           time.Duration
	LockRetries           int
	MaxConcurrentAttempts int
	AttemptDurationMin    time.Duration
	AttemptDurationMax    time.Duration
	SuccessProbability    float64
	FailureReasons        []string
	Cooldown              time.Duration // fixed cooldown after completion
	Window                time.Duration // window-aligned reset cadence
	PriorityOrder         []string

	// Output
	EventsFile   string
	EventsFormat string // jsonl, csv, or dual
	MetricsAddr  string
	Verbose      bool
}

// DefaultConfig returns conservative defaults for the Target demo setup.
func DefaultConfig() *Config {
	return &Config{
		Source:       SourceAPI,
		PollInterval: 30 * time.Second,
		Parallelism:  4,
		Delay:        0,
		RandomDelay:  500 * time.Millisecond,
		Timeout:      10 * time.Second,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		APIBaseURL:   "https://redsky.target.com/redsky_aggregations/v1/web/pdp_client_v1",
		APIKey:       "9f36aeafbe60771e321a7cc95a78140772ab3e96",
		StoreID:      "865",
		SiteBaseURL:  "https://www.target.com",
		CacheTTL:     15 * time.Second,
		CacheSize:    256,

		StateFile:             "logs/purchase_states.json",
		LockFile:              "logs/purchase_states.lock",
		LockTimeout:           2 * time.Second,
		LockRetries:           3,
		MaxConcurrentAttempts: 1,
		AttemptDurationMin:    2 * time.Second,
		AttemptDurationMax:    4 * time.Second,
		SuccessProbability:    0.7,
		FailureReasons: []string{
			"out_of_stock", "payment_failed", "cart_timeout",
			"captcha_required", "price_changed", "shipping_unavailable",
		},
		Cooldown: 2 * time.Minute,
		Window:   0,

		EventsFile:   "logs/transitions.jsonl",
		EventsFormat: "jsonl",
		MetricsAddr:  "",
		Verbose:      false,
	}
}

// Validate ensures all configuration values are coherent. Invalid
// configuration is fatal at startup, before any tick runs.
func (c *Config) Validate() error {
	if len(c.TCINs) == 0 {
		return fmt.Errorf("no TCINs configured")
	}
	if c.Source != SourceAPI && c.Source != SourceSite {
		return fmt.Errorf("source must be %q or %q", SourceAPI, SourceSite)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	for _, raw := range []string{c.APIBaseURL, c.SiteBaseURL} {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid base URL %q: %w", raw, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("base URL %q must include a host", raw)
		}
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}

	if c.StateFile == "" {
		return fmt.Errorf("state file cannot be empty")
	}
	if c.LockFile == "" {
		return fmt.Errorf("lock file cannot be empty")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}
	if c.LockRetries < 0 {
		return fmt.Errorf("lock retries cannot be negative")
	}
	if c.MaxConcurrentAttempts < 1 {
		return fmt.Errorf("max concurrent attempts must be at least 1")
	}
	if c.AttemptDurationMin <= 0 {
		return fmt.Errorf("attempt duration min must be positive")
	}
	if c.AttemptDurationMax < c.AttemptDurationMin {
		return fmt.Errorf("attempt duration min (%s) cannot exceed max (%s)", c.AttemptDurationMin, c.AttemptDurationMax)
	}
	if c.SuccessProbability < 0 || c.SuccessProbability > 1 {
		return fmt.Errorf("success probability must be between 0 and 1")
	}
	if len(c.FailureReasons) == 0 {
		return fmt.Errorf("failure reason set cannot be empty")
	}
	if c.Cooldown > 0 && c.Window > 0 {
		return fmt.Errorf("cooldown and window policies are mutually exclusive")
	}
	if c.Window > 0 && c.Window < time.Second {
		return fmt.Errorf("window must be at least one second")
	}
	if c.Cooldown <= 0 && c.Window <= 0 {
		return fmt.Errorf("either cooldown or window must be configured")
	}

	switch c.EventsFormat {
	case "jsonl", "csv", "dual":
	default:
		return fmt.Errorf("events format must be jsonl, csv, or dual")
	}
	if c.EventsFile == "" {
		return fmt.Errorf("events file cannot be empty")
	}

	return nil
}
