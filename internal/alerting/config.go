package alerting

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Route maps a severity to the sinks it should reach.
type Route struct {
	Severity Severity `yaml:"severity"`
	Sinks    []string `yaml:"sinks"`
}

type Config struct {
	DedupeTTL     time.Duration `yaml:"dedupe_ttl"`
	RatePerMinute int           `yaml:"rate_per_minute"`

	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`

	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerSuccessThreshold int           `yaml:"breaker_success_threshold"`
	BreakerOpenFor          time.Duration `yaml:"breaker_open_for"`

	Routes []Route `yaml:"routes"`
}

// DefaultConfig routes everything to the log sink, escalating warnings and
// criticals to slack. Operators override it with ALERT_CONFIG_PATH.
func DefaultConfig() Config {
	return Config{
		DedupeTTL:               5 * time.Minute,
		RatePerMinute:           30,
		RetryMaxAttempts:        3,
		RetryBaseDelay:          time.Second,
		RetryMaxDelay:           15 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 2,
		BreakerOpenFor:          time.Minute,
		Routes: []Route{
			{Severity: SeverityInfo, Sinks: []string{"log"}},
			{Severity: SeverityWarning, Sinks: []string{"log", "slack"}},
			{Severity: SeverityCritical, Sinks: []string{"log", "slack", "email"}},
		},
	}
}

// LoadConfig reads a YAML routing config; an empty path yields the defaults.
// Unset numeric fields fall back to their defaults so partial files work.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read alert config: %w", err)
	}
	var loaded Config
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return cfg, fmt.Errorf("parse alert config: %w", err)
	}
	cfg.merge(loaded)
	for _, rt := range cfg.Routes {
		if !rt.Severity.Valid() {
			return cfg, fmt.Errorf("alert config: unknown severity %q", rt.Severity)
		}
	}
	return cfg, nil
}

func (c *Config) merge(o Config) {
	if o.DedupeTTL > 0 {
		c.DedupeTTL = o.DedupeTTL
	}
	if o.RatePerMinute > 0 {
		c.RatePerMinute = o.RatePerMinute
	}
	if o.RetryMaxAttempts > 0 {
		c.RetryMaxAttempts = o.RetryMaxAttempts
	}
	if o.RetryBaseDelay > 0 {
		c.RetryBaseDelay = o.RetryBaseDelay
	}
	if o.RetryMaxDelay > 0 {
		c.RetryMaxDelay = o.RetryMaxDelay
	}
	if o.BreakerFailureThreshold > 0 {
		c.BreakerFailureThreshold = o.BreakerFailureThreshold
	}
	if o.BreakerSuccessThreshold > 0 {
		c.BreakerSuccessThreshold = o.BreakerSuccessThreshold
	}
	if o.BreakerOpenFor > 0 {
		c.BreakerOpenFor = o.BreakerOpenFor
	}
	if len(o.Routes) > 0 {
		c.Routes = o.Routes
	}
}

func (c Config) sinksFor(sev Severity) []string {
	for _, rt := range c.Routes {
		if rt.Severity == sev {
			return rt.Sinks
		}
	}
	return []string{"log"}
}
