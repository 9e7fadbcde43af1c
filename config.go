package goBioKey

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/goBioKey/session"
)

// Config holds the controller configuration.
//
// Config values are copied at Build time; later changes do not affect a
// running Controller.
type Config struct {
	Session  SessionConfig      `yaml:"session"`
	LockOnly LockOnlyConfig     `yaml:"lock_only"`
	Locale   session.LocaleText `yaml:"locale"`
	Audit    AuditConfig        `yaml:"audit"`
	Metrics  MetricsConfig      `yaml:"metrics"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig sets the settle delays of every challenge.
type SessionConfig struct {
	// SuccessDelay keeps the success message up before the secret is released.
	SuccessDelay time.Duration `yaml:"success_delay"`
	// ErrorDelay keeps a terminal error up before it is reported.
	ErrorDelay time.Duration `yaml:"error_delay"`
	// HintResetDelay is how long a warning shows before the hint returns.
	HintResetDelay time.Duration `yaml:"hint_reset_delay"`
}

/*
====================================
LOCK ONLY CONFIG
====================================
*/

// LockOnlyConfig bounds the device credential prompt of LockOnly.
type LockOnlyConfig struct {
	DefaultWaitTime time.Duration `yaml:"default_wait_time"`
	MaxWaitTime     time.Duration `yaml:"max_wait_time"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig enables the in-process counters and the session latency histogram.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			SuccessDelay:   session.DefaultSuccessDelay,
			ErrorDelay:     session.DefaultErrorDelay,
			HintResetDelay: session.DefaultHintResetDelay,
		},
		LockOnly: LockOnlyConfig{
			DefaultWaitTime: 30 * time.Second,
			MaxWaitTime:     5 * time.Minute,
		},
		Locale: session.DefaultLocale(),
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	if c.Session.SuccessDelay < 0 || c.Session.ErrorDelay < 0 || c.Session.HintResetDelay < 0 {
		return errors.New("session delays must be >= 0")
	}
	if c.Session.SuccessDelay > time.Minute || c.Session.ErrorDelay > time.Minute {
		return errors.New("session settle delays must be <= 1m")
	}
	if c.LockOnly.DefaultWaitTime <= 0 {
		return errors.New("LockOnly.DefaultWaitTime must be > 0")
	}
	if c.LockOnly.MaxWaitTime < c.LockOnly.DefaultWaitTime {
		return errors.New("LockOnly.MaxWaitTime must be >= DefaultWaitTime")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics.EnableLatencyHistograms requires Metrics.Enabled")
	}
	return nil
}

// LoadConfig decodes YAML from r over the defaults and validates the result.
// Unknown keys are rejected. An empty document yields the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := defaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Locale = cfg.Locale.Merge(session.DefaultLocale())
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
