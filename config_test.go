package goBioKey

import (
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goBioKey/session"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.LockOnly.DefaultWaitTime != 30*time.Second {
		t.Fatalf("unexpected default wait time %v", cfg.LockOnly.DefaultWaitTime)
	}
	if cfg.Locale != session.DefaultLocale() {
		t.Fatal("default locale must be the built-in locale")
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative success delay", func(c *Config) { c.Session.SuccessDelay = -time.Second }},
		{"long error delay", func(c *Config) { c.Session.ErrorDelay = 2 * time.Minute }},
		{"zero wait time", func(c *Config) { c.LockOnly.DefaultWaitTime = 0 }},
		{"max below default", func(c *Config) { c.LockOnly.MaxWaitTime = time.Second }},
		{"audit without buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}},
		{"histograms without metrics", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.EnableLatencyHistograms = true
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	doc := `
session:
  success_delay: 500ms
  error_delay: 1s
lock_only:
  default_wait_time: 10s
  max_wait_time: 1m
locale:
  title: Sign in
audit:
  enabled: true
  buffer_size: 16
metrics:
  enabled: true
  enable_latency_histograms: true
`
	cfg, err := LoadConfig(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.SuccessDelay != 500*time.Millisecond || cfg.Session.ErrorDelay != time.Second {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
	if cfg.Session.HintResetDelay != session.DefaultHintResetDelay {
		t.Fatalf("unset field must keep its default, got %v", cfg.Session.HintResetDelay)
	}
	if cfg.LockOnly.DefaultWaitTime != 10*time.Second || cfg.LockOnly.MaxWaitTime != time.Minute {
		t.Fatalf("unexpected lock config %+v", cfg.LockOnly)
	}
	if cfg.Locale.Title != "Sign in" {
		t.Fatalf("unexpected title %q", cfg.Locale.Title)
	}
	if cfg.Locale.Cancel != session.DefaultLocale().Cancel {
		t.Fatal("empty locale fields must fall back to the defaults")
	}
	if !cfg.Audit.Enabled || cfg.Audit.BufferSize != 16 || !cfg.Audit.DropIfFull {
		t.Fatalf("unexpected audit config %+v", cfg.Audit)
	}
	if !cfg.Metrics.EnableLatencyHistograms {
		t.Fatal("expected latency histograms")
	}
}

func TestLoadConfigEmpty(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatal("empty document must yield the defaults")
	}
}

func TestLoadConfigRejectsUnknownKey(t *testing.T) {
	if _, err := LoadConfig(strings.NewReader("sessions:\n  success_delay: 1s\n")); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	doc := "lock_only:\n  default_wait_time: 2m\n  max_wait_time: 1m\n"
	if _, err := LoadConfig(strings.NewReader(doc)); err == nil {
		t.Fatal("expected validation error")
	}
}
