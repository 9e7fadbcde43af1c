package soft

import (
	"errors"
	"time"
)

// Config controls the software platform.
type Config struct {
	RedisPrefix string `yaml:"redis_prefix"`
	// HardwareDetected reports whether the simulated sensor is present.
	HardwareDetected bool `yaml:"hardware_detected"`
	// LockoutThreshold consecutive failures lock the sensor out.
	LockoutThreshold int `yaml:"lockout_threshold"`
	// LockoutDuration is the rolling window of the failure ledger.
	LockoutDuration time.Duration `yaml:"lockout_duration"`
	// CredentialWait bounds a device-credential prompt when the request
	// carries no wait time.
	CredentialWait time.Duration `yaml:"credential_wait"`
	// TokenTTL is the lifetime of issued authentication tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// DefaultConfig returns the platform defaults.
func DefaultConfig() Config {
	return Config{
		RedisPrefix:      "bk",
		HardwareDetected: true,
		LockoutThreshold: 5,
		LockoutDuration:  30 * time.Second,
		CredentialWait:   30 * time.Second,
		TokenTTL:         30 * time.Second,
	}
}

// Validate checks c for impossible values.
func (c Config) Validate() error {
	if c.RedisPrefix == "" {
		return errors.New("soft: redis prefix must not be empty")
	}
	if c.LockoutThreshold < 1 {
		return errors.New("soft: lockout threshold must be >= 1")
	}
	if c.LockoutDuration < 0 {
		return errors.New("soft: lockout duration must be >= 0")
	}
	if c.CredentialWait <= 0 {
		return errors.New("soft: credential wait must be > 0")
	}
	return nil
}
