// Package config holds daemon configuration: defaults, optional JSON
// file, and environment overrides, with validation deferred to the
// caller.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	Env      string `json:"env"`
	HTTPAddr string `json:"httpAddr"`

	// DatabaseURL selects the Postgres store; empty falls back to the
	// in-memory store (dev only).
	DatabaseURL string `json:"databaseUrl"`

	JWTSecret string `json:"jwtSecret"`
	DevMode   bool   `json:"devMode"`

	SystemA Endpoint `json:"systemA"`
	SystemB Endpoint `json:"systemB"`

	RateLimitA float64 `json:"rateLimitA"` // calls per second toward A
	RateLimitB float64 `json:"rateLimitB"` // calls per second toward B

	RetryMaxAttempts int `json:"retryMaxAttempts"`
	RetryBaseDelayMs int `json:"retryBaseDelayMs"`

	BatchSize            int  `json:"batchSize"`
	AutoArchiveUnmatched bool `json:"autoArchiveUnmatched"`
	StrictSanitization   bool `json:"strictSanitization"`

	ListTimeoutMs   int `json:"listTimeoutMs"`
	RecordTimeoutMs int `json:"recordTimeoutMs"`
}

// Endpoint is the credentials pair for one external system.
type Endpoint struct {
	BaseURL string `json:"baseUrl"`
	Token   string `json:"token"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Env:                  "dev",
		HTTPAddr:             ":8081",
		JWTSecret:            "dev-secret-change-in-production",
		RateLimitA:           2,
		RateLimitB:           3,
		RetryMaxAttempts:     3,
		RetryBaseDelayMs:     1000,
		BatchSize:            5,
		AutoArchiveUnmatched: true,
		StrictSanitization:   false,
		ListTimeoutMs:        60000,
		RecordTimeoutMs:      20000,
	}
}

// Load builds the configuration from defaults, an optional JSON file,
// and environment overrides, in that order. Validation is NOT
// performed here; call Validate after any further overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnvironmentOverrides(cfg)
	return cfg, nil
}

func applyEnvironmentOverrides(cfg *Config) {
	setString(&cfg.Env, "ENV")
	setString(&cfg.HTTPAddr, "OPS_ADDR")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.JWTSecret, "OPS_JWT_SECRET")
	setBool(&cfg.DevMode, "PAGESYNC_DEV_MODE")

	setString(&cfg.SystemA.BaseURL, "SYSTEM_A_BASE_URL")
	setString(&cfg.SystemA.Token, "SYSTEM_A_TOKEN")
	setString(&cfg.SystemB.BaseURL, "SYSTEM_B_BASE_URL")
	setString(&cfg.SystemB.Token, "SYSTEM_B_TOKEN")

	setFloat(&cfg.RateLimitA, "PAGESYNC_RATE_LIMIT_A")
	setFloat(&cfg.RateLimitB, "PAGESYNC_RATE_LIMIT_B")
	setInt(&cfg.RetryMaxAttempts, "PAGESYNC_RETRY_MAX_ATTEMPTS")
	setInt(&cfg.RetryBaseDelayMs, "PAGESYNC_RETRY_BASE_DELAY_MS")
	setInt(&cfg.BatchSize, "PAGESYNC_BATCH_SIZE")
	setBool(&cfg.AutoArchiveUnmatched, "PAGESYNC_AUTO_ARCHIVE_UNMATCHED")
	setBool(&cfg.StrictSanitization, "PAGESYNC_STRICT_SANITIZATION")
	setInt(&cfg.ListTimeoutMs, "PAGESYNC_LIST_TIMEOUT_MS")
	setInt(&cfg.RecordTimeoutMs, "PAGESYNC_RECORD_TIMEOUT_MS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	switch os.Getenv(key) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.SystemA.BaseURL == "" {
		errs = append(errs, errors.New("system A base URL is required (SYSTEM_A_BASE_URL)"))
	}
	if c.SystemB.BaseURL == "" {
		errs = append(errs, errors.New("system B base URL is required (SYSTEM_B_BASE_URL)"))
	}
	if c.RateLimitA <= 0 || c.RateLimitB <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("retryMaxAttempts must be at least 1"))
	}
	if c.RetryBaseDelayMs < 0 {
		errs = append(errs, errors.New("retryBaseDelayMs must not be negative"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, errors.New("batchSize must be at least 1"))
	}
	if c.ListTimeoutMs <= 0 || c.RecordTimeoutMs <= 0 {
		errs = append(errs, errors.New("operation timeouts must be positive"))
	}
	if c.Env != "dev" && c.DevMode {
		errs = append(errs, errors.New("devMode is only permitted when ENV=dev"))
	}
	return errors.Join(errs...)
}

// ListTimeout returns the listing-operation deadline.
func (c *Config) ListTimeout() time.Duration {
	return time.Duration(c.ListTimeoutMs) * time.Millisecond
}

// RecordTimeout returns the single-record-operation deadline.
func (c *Config) RecordTimeout() time.Duration {
	return time.Duration(c.RecordTimeoutMs) * time.Millisecond
}

// RetryBaseDelay returns the first retry backoff interval.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}
