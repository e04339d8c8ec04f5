package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.RateLimitA != 2 || cfg.RateLimitB != 3 {
		t.Errorf("rate limits = %v, %v", cfg.RateLimitA, cfg.RateLimitB)
	}
	if cfg.RetryMaxAttempts != 3 || cfg.RetryBaseDelayMs != 1000 {
		t.Errorf("retry = %d, %d", cfg.RetryMaxAttempts, cfg.RetryBaseDelayMs)
	}
	if cfg.BatchSize != 5 || !cfg.AutoArchiveUnmatched || cfg.StrictSanitization {
		t.Errorf("mirror knobs = %d, %v, %v", cfg.BatchSize, cfg.AutoArchiveUnmatched, cfg.StrictSanitization)
	}
	if cfg.ListTimeoutMs != 60000 || cfg.RecordTimeoutMs != 20000 {
		t.Errorf("timeouts = %d, %d", cfg.ListTimeoutMs, cfg.RecordTimeoutMs)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SYSTEM_A_BASE_URL", "https://a.example.com")
	t.Setenv("PAGESYNC_RATE_LIMIT_A", "5.5")
	t.Setenv("PAGESYNC_BATCH_SIZE", "10")
	t.Setenv("PAGESYNC_AUTO_ARCHIVE_UNMATCHED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SystemA.BaseURL != "https://a.example.com" {
		t.Errorf("SystemA.BaseURL = %q", cfg.SystemA.BaseURL)
	}
	if cfg.RateLimitA != 5.5 {
		t.Errorf("RateLimitA = %v", cfg.RateLimitA)
	}
	if cfg.BatchSize != 10 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
	if cfg.AutoArchiveUnmatched {
		t.Error("AutoArchiveUnmatched override ignored")
	}
}

func TestLoadFromFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagesync.json")
	body := `{"systemA":{"baseUrl":"https://file-a"},"systemB":{"baseUrl":"https://file-b"},"batchSize":7}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYSTEM_B_BASE_URL", "https://env-b")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SystemA.BaseURL != "https://file-a" {
		t.Errorf("file value lost: %q", cfg.SystemA.BaseURL)
	}
	if cfg.SystemB.BaseURL != "https://env-b" {
		t.Errorf("env should override file: %q", cfg.SystemB.BaseURL)
	}
	if cfg.BatchSize != 7 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("missing endpoints should fail validation")
	}
	if !strings.Contains(err.Error(), "system A base URL") {
		t.Errorf("error = %v", err)
	}

	cfg.SystemA.BaseURL = "https://a"
	cfg.SystemB.BaseURL = "https://b"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Env = "prod"
	cfg.DevMode = true
	if err := cfg.Validate(); err == nil {
		t.Error("devMode outside dev should fail validation")
	}

	cfg.DevMode = false
	cfg.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero batch size should fail validation")
	}
}
