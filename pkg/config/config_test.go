package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Webhooks.BaseRetryDelay != time.Second {
		t.Errorf("Webhooks.BaseRetryDelay = %v, want 1s", cfg.Webhooks.BaseRetryDelay)
	}
	if cfg.Webhooks.MaxRetryDelay != 5*time.Minute {
		t.Errorf("Webhooks.MaxRetryDelay = %v, want 5m", cfg.Webhooks.MaxRetryDelay)
	}
	if cfg.Webhooks.BackoffMultiplier != 2.0 {
		t.Errorf("Webhooks.BackoffMultiplier = %v, want 2.0", cfg.Webhooks.BackoffMultiplier)
	}
	if cfg.Webhooks.DefaultMaxRetries != 5 {
		t.Errorf("Webhooks.DefaultMaxRetries = %v, want 5", cfg.Webhooks.DefaultMaxRetries)
	}
	if cfg.Audit.RetentionDays != 90 {
		t.Errorf("Audit.RetentionDays = %v, want 90", cfg.Audit.RetentionDays)
	}
	if cfg.Audit.ArchiveEnabled {
		t.Error("Audit.ArchiveEnabled should default to false")
	}
	if cfg.Redis.URL != "" {
		t.Errorf("Redis.URL should default to empty, got %v", cfg.Redis.URL)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RELAY_PORT", "9090")
	t.Setenv("RELAY_BASE_RETRY_DELAY", "2s")
	t.Setenv("RELAY_MAX_RETRY_DELAY", "10m")
	t.Setenv("RELAY_BACKOFF_MULTIPLIER", "3.5")
	t.Setenv("RELAY_SWEEP_BATCH_SIZE", "50")
	t.Setenv("RELAY_AUDIT_ARCHIVE_ENABLED", "true")
	t.Setenv("RELAY_AUDIT_S3_BUCKET", "relay-audit")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want 9090", cfg.Server.Port)
	}
	if cfg.Webhooks.BaseRetryDelay != 2*time.Second {
		t.Errorf("Webhooks.BaseRetryDelay = %v, want 2s", cfg.Webhooks.BaseRetryDelay)
	}
	if cfg.Webhooks.MaxRetryDelay != 10*time.Minute {
		t.Errorf("Webhooks.MaxRetryDelay = %v, want 10m", cfg.Webhooks.MaxRetryDelay)
	}
	if cfg.Webhooks.BackoffMultiplier != 3.5 {
		t.Errorf("Webhooks.BackoffMultiplier = %v, want 3.5", cfg.Webhooks.BackoffMultiplier)
	}
	if cfg.Webhooks.SweepBatchSize != 50 {
		t.Errorf("Webhooks.SweepBatchSize = %v, want 50", cfg.Webhooks.SweepBatchSize)
	}
	if !cfg.Audit.ArchiveEnabled {
		t.Error("Audit.ArchiveEnabled should be true")
	}
	if cfg.Audit.S3Bucket != "relay-audit" {
		t.Errorf("Audit.S3Bucket = %v, want relay-audit", cfg.Audit.S3Bucket)
	}
}

func TestLoadConfig_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("RELAY_DEFAULT_MAX_RETRIES", "not-a-number")
	t.Setenv("RELAY_SWEEP_INTERVAL", "soon")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Webhooks.DefaultMaxRetries != 5 {
		t.Errorf("Webhooks.DefaultMaxRetries = %v, want default 5", cfg.Webhooks.DefaultMaxRetries)
	}
	if cfg.Webhooks.SweepInterval != 15*time.Second {
		t.Errorf("Webhooks.SweepInterval = %v, want default 15s", cfg.Webhooks.SweepInterval)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() failed: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"empty postgres url", func(c *Config) { c.Database.URL = "" }},
		{"zero base delay", func(c *Config) { c.Webhooks.BaseRetryDelay = 0 }},
		{"max delay below base", func(c *Config) {
			c.Webhooks.BaseRetryDelay = time.Minute
			c.Webhooks.MaxRetryDelay = time.Second
		}},
		{"multiplier too small", func(c *Config) { c.Webhooks.BackoffMultiplier = 1.0 }},
		{"zero max retries", func(c *Config) { c.Webhooks.DefaultMaxRetries = 0 }},
		{"zero sweep interval", func(c *Config) { c.Webhooks.SweepInterval = 0 }},
		{"zero rate limit", func(c *Config) { c.Webhooks.RateLimitPerMinute = 0 }},
		{"archival without bucket", func(c *Config) {
			c.Audit.ArchiveEnabled = true
			c.Audit.S3Bucket = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should have failed")
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("Validate() on defaults failed: %v", err)
	}
}
