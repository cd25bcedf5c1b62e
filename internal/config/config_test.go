package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("unexpected server port: %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected empty DSN by default, got %q", cfg.Database.DSN)
	}
	if cfg.Fetch.Interval != 5*time.Hour || cfg.Fetch.BatchSize != 10 {
		t.Fatalf("unexpected fetch defaults: %+v", cfg.Fetch)
	}
	if cfg.Amazon.Marketplace != "www.amazon.com.au" {
		t.Fatalf("unexpected marketplace: %q", cfg.Amazon.Marketplace)
	}
	if cfg.Amazon.Configured() {
		t.Fatal("amazon should not be configured without credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("AMAZON_ACCESS_KEY", "AKIAEXAMPLE")
	t.Setenv("AMAZON_SECRET_KEY", "secret")
	t.Setenv("FETCH_INTERVAL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("unexpected server port: %d", cfg.Server.Port)
	}
	if !cfg.Amazon.Configured() {
		t.Fatal("amazon should be configured with credentials")
	}
	if cfg.Fetch.Interval != 30*time.Minute {
		t.Fatalf("unexpected interval: %s", cfg.Fetch.Interval)
	}
}

func TestLoadRejectsNonPositiveInterval(t *testing.T) {
	t.Setenv("FETCH_INTERVAL", "0s")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestLoadRejectsNonPositiveBatchSize(t *testing.T) {
	t.Setenv("FETCH_BATCH_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero batch size")
	}
}
