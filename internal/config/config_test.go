package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	if cfg.SourceAddr != ":51695" || cfg.ResultAddr != ":51696" {
		t.Fatalf("unexpected default addrs: %+v", cfg)
	}
	if cfg.QueueSize != 800 || cfg.MessageSize != 100000 {
		t.Fatalf("unexpected default queue/message size: %+v", cfg)
	}
	if cfg.RetryCeiling != 4 || cfg.MarkDoneRetry != 3 {
		t.Fatalf("unexpected default retry settings: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CORTEX_SOURCE_ADDR", ":9999")
	t.Setenv("CORTEX_QUEUE_SIZE", "42")
	t.Setenv("CORTEX_EXPIRY_PER_RETRY", "10m")

	cfg := Load()
	if cfg.SourceAddr != ":9999" {
		t.Fatalf("expected overridden source addr, got %q", cfg.SourceAddr)
	}
	if cfg.QueueSize != 42 {
		t.Fatalf("expected overridden queue size, got %d", cfg.QueueSize)
	}
	if cfg.ExpiryPerRetry != 10*time.Minute {
		t.Fatalf("expected overridden expiry, got %v", cfg.ExpiryPerRetry)
	}
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("CORTEX_QUEUE_SIZE", "not-a-number")
	cfg := Load()
	if cfg.QueueSize != 800 {
		t.Fatalf("expected fallback to default on invalid int, got %d", cfg.QueueSize)
	}
	os.Unsetenv("CORTEX_QUEUE_SIZE")
}
