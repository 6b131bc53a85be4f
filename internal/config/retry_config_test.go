package config

import (
	"testing"
	"time"
)

func TestConfig_GetRetryConfig_MapsFields(t *testing.T) {
	cfg := Config{
		AppEnv:          "prod",
		RetryMaxRetries: 4,
		RetryBaseDelay:  750 * time.Millisecond,
		RetryMaxDelay:   5 * time.Second,
	}

	rc := cfg.GetRetryConfig()

	if rc.MaxRetries != cfg.RetryMaxRetries {
		t.Fatalf("MaxRetries = %d, want %d", rc.MaxRetries, cfg.RetryMaxRetries)
	}
	if rc.BaseDelay != cfg.RetryBaseDelay {
		t.Fatalf("BaseDelay = %v, want %v", rc.BaseDelay, cfg.RetryBaseDelay)
	}
	if rc.MaxDelay != cfg.RetryMaxDelay {
		t.Fatalf("MaxDelay = %v, want %v", rc.MaxDelay, cfg.RetryMaxDelay)
	}
}

func TestConfig_GetRetryConfig_TestEnvShortensDelays(t *testing.T) {
	cfg := Config{AppEnv: "test", RetryMaxRetries: 2, RetryBaseDelay: 500 * time.Millisecond, RetryMaxDelay: 10 * time.Second}

	rc := cfg.GetRetryConfig()

	if rc.MaxRetries != 2 {
		t.Fatalf("MaxRetries = %d, want 2", rc.MaxRetries)
	}
	if rc.BaseDelay >= cfg.RetryBaseDelay {
		t.Fatalf("expected shortened base delay in test env, got %v", rc.BaseDelay)
	}
}
