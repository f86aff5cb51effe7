package common

import (
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.TrainingBindAddr != "0.0.0.0:8080" {
		t.Errorf("Server.TrainingBindAddr = %q, want %q", cfg.Server.TrainingBindAddr, "0.0.0.0:8080")
	}
	if cfg.Scheduler.Workers != 2 {
		t.Errorf("Scheduler.Workers = %d, want 2", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.QueueCapacity != 256 {
		t.Errorf("Scheduler.QueueCapacity = %d, want 256", cfg.Scheduler.QueueCapacity)
	}
	if cfg.Hub.MaxSubscribers != 1024 {
		t.Errorf("Hub.MaxSubscribers = %d, want 1024", cfg.Hub.MaxSubscribers)
	}
	if cfg.Hub.SubscriberBufferSize != 64 {
		t.Errorf("Hub.SubscriberBufferSize = %d, want 64", cfg.Hub.SubscriberBufferSize)
	}
	if cfg.Auth.Mode != "development" {
		t.Errorf("Auth.Mode = %q, want %q", cfg.Auth.Mode, "development")
	}
}

func TestConfig_WorkersEnvOverride(t *testing.T) {
	t.Setenv("LORAFORGE_WORKERS", "7")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Scheduler.Workers != 7 {
		t.Errorf("Scheduler.Workers = %d after env override, want 7", cfg.Scheduler.Workers)
	}
}

func TestConfig_QueueCapacityEnvOverride(t *testing.T) {
	t.Setenv("LORAFORGE_QUEUE_CAPACITY", "512")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Scheduler.QueueCapacity != 512 {
		t.Errorf("Scheduler.QueueCapacity = %d after env override, want 512", cfg.Scheduler.QueueCapacity)
	}
}

func TestConfig_NonNumericWorkersEnvOverrideIgnored(t *testing.T) {
	t.Setenv("LORAFORGE_WORKERS", "not-a-number")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Scheduler.Workers != 2 {
		t.Errorf("Scheduler.Workers = %d, want default 2 preserved on invalid override", cfg.Scheduler.Workers)
	}
}

func TestConfig_AuthEnvOverrides(t *testing.T) {
	t.Setenv("LORAFORGE_AUTH_MODE", "production")
	t.Setenv("LORAFORGE_AUTH_JWT_SECRET", "secret-from-env")
	t.Setenv("LORAFORGE_AUTH_TOKEN_EXPIRY", "1h")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Auth.Mode != "production" {
		t.Errorf("Auth.Mode = %q, want %q", cfg.Auth.Mode, "production")
	}
	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret-from-env")
	}
	if cfg.Auth.GetTokenExpiry() != time.Hour {
		t.Errorf("Auth.GetTokenExpiry() = %v, want 1h", cfg.Auth.GetTokenExpiry())
	}
}

func TestConfig_SearchProviderEnvOverrideEnables(t *testing.T) {
	t.Setenv("LORAFORGE_SEARCH_BASE_URL", "https://search.internal")
	t.Setenv("LORAFORGE_SEARCH_API_KEY", "key-123")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if !cfg.Providers.Search.Enabled {
		t.Error("Providers.Search.Enabled = false, want true once base URL is set via env")
	}
	if cfg.Providers.Search.BaseURL != "https://search.internal" {
		t.Errorf("Providers.Search.BaseURL = %q, want %q", cfg.Providers.Search.BaseURL, "https://search.internal")
	}
	if cfg.Providers.Search.APIKey != "key-123" {
		t.Errorf("Providers.Search.APIKey = %q, want %q", cfg.Providers.Search.APIKey, "key-123")
	}
}

func TestValidateAuthMode_UnrecognisedFallsBackToDevelopment(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Mode: "nonsense"}}
	validateAuthMode(cfg)
	if cfg.Auth.Mode != "development" {
		t.Errorf("Auth.Mode = %q, want %q", cfg.Auth.Mode, "development")
	}
}

func TestValidateAuthMode_RecognisedModePreserved(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{Mode: "DEBUG"}}
	validateAuthMode(cfg)
	if cfg.Auth.Mode != "debug" {
		t.Errorf("Auth.Mode = %q, want %q (lower-cased)", cfg.Auth.Mode, "debug")
	}
}

func TestSchedulerConfig_DurationGettersFallBackOnInvalid(t *testing.T) {
	cfg := &SchedulerConfig{CancelGraceTimeout: "bogus", JobRunTimeout: "", RetainTerminalFor: "bogus", RetentionSweepInterval: "bogus"}
	if d := cfg.GetCancelGraceTimeout(); d != 30*time.Second {
		t.Errorf("GetCancelGraceTimeout() = %v, want 30s", d)
	}
	if d := cfg.GetJobRunTimeout(); d != 0 {
		t.Errorf("GetJobRunTimeout() = %v, want 0 (infinite)", d)
	}
	if d := cfg.GetRetainTerminalFor(); d != 24*time.Hour {
		t.Errorf("GetRetainTerminalFor() = %v, want 24h", d)
	}
	if d := cfg.GetRetentionSweepInterval(); d != 5*time.Minute {
		t.Errorf("GetRetentionSweepInterval() = %v, want 5m", d)
	}
}

func TestSchedulerConfig_JobRunTimeoutConfigured(t *testing.T) {
	cfg := &SchedulerConfig{JobRunTimeout: "2h"}
	if d := cfg.GetJobRunTimeout(); d != 2*time.Hour {
		t.Errorf("GetJobRunTimeout() = %v, want 2h", d)
	}
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{Environment: "Production"}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true for \"Production\"")
	}
	cfg.Environment = "development"
	if cfg.IsProduction() {
		t.Error("IsProduction() = true, want false for \"development\"")
	}
}

func TestLoadConfig_MissingFileSkippedNoError(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("LoadConfig with a missing path should not error, got: %v", err)
	}
	if cfg.Scheduler.Workers != 2 {
		t.Errorf("Scheduler.Workers = %d, want default 2 when no file is found", cfg.Scheduler.Workers)
	}
}
