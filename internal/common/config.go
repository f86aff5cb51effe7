// Package common provides shared utilities for the training-job control
// plane: configuration loading, structured logging, and startup banners.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the control plane, re-keyed from the
// teacher's flat finance-domain sections into the sections this service
// actually needs.
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Hub         HubConfig       `toml:"hub"`
	Auth        AuthConfig      `toml:"auth"`
	Trainers    TrainersConfig  `toml:"trainers"`
	Providers   ProvidersConfig `toml:"providers"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds the two service bind addresses the Request Surface
// listens on (training and dataset-assembly endpoints, per the transport
// section's "two service endpoints").
type ServerConfig struct {
	TrainingBindAddr       string  `toml:"training_bind_addr"`
	DatasetBindAddr        string  `toml:"dataset_bind_addr"`
	AllowAnonymousMetrics  bool    `toml:"allow_anonymous_metrics"`
	RateLimitPerSecond     float64 `toml:"rate_limit_per_second"`
	RateLimitBurst         int     `toml:"rate_limit_burst"`
}

// GetRateLimitPerSecond defaults to 20 requests/second per key when unset.
func (c *ServerConfig) GetRateLimitPerSecond() float64 {
	if c.RateLimitPerSecond <= 0 {
		return 20
	}
	return c.RateLimitPerSecond
}

// GetRateLimitBurst defaults to 40 when unset.
func (c *ServerConfig) GetRateLimitBurst() int {
	if c.RateLimitBurst <= 0 {
		return 40
	}
	return c.RateLimitBurst
}

// SchedulerConfig holds the Job Manager / Worker Pool's tunables.
type SchedulerConfig struct {
	Workers                int    `toml:"workers"`
	QueueCapacity          int    `toml:"queue_capacity"`
	CancelGraceTimeout     string `toml:"cancel_grace_timeout"`
	JobRunTimeout          string `toml:"job_run_timeout"` // empty/"0" means infinite
	RetainTerminalFor      string `toml:"retain_terminal_for"`
	RetentionSweepInterval string `toml:"retention_sweep_interval"`
}

// GetCancelGraceTimeout parses CancelGraceTimeout, defaulting to 30s.
func (c *SchedulerConfig) GetCancelGraceTimeout() time.Duration {
	d, err := time.ParseDuration(c.CancelGraceTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetJobRunTimeout parses JobRunTimeout, defaulting to 0 (infinite).
func (c *SchedulerConfig) GetJobRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.JobRunTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetRetainTerminalFor parses RetainTerminalFor, defaulting to 24h.
func (c *SchedulerConfig) GetRetainTerminalFor() time.Duration {
	d, err := time.ParseDuration(c.RetainTerminalFor)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetRetentionSweepInterval parses RetentionSweepInterval, defaulting to 5m.
func (c *SchedulerConfig) GetRetentionSweepInterval() time.Duration {
	d, err := time.ParseDuration(c.RetentionSweepInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// HubConfig holds the Progress Hub's capacity tunables.
type HubConfig struct {
	MaxSubscribers       int `toml:"max_subscribers"`
	SubscriberBufferSize int `toml:"subscriber_buffer_size"`
}

// AuthConfig holds the Auth Gate's mode and credential coordinates.
type AuthConfig struct {
	Mode        string   `toml:"mode"` // production | development | debug | testing
	JWTSecret   string   `toml:"jwt_secret"`
	TokenExpiry string   `toml:"token_expiry"`
	DebugRoles  []string `toml:"debug_roles"`
}

// GetTokenExpiry parses TokenExpiry, defaulting to 24h.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// TrainersConfig holds per-trainer-kind defaults.
type TrainersConfig struct {
	LoRA            EpochTrainerConfig     `toml:"lora"`
	QLoRA           EpochTrainerConfig     `toml:"qlora"`
	Continuous      ContinuousConfig       `toml:"continuous"`
	DatasetAssembly DatasetAssemblyConfig  `toml:"dataset_assembly"`
}

// EpochTrainerConfig configures the epoch/step simulators shared by the
// LoRA and QLoRA adapters.
type EpochTrainerConfig struct {
	Epochs        int    `toml:"epochs"`
	StepsPerEpoch int    `toml:"steps_per_epoch"`
	StepWork      string `toml:"step_work"`
}

func (c *EpochTrainerConfig) GetStepWork() time.Duration {
	d, err := time.ParseDuration(c.StepWork)
	if err != nil {
		return 200 * time.Millisecond
	}
	return d
}

// ContinuousConfig configures the Continuous trainer.
type ContinuousConfig struct {
	DrainLimit int    `toml:"drain_limit"`
	StepWork   string `toml:"step_work"`
}

func (c *ContinuousConfig) GetStepWork() time.Duration {
	d, err := time.ParseDuration(c.StepWork)
	if err != nil {
		return 50 * time.Millisecond
	}
	return d
}

// DatasetAssemblyConfig configures the DatasetAssembly trainer.
type DatasetAssemblyConfig struct {
	ExportRoot string `toml:"export_root"`
	StepWork   string `toml:"step_work"`
}

func (c *DatasetAssemblyConfig) GetStepWork() time.Duration {
	d, err := time.ParseDuration(c.StepWork)
	if err != nil {
		return 10 * time.Millisecond
	}
	return d
}

// ProvidersConfig holds optional external-collaborator coordinates. Both
// are optional; absent configuration means the trainers fall back to the in-process defaults (filesystem search over
// datasetRef, an empty in-memory feedback buffer).
type ProvidersConfig struct {
	Search   SearchProviderConfig   `toml:"search"`
	Feedback FeedbackProviderConfig `toml:"feedback"`
}

// SearchProviderConfig holds coordinates for an external search provider.
// The core ships only the filesystem fallback; a real search backend is
// wired in by whoever constructs the app, using these coordinates.
type SearchProviderConfig struct {
	Enabled      bool   `toml:"enabled"`
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	FallbackRoot string `toml:"fallback_root"`
}

// FeedbackProviderConfig holds coordinates for an external feedback
// provider. The core ships only the in-memory buffer.
type FeedbackProviderConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// LoggingConfig holds logging configuration, carried over from the teacher
// almost unchanged — structured logging is an ambient concern, not a
// domain one.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults, matching the
// capacity limits and timeouts the concurrency model specifies.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			TrainingBindAddr: "0.0.0.0:8080",
			DatasetBindAddr:  "0.0.0.0:8081",
		},
		Scheduler: SchedulerConfig{
			Workers:                2,
			QueueCapacity:          256,
			CancelGraceTimeout:     "30s",
			JobRunTimeout:          "0",
			RetainTerminalFor:      "24h",
			RetentionSweepInterval: "5m",
		},
		Hub: HubConfig{
			MaxSubscribers:       1024,
			SubscriberBufferSize: 64,
		},
		Auth: AuthConfig{
			Mode:        "development",
			JWTSecret:   "dev-secret-change-in-production",
			TokenExpiry: "24h",
		},
		Trainers: TrainersConfig{
			LoRA:            EpochTrainerConfig{Epochs: 3, StepsPerEpoch: 20, StepWork: "200ms"},
			QLoRA:           EpochTrainerConfig{Epochs: 3, StepsPerEpoch: 20, StepWork: "250ms"},
			Continuous:      ContinuousConfig{DrainLimit: 256, StepWork: "50ms"},
			DatasetAssembly: DatasetAssemblyConfig{ExportRoot: "data/datasets", StepWork: "10ms"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console"},
			FilePath:   "./logs/loraforge.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides,
// merging each path in order (later files override earlier ones), then
// applying environment overrides on top of everything.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	validateAuthMode(config)

	return config, nil
}

// envPrefix is the flat env-override prefix per the environment overrides
// contract (e.g. LORAFORGE_WORKERS=4 overrides Scheduler.Workers).
const envPrefix = "LORAFORGE_"

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv(envPrefix + "ENV"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv(envPrefix + "TRAINING_BIND_ADDR"); v != "" {
		config.Server.TrainingBindAddr = v
	}
	if v := os.Getenv(envPrefix + "DATASET_BIND_ADDR"); v != "" {
		config.Server.DatasetBindAddr = v
	}

	if v := os.Getenv(envPrefix + "WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scheduler.Workers = n
		}
	}
	if v := os.Getenv(envPrefix + "QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scheduler.QueueCapacity = n
		}
	}
	if v := os.Getenv(envPrefix + "CANCEL_GRACE_TIMEOUT"); v != "" {
		config.Scheduler.CancelGraceTimeout = v
	}
	if v := os.Getenv(envPrefix + "JOB_RUN_TIMEOUT"); v != "" {
		config.Scheduler.JobRunTimeout = v
	}
	if v := os.Getenv(envPrefix + "RETAIN_TERMINAL_FOR"); v != "" {
		config.Scheduler.RetainTerminalFor = v
	}

	if v := os.Getenv(envPrefix + "MAX_SUBSCRIBERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Hub.MaxSubscribers = n
		}
	}
	if v := os.Getenv(envPrefix + "SUBSCRIBER_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Hub.SubscriberBufferSize = n
		}
	}

	if v := os.Getenv(envPrefix + "AUTH_MODE"); v != "" {
		config.Auth.Mode = v
	}
	if v := os.Getenv(envPrefix + "AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv(envPrefix + "AUTH_TOKEN_EXPIRY"); v != "" {
		config.Auth.TokenExpiry = v
	}

	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv(envPrefix + "SEARCH_BASE_URL"); v != "" {
		config.Providers.Search.Enabled = true
		config.Providers.Search.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "SEARCH_API_KEY"); v != "" {
		config.Providers.Search.APIKey = v
	}
	if v := os.Getenv(envPrefix + "FEEDBACK_BASE_URL"); v != "" {
		config.Providers.Feedback.Enabled = true
		config.Providers.Feedback.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "FEEDBACK_API_KEY"); v != "" {
		config.Providers.Feedback.APIKey = v
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// validAuthModes is the closed set the Auth Gate recognises.
var validAuthModes = map[string]bool{
	"production":  true,
	"development": true,
	"debug":       true,
	"testing":     true,
}

// validateAuthMode defaults an unrecognised or empty auth mode to
// "development" rather than failing startup outright.
func validateAuthMode(config *Config) {
	mode := strings.ToLower(strings.TrimSpace(config.Auth.Mode))
	if !validAuthModes[mode] {
		mode = "development"
	}
	config.Auth.Mode = mode
}
