package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all settings for the assessment service. Values come
// from defaults, then an optional YAML file (SITEAUDIT_CONFIG), then
// environment variables, in increasing precedence. A .env file in the
// working directory is loaded first when present.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Email    EmailConfig    `yaml:"email"`
	Runner   RunnerConfig   `yaml:"runner"`
	Crawler  CrawlerConfig  `yaml:"crawler"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProviderConfig describes the external LLM completion API.
type ProviderConfig struct {
	APIKey            string  `yaml:"apiKey"`
	BaseURL           string  `yaml:"baseUrl"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"maxTokens"`
	RequestsPerMinute int     `yaml:"requestsPerMinute"`
	MaxRetries        int     `yaml:"maxRetries"`
	TimeoutSeconds    int     `yaml:"timeoutSeconds"`
	RetryBaseDelayMs  int     `yaml:"retryBaseDelayMs"`
}

func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (p ProviderConfig) RetryBaseDelay() time.Duration {
	return time.Duration(p.RetryBaseDelayMs) * time.Millisecond
}

// StorageConfig selects the persistence backend: when PostgresDSN is
// set the Postgres store is used, otherwise SQLite under DataDir.
type StorageConfig struct {
	DataDir     string `yaml:"dataDir"`
	PostgresDSN string `yaml:"postgresDsn"`
}

// EmailConfig describes the transactional email provider.
type EmailConfig struct {
	APIKey       string `yaml:"apiKey"`
	BaseURL      string `yaml:"baseUrl"`
	From         string `yaml:"from"`
	AdminAddress string `yaml:"adminAddress"`
}

// Enabled reports whether outbound email is configured at all.
func (e EmailConfig) Enabled() bool {
	return e.APIKey != ""
}

type RunnerConfig struct {
	PollIntervalMs    int `yaml:"pollIntervalMs"`
	PacingStepMs      int `yaml:"pacingStepMs"`
	StaleAfterMinutes int `yaml:"staleAfterMinutes"`
	SweepIntervalSec  int `yaml:"sweepIntervalSec"`
}

func (r RunnerConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMs) * time.Millisecond
}

func (r RunnerConfig) PacingStep() time.Duration {
	return time.Duration(r.PacingStepMs) * time.Millisecond
}

func (r RunnerConfig) StaleAfter() time.Duration {
	return time.Duration(r.StaleAfterMinutes) * time.Minute
}

func (r RunnerConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSec) * time.Second
}

type CrawlerConfig struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeoutSeconds"`
}

func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4000},
		Provider: ProviderConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			Temperature:       0.4,
			MaxTokens:         2048,
			RequestsPerMinute: 20,
			MaxRetries:        3,
			TimeoutSeconds:    60,
			RetryBaseDelayMs:  1000,
		},
		Storage: StorageConfig{DataDir: "./data"},
		Email: EmailConfig{
			BaseURL: "https://api.resend.com",
			From:    "reports@opticrank.com",
		},
		Runner: RunnerConfig{
			PollIntervalMs:    500,
			PacingStepMs:      1500,
			StaleAfterMinutes: 15,
			SweepIntervalSec:  60,
		},
		Crawler: CrawlerConfig{Enabled: false, TimeoutSeconds: 10},
		Log:     LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, optional YAML file, and
// environment overrides. The provider API key is required.
func Load() (Config, error) {
	// Best effort; absence of a .env file is the normal case in production.
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("SITEAUDIT_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Provider.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: provider API key (set SITEAUDIT_PROVIDER_API_KEY)")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Provider.APIKey, "SITEAUDIT_PROVIDER_API_KEY")
	setString(&cfg.Provider.BaseURL, "SITEAUDIT_PROVIDER_BASE_URL")
	setString(&cfg.Provider.Model, "SITEAUDIT_PROVIDER_MODEL")
	setFloat(&cfg.Provider.Temperature, "SITEAUDIT_PROVIDER_TEMPERATURE")
	setInt(&cfg.Provider.MaxTokens, "SITEAUDIT_PROVIDER_MAX_TOKENS")
	setInt(&cfg.Provider.RequestsPerMinute, "SITEAUDIT_PROVIDER_RPM")
	setInt(&cfg.Provider.MaxRetries, "SITEAUDIT_PROVIDER_MAX_RETRIES")
	setInt(&cfg.Provider.TimeoutSeconds, "SITEAUDIT_PROVIDER_TIMEOUT_SECONDS")
	setInt(&cfg.Provider.RetryBaseDelayMs, "SITEAUDIT_PROVIDER_RETRY_BASE_DELAY_MS")

	setInt(&cfg.Server.Port, "SITEAUDIT_PORT")

	setString(&cfg.Storage.DataDir, "SITEAUDIT_DATA_DIR")
	setString(&cfg.Storage.PostgresDSN, "SITEAUDIT_POSTGRES_DSN")

	setString(&cfg.Email.APIKey, "SITEAUDIT_EMAIL_API_KEY")
	setString(&cfg.Email.BaseURL, "SITEAUDIT_EMAIL_BASE_URL")
	setString(&cfg.Email.From, "SITEAUDIT_EMAIL_FROM")
	setString(&cfg.Email.AdminAddress, "SITEAUDIT_ADMIN_EMAIL")

	setInt(&cfg.Runner.PollIntervalMs, "SITEAUDIT_RUNNER_POLL_MS")
	setInt(&cfg.Runner.PacingStepMs, "SITEAUDIT_RUNNER_PACING_MS")
	setInt(&cfg.Runner.StaleAfterMinutes, "SITEAUDIT_RUNNER_STALE_MINUTES")
	setInt(&cfg.Runner.SweepIntervalSec, "SITEAUDIT_RUNNER_SWEEP_SECONDS")

	setBool(&cfg.Crawler.Enabled, "SITEAUDIT_CRAWLER_ENABLED")
	setInt(&cfg.Crawler.TimeoutSeconds, "SITEAUDIT_CRAWLER_TIMEOUT_SECONDS")

	setString(&cfg.Log.Level, "SITEAUDIT_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
