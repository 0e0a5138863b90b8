// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.yaml.in/yaml/v3"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/app"
	"github.com/Evronai/Project-AI-Assistant/internal/pricing"
	"github.com/Evronai/Project-AI-Assistant/internal/vault"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Vault      VaultConfig      `yaml:"vault"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Credential CredentialConfig `yaml:"credential"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`
	Workers    WorkersConfig    `yaml:"workers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path, ":memory:" or a postgres URL
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	AdminKey string `yaml:"admin_key"` // bearer token for admin routes; empty disables the check
}

// VaultConfig controls API key encryption at rest.
type VaultConfig struct {
	Secret   string `yaml:"secret"`
	Disabled bool   `yaml:"disabled"` // store keys in plaintext
}

// GatewayConfig holds the invocation defaults.
type GatewayConfig struct {
	Provider        string        `yaml:"provider"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	MonthlyBudget   float64       `yaml:"monthly_budget"` // USD, default ceiling for new profiles
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
	RateLimitRPM    int64         `yaml:"rate_limit_rpm"`
	Timeout         time.Duration `yaml:"timeout"` // per attempt
	BackoffUnit     time.Duration `yaml:"backoff_unit"`
	MaxAttempts     int           `yaml:"max_attempts"`
	MaxPromptChars  int           `yaml:"max_prompt_chars"`
	MaxContextChars int           `yaml:"max_context_chars"`
	StrictBudget    bool          `yaml:"strict_budget"`
	BudgetTimezone  string        `yaml:"budget_timezone"` // IANA name, default UTC
	ProfileCacheTTL time.Duration `yaml:"profile_cache_ttl"`
}

// PricingConfig overrides the built-in price table. Prices are USD per 1M tokens.
type PricingConfig struct {
	Default pricing.Price            `yaml:"default"`
	Models  map[string]pricing.Price `yaml:"models"`
}

// CredentialConfig seeds the first credential profile.
type CredentialConfig struct {
	APIKey   string   `yaml:"api_key"`
	Model    string   `yaml:"model"`
	Features []string `yaml:"features"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// WorkersConfig schedules background work.
type WorkersConfig struct {
	RollupSchedule string        `yaml:"rollup_schedule"` // cron expression, empty disables
	SpendRefresh   time.Duration `yaml:"spend_refresh"`
	DNSRefresh     time.Duration `yaml:"dns_refresh"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "aigw.db",
		},
		Gateway: GatewayConfig{
			Provider:        "deepseek",
			BaseURL:         "https://api.deepseek.com",
			Model:           "deepseek-chat",
			MonthlyBudget:   50,
			MaxTokens:       app.DefaultMaxTokens,
			Temperature:     app.DefaultTemperature,
			RateLimitRPM:    20,
			Timeout:         app.DefaultTimeout,
			BackoffUnit:     app.DefaultBackoffUnit,
			MaxAttempts:     app.DefaultMaxAttempts,
			MaxPromptChars:  app.DefaultMaxPromptChars,
			MaxContextChars: app.DefaultMaxContextChars,
			BudgetTimezone:  "UTC",
			ProfileCacheTTL: app.DefaultProfileCacheTTL,
		},
		Pricing: PricingConfig{
			Default: pricing.DefaultPrice,
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
			Tracing: TracingConfig{SampleRate: 1},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Workers: WorkersConfig{
			RollupSchedule: "5 * * * *",
			SpendRefresh:   time.Minute,
			DNSRefresh:     5 * time.Minute,
		},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads .env (if present), parses the YAML file at path with
// environment variables expanded, then applies the well-known environment
// overrides. An empty path skips the file and uses defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from the process environment.
func applyEnv(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, set func(string) error) {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	str("APP_SECRET_KEY", &cfg.Vault.Secret)
	str("DEEPSEEK_BASE_URL", &cfg.Gateway.BaseURL)
	str("DEEPSEEK_API_KEY", &cfg.Credential.APIKey)
	str("AIGW_ADMIN_KEY", &cfg.Auth.AdminKey)
	if v, ok := os.LookupEnv("DATABASE_PATH"); ok && v != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.DSN = v
	}
	if v, ok := os.LookupEnv("DATABASE_URL"); ok && v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = v
	}

	num("AI_MONTHLY_BUDGET_USD", func(v string) (err error) {
		cfg.Gateway.MonthlyBudget, err = strconv.ParseFloat(v, 64)
		return err
	})
	num("AI_MAX_TOKENS", func(v string) (err error) {
		cfg.Gateway.MaxTokens, err = strconv.Atoi(v)
		return err
	})
	num("AI_RATE_LIMIT_RPM", func(v string) (err error) {
		cfg.Gateway.RateLimitRPM, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	num("AI_TIMEOUT_SECONDS", func(v string) error {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		cfg.Gateway.Timeout = time.Duration(secs * float64(time.Second))
		return nil
	})

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		add("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		add("database.dsn: required")
	}

	g := c.Gateway
	if u, err := url.Parse(g.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("gateway.base_url: %q is not an http(s) URL", g.BaseURL)
	}
	if g.Model == "" {
		add("gateway.model: required")
	}
	if g.MonthlyBudget <= 0 {
		add("gateway.monthly_budget: must be > 0")
	}
	if g.MaxTokens <= 0 {
		add("gateway.max_tokens: must be > 0")
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		add("gateway.temperature: must be in [0, 2]")
	}
	if g.RateLimitRPM <= 0 {
		add("gateway.rate_limit_rpm: must be > 0")
	}
	if g.Timeout <= 0 {
		add("gateway.timeout: must be > 0")
	}
	if g.BackoffUnit < 0 {
		add("gateway.backoff_unit: must be >= 0")
	}
	if g.MaxAttempts < 1 || g.MaxAttempts > 10 {
		add("gateway.max_attempts: must be in [1, 10]")
	}
	if _, err := time.LoadLocation(g.BudgetTimezone); err != nil {
		add("gateway.budget_timezone: %v", err)
	}

	if c.Pricing.Default.In < 0 || c.Pricing.Default.Out < 0 {
		add("pricing.default: prices must be >= 0")
	}
	for model, p := range c.Pricing.Models {
		if p.In < 0 || p.Out < 0 {
			add("pricing.models.%s: prices must be >= 0", model)
		}
	}

	for _, f := range c.Credential.Features {
		if !app.KnownFeature(f) {
			add("credential.features: unknown feature %q", f)
		}
	}

	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		add("telemetry.tracing.endpoint: required when tracing is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		add("logging.format: unknown format %q", c.Logging.Format)
	}

	if c.Workers.RollupSchedule != "" {
		if _, err := cron.ParseStandard(c.Workers.RollupSchedule); err != nil {
			add("workers.rollup_schedule: %v", err)
		}
	}
	if c.Workers.SpendRefresh <= 0 {
		add("workers.spend_refresh: must be > 0")
	}
	if c.Workers.DNSRefresh <= 0 {
		add("workers.dns_refresh: must be > 0")
	}

	return errors.Join(errs...)
}

// Location returns the time zone that defines budget months.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Gateway.BudgetTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewVault builds the key vault. Without a configured secret it falls back
// to vault.DevSecret and logs a warning; with encryption disabled keys are
// stored in plaintext.
func (c *Config) NewVault() *vault.Vault {
	if c.Vault.Disabled {
		slog.Warn("API key encryption disabled, keys are stored in plaintext")
		return vault.NewPlaintext()
	}
	secret := c.Vault.Secret
	if secret == "" {
		slog.Warn("APP_SECRET_KEY not set, using the development secret")
		secret = vault.DevSecret
	}
	v := vault.New(secret)
	if !v.EncryptionAvailable() {
		slog.Warn("API key encryption unavailable, keys are stored in plaintext")
	}
	return v
}

// PriceTable returns the built-in prices with configured overrides applied.
func (c *Config) PriceTable() *pricing.Table {
	return pricing.NewTable(pricing.DefaultModels(), c.Pricing.Default).Merge(c.Pricing.Models)
}

// ProfileDefaults returns the values applied to new credential profiles.
func (c *Config) ProfileDefaults() app.ProfileDefaults {
	return app.ProfileDefaults{
		Provider:      c.Gateway.Provider,
		Model:         c.Gateway.Model,
		BaseURL:       c.Gateway.BaseURL,
		MonthlyBudget: c.Gateway.MonthlyBudget,
	}
}

// GatewayOptions converts the gateway section to invoker options.
func (c *Config) GatewayOptions() app.Options {
	g := c.Gateway
	return app.Options{
		MaxTokens:       g.MaxTokens,
		Temperature:     g.Temperature,
		Timeout:         g.Timeout,
		BackoffUnit:     g.BackoffUnit,
		MaxAttempts:     g.MaxAttempts,
		MaxPromptChars:  g.MaxPromptChars,
		MaxContextChars: g.MaxContextChars,
		StrictBudget:    g.StrictBudget,
	}
}

// CredentialFeatures returns the feature set for a bootstrapped profile.
func (c *Config) CredentialFeatures() []string {
	if len(c.Credential.Features) == 0 {
		return gateway.DefaultFeatures
	}
	return c.Credential.Features
}
