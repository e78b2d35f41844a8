package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen         = ":50053"
	defaultRequestsPerMin = 600
	defaultBurst          = 60
)

// Config captures the runtime settings for the rates service daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"env"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Storage       StorageConfig   `yaml:"storage"`
	History       HistoryConfig   `yaml:"history"`
	Rates         RatesConfig     `yaml:"rates"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig lists the authenticators accepted on write routes.
type AuthConfig struct {
	APITokens []string       `yaml:"api_tokens"`
	JWT       JWTConfig      `yaml:"jwt"`
	MTLS      MTLSAuthConfig `yaml:"mtls"`
}

// JWTConfig enables HS256 bearer tokens.
type JWTConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// MTLSAuthConfig enumerates the allowed client certificate identities.
type MTLSAuthConfig struct {
	AllowedCommonNames []string `yaml:"allowed_common_names"`
}

// RateLimitConfig bounds requests per client address. X-Real-IP and
// X-Forwarded-For identify the client only when TrustProxyHeaders is set,
// which is appropriate behind a proxy that overwrites them.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
	TrustProxyHeaders bool    `yaml:"trust_proxy_headers"`
}

// StorageConfig selects the modifier store. An empty path keeps modifiers in
// memory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig enables the modifier audit trail.
type HistoryConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RatesConfig tunes the rate calculator.
type RatesConfig struct {
	APYCeiling string `yaml:"apy_ceiling"`

	ceiling decimal.Decimal
}

// TelemetryConfig configures the OTLP exporters. An empty endpoint defers to
// the OTEL_EXPORTER_OTLP_* environment.
type TelemetryConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	Insecure       bool              `yaml:"insecure"`
	Headers        map[string]string `yaml:"headers"`
	DisableTraces  bool              `yaml:"disable_traces"`
	DisableMetrics bool              `yaml:"disable_metrics"`
}

// LogConfig controls log level and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if env := strings.TrimSpace(os.Getenv("LENDINGD_ENV")); env != "" {
		cfg.Environment = env
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = defaultRequestsPerMin
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.History.Driver = strings.ToLower(strings.TrimSpace(cfg.History.Driver))
	cfg.History.DSN = strings.TrimSpace(cfg.History.DSN)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	cfg.Rates.APYCeiling = strings.TrimSpace(cfg.Rates.APYCeiling)
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(cfg.TLS); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := cfg.History.validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if err := cfg.Rates.validate(); err != nil {
		return fmt.Errorf("rates: %w", err)
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.APITokens = trimAll(cfg.APITokens)
	cfg.MTLS.AllowedCommonNames = trimAll(cfg.MTLS.AllowedCommonNames)
	cfg.JWT.HMACSecret = strings.TrimSpace(cfg.JWT.HMACSecret)
	cfg.JWT.Issuer = strings.TrimSpace(cfg.JWT.Issuer)
	cfg.JWT.Audience = strings.TrimSpace(cfg.JWT.Audience)
}

func (cfg AuthConfig) validate(tls TLSConfig) error {
	hasTokens := len(cfg.APITokens) > 0
	hasJWT := cfg.JWT.HMACSecret != ""
	hasMTLS := len(cfg.MTLS.AllowedCommonNames) > 0
	if !hasTokens && !hasJWT && !hasMTLS {
		return fmt.Errorf("at least one api token, jwt secret or mTLS common name must be configured")
	}
	if hasJWT && len(cfg.JWT.HMACSecret) < 32 {
		return fmt.Errorf("jwt.hmac_secret must be at least 32 bytes")
	}
	if hasMTLS && strings.TrimSpace(tls.ClientCAPath) == "" {
		return fmt.Errorf("mtls.allowed_common_names requires tls.client_ca to be configured")
	}
	return nil
}

// Enabled reports whether modifier transitions are recorded.
func (cfg HistoryConfig) Enabled() bool {
	return cfg.Driver != ""
}

func (cfg HistoryConfig) validate() error {
	switch cfg.Driver {
	case "":
		if cfg.DSN != "" {
			return fmt.Errorf("dsn requires a driver")
		}
		return nil
	case "postgres", "sqlite":
		if cfg.DSN == "" {
			return fmt.Errorf("dsn required for driver %q", cfg.Driver)
		}
		return nil
	default:
		return fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func (cfg *RatesConfig) validate() error {
	if cfg.APYCeiling == "" {
		cfg.ceiling = decimal.Zero
		return nil
	}
	ceiling, err := decimal.NewFromString(cfg.APYCeiling)
	if err != nil {
		return fmt.Errorf("apy_ceiling: %w", err)
	}
	if !ceiling.IsPositive() {
		return fmt.Errorf("apy_ceiling must be positive")
	}
	cfg.ceiling = ceiling
	return nil
}

// Ceiling returns the parsed APY ceiling, or zero to keep the calculator
// default.
func (cfg RatesConfig) Ceiling() decimal.Decimal {
	return cfg.ceiling
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
