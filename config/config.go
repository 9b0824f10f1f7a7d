package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. STANDHUB_API_BASE_URL.
const EnvPrefix = "STANDHUB"

// StoreBackend names a token storage backend.
type StoreBackend string

const (
	StoreBolt   StoreBackend = "bolt"
	StoreMemory StoreBackend = "memory"
	StoreRedis  StoreBackend = "redis"
)

// ClientConfig configures the client side session stack.
type ClientConfig struct {
	APIBaseURL string `mapstructure:"api_base_url"`

	StoreBackend   StoreBackend `mapstructure:"store_backend"`
	TokenStorePath string       `mapstructure:"token_store_path"`
	RedisAddr      string       `mapstructure:"redis_addr"`
	RedisPrefix    string       `mapstructure:"redis_prefix"`

	CheckInterval      time.Duration `mapstructure:"check_interval"`
	RefreshThreshold   time.Duration `mapstructure:"refresh_threshold"`
	MinRefreshInterval time.Duration `mapstructure:"min_refresh_interval"`
	MaxRetries         int           `mapstructure:"max_retries"`
	InitialDelay       time.Duration `mapstructure:"initial_delay"`
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
}

// GatewayConfig configures the reference credits gateway.
type GatewayConfig struct {
	HTTPAddr       string        `mapstructure:"http_addr"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SSOTokenTTL    time.Duration `mapstructure:"sso_token_ttl"`
	SeedBalance    int           `mapstructure:"seed_balance"`

	// AuditLog is a file path for audit events; empty writes them to stdout.
	AuditLog string `mapstructure:"audit_log"`
	// Tracing exports request spans to stderr.
	Tracing bool `mapstructure:"tracing"`

	LogLevel  string `mapstructure:"log_level"`
	LogPretty bool   `mapstructure:"log_pretty"`
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".standhub", "session.db")
	}
	return filepath.Join(home, ".standhub", "session.db")
}

func newViper(path, name string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.standhub")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func read(v *viper.Viper, explicit bool) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !explicit && errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("read config: %w", err)
}

// LoadClientConfig reads the client configuration. An empty path searches
// ./standhub.yaml and $HOME/.standhub/standhub.yaml and falls back to
// defaults; a non-empty path must exist.
func LoadClientConfig(path string) (*ClientConfig, error) {
	v := newViper(path, "standhub")

	v.SetDefault("api_base_url", "http://localhost:8787")
	v.SetDefault("store_backend", string(StoreBolt))
	v.SetDefault("token_store_path", defaultStorePath())
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "standhub")
	v.SetDefault("check_interval", "3m")
	v.SetDefault("refresh_threshold", "10m")
	v.SetDefault("min_refresh_interval", "5m")
	v.SetDefault("max_retries", 3)
	v.SetDefault("initial_delay", "1s")
	v.SetDefault("http_timeout", "15s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	if err := read(v, path != ""); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode client config: %w", err)
	}
	// Unmarshal leaves named string types from env vars untouched in some
	// viper versions; read it back explicitly.
	cfg.StoreBackend = StoreBackend(strings.ToLower(v.GetString("store_backend")))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *ClientConfig) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("api_base_url is required"))
	}
	switch c.StoreBackend {
	case StoreBolt:
		if c.TokenStorePath == "" {
			errs = append(errs, errors.New("token_store_path is required for the bolt backend"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is required for the redis backend"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store_backend %q", c.StoreBackend))
	}

	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"check_interval", c.CheckInterval},
		{"refresh_threshold", c.RefreshThreshold},
		{"min_refresh_interval", c.MinRefreshInterval},
		{"initial_delay", c.InitialDelay},
		{"http_timeout", c.HTTPTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
		}
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid client config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadGatewayConfig reads the gateway configuration the same way as
// LoadClientConfig, from gateway.yaml.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	v := newViper(path, "gateway")

	v.SetDefault("http_addr", "0.0.0.0:8787")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("session_ttl", "1h")
	v.SetDefault("reservation_ttl", "10m")
	v.SetDefault("sweep_interval", "1m")
	v.SetDefault("sso_token_ttl", "2m")
	v.SetDefault("seed_balance", 100)
	v.SetDefault("audit_log", "")
	v.SetDefault("tracing", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", true)

	if err := read(v, path != ""); err != nil {
		return nil, err
	}

	var cfg GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode gateway config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the gateway configuration.
func (c *GatewayConfig) Validate() error {
	var errs []error
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt_secret must be at least 16 bytes"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if c.ReservationTTL <= 0 {
		errs = append(errs, errors.New("reservation_ttl must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if c.SSOTokenTTL <= 0 {
		errs = append(errs, errors.New("sso_token_ttl must be positive"))
	}
	if c.SeedBalance < 0 {
		errs = append(errs, errors.New("seed_balance must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid gateway config: %w", errors.Join(errs...))
	}
	return nil
}
