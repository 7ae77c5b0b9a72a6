package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/routeoptions/route-options/pkg/auth"
	"github.com/routeoptions/route-options/pkg/logging"
	"github.com/routeoptions/route-options/pkg/metrics"
	"github.com/routeoptions/route-options/pkg/middleware"
	"github.com/routeoptions/route-options/pkg/models"
	"github.com/routeoptions/route-options/pkg/osrm"
	"github.com/routeoptions/route-options/pkg/ratelimit"
	"github.com/routeoptions/route-options/pkg/retry"
	"github.com/routeoptions/route-options/pkg/store"
	tlsutil "github.com/routeoptions/route-options/pkg/tls"
	"github.com/routeoptions/route-options/pkg/tracing"
)

// EnvPrefix is prepended to every config key when read from the environment,
// e.g. ROUTEAPI_SERVER_PORT
const EnvPrefix = "ROUTEAPI"

// Environment variables read by earlier deployments of the service
var legacyEnv = map[string]string{
	"osrm.base_url":                 "OSRM_BASE_URL",
	"defaults.fuel_l_per_100km":     "FUEL_L_PER_100KM",
	"defaults.fuel_price_per_liter": "FUEL_PRICE_PER_LITER",
}

// ServerConfig controls the API listener
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultsConfig holds the values used when a request leaves them out
type DefaultsConfig struct {
	FuelLPer100Km     float64 `mapstructure:"fuel_l_per_100km" yaml:"fuel_l_per_100km"`
	FuelPricePerLiter int     `mapstructure:"fuel_price_per_liter" yaml:"fuel_price_per_liter"`
}

// Config is the complete service configuration
type Config struct {
	Server    ServerConfig          `mapstructure:"server" yaml:"server"`
	OSRM      osrm.Config           `mapstructure:"osrm" yaml:"osrm"`
	Defaults  DefaultsConfig        `mapstructure:"defaults" yaml:"defaults"`
	Store     store.Config          `mapstructure:"store" yaml:"store"`
	Logging   logging.Config        `mapstructure:"logging" yaml:"logging"`
	Metrics   metrics.Config        `mapstructure:"metrics" yaml:"metrics"`
	Tracing   tracing.Config        `mapstructure:"tracing" yaml:"tracing"`
	Auth      auth.Config           `mapstructure:"auth" yaml:"auth"`
	RateLimit ratelimit.Config      `mapstructure:"rate_limit" yaml:"rate_limit"`
	TLS       tlsutil.Config        `mapstructure:"tls" yaml:"tls"`
	CORS      middleware.CORSConfig `mapstructure:"cors" yaml:"cors"`
}

// SetDefaults registers every key with its default value. Keys must be known
// to viper for AutomaticEnv to reach them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	rc := retry.DefaultConfig()
	v.SetDefault("osrm.base_url", osrm.DefaultBaseURL)
	v.SetDefault("osrm.profile", "driving")
	v.SetDefault("osrm.timeout", osrm.DefaultTimeout)
	v.SetDefault("osrm.retry.max_retries", rc.MaxRetries)
	v.SetDefault("osrm.retry.initial_backoff", rc.InitialBackoff)
	v.SetDefault("osrm.retry.max_backoff", rc.MaxBackoff)
	v.SetDefault("osrm.retry.multiplier", rc.Multiplier)

	v.SetDefault("defaults.fuel_l_per_100km", 7.5)
	v.SetDefault("defaults.fuel_price_per_liter", 15000)

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.path", "routeapi.db")
	v.SetDefault("store.max_open_conns", 25)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("store.conn_max_idle_time", time.Minute)
	v.SetDefault("store.max_entries", 1000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.dir", "")
	v.SetDefault("logging.max_size_mb", 100)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "route-options-api")
	v.SetDefault("tracing.service_version", "")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("auth.api_key_hashes", []string{})

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.idle_ttl", 10*time.Minute)
	v.SetDefault("rate_limit.trust_forwarded_for", false)

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "certs/server.crt")
	v.SetDefault("tls.key_file", "certs/server.key")
	v.SetDefault("tls.auto_generate", true)
	v.SetDefault("tls.hosts", []string{})

	v.SetDefault("cors.allowed_origins", middleware.DefaultAllowedOrigins)
}

// BindEnv wires ROUTEAPI_* variables and the legacy names
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}
	return nil
}

// New returns a viper instance with defaults and env bindings applied
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.OSRM.BaseURL = strings.TrimRight(cfg.OSRM.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.OSRM.BaseURL == "" {
		errs = append(errs, errors.New("osrm.base_url is required"))
	}
	if c.OSRM.Timeout <= 0 {
		errs = append(errs, errors.New("osrm.timeout must be positive"))
	}
	if c.OSRM.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("osrm.retry.max_retries must not be negative"))
	}
	if f := c.Defaults.FuelLPer100Km; f <= 0 || f > models.MaxFuelLPer100Km {
		errs = append(errs, fmt.Errorf("defaults.fuel_l_per_100km must be in (0, %d], got %g", models.MaxFuelLPer100Km, f))
	}
	if p := c.Defaults.FuelPricePerLiter; p < 0 || p > models.MaxFuelPricePerLiter {
		errs = append(errs, fmt.Errorf("defaults.fuel_price_per_liter must be in [0, %d], got %d", models.MaxFuelPricePerLiter, p))
	}
	switch c.Store.Type {
	case "memory", "sqlite", "sqlite3", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("store.type %q is not supported", c.Store.Type))
	}
	if (c.Store.Type == "postgres" || c.Store.Type == "postgresql") && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required for postgres"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rate_limit.rps and rate_limit.burst must be positive when enabled"))
	}
	if c.TLS.Enabled && !c.TLS.AutoGenerate && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file are required unless tls.auto_generate is set"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %g", c.Tracing.SampleRatio))
	}

	return errors.Join(errs...)
}

// Addr is the host:port the API listens on
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// RequestDefaults returns the defaults applied to route-options requests
func (c *Config) RequestDefaults() models.RequestDefaults {
	return models.RequestDefaults{
		FuelLPer100Km:     c.Defaults.FuelLPer100Km,
		FuelPricePerLiter: c.Defaults.FuelPricePerLiter,
	}
}
