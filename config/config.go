package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smartshieldai-idps/ddosguard/internal/detection/ml"
	"github.com/smartshieldai-idps/ddosguard/internal/logging"
	"github.com/smartshieldai-idps/ddosguard/internal/notify"
	"github.com/smartshieldai-idps/ddosguard/internal/risk"
)

// ErrInvalidConfig is returned when a loaded configuration violates an invariant
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Server struct {
		Port           string        `yaml:"port"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		IdleTimeout    time.Duration `yaml:"idle_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		TLS            struct {
			Enabled  bool   `yaml:"enabled"`
			CertPath string `yaml:"cert_path"`
			KeyPath  string `yaml:"key_path"`
		} `yaml:"tls"`
	} `yaml:"server"`

	Logging logging.Config `yaml:"logging"`

	Model struct {
		Dir           string        `yaml:"dir"`
		Watch         bool          `yaml:"watch"`
		WatchDebounce time.Duration `yaml:"watch_debounce"`
	} `yaml:"model"`

	Resolver ml.ResolverConfig `yaml:"resolver"`

	Risk risk.Weights `yaml:"risk_weights"`

	Recommend struct {
		CatalogPath string `yaml:"catalog_path"`
	} `yaml:"recommend"`

	GeoIP struct {
		DBPath    string `yaml:"db_path"`
		CacheSize int    `yaml:"cache_size"`
	} `yaml:"geoip"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`

	Elasticsearch struct {
		Addresses []string `yaml:"addresses"`
		Username  string   `yaml:"username"`
		Password  string   `yaml:"password"`
		Index     string   `yaml:"index"`
	} `yaml:"elasticsearch"`

	SMTP notify.SMTPConfig `yaml:"smtp"`

	Sinks struct {
		MaxInFlight int           `yaml:"max_in_flight"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"sinks"`

	Security struct {
		RateLimit      float64 `yaml:"rate_limit"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
		MaxRequestSize int64   `yaml:"max_request_size"`
		AdminToken     string  `yaml:"admin_token"`
	} `yaml:"security"`
}

// Default returns the built-in configuration
func Default() *Config {
	var cfg Config
	cfg.Server.Port = "8000"
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.IdleTimeout = 120 * time.Second
	cfg.Server.RequestTimeout = 5 * time.Second

	cfg.Logging = logging.DefaultConfig()

	cfg.Model.Dir = "model"
	cfg.Model.WatchDebounce = time.Second

	cfg.Resolver = ml.DefaultResolverConfig()
	cfg.Risk = risk.DefaultWeights()
	cfg.Recommend.CatalogPath = "config/recommend.yml"
	cfg.GeoIP.CacheSize = 4096
	cfg.Elasticsearch.Index = "threats"

	cfg.SMTP.Port = 587

	cfg.Sinks.MaxInFlight = 64
	cfg.Sinks.Timeout = 30 * time.Second

	cfg.Security.RateLimit = 20
	cfg.Security.RateLimitBurst = 40
	cfg.Security.MaxRequestSize = 1 << 20
	return &cfg
}

// LoadConfig loads the configuration from config/config.yaml or $CONFIG_PATH
func LoadConfig() (*Config, error) {
	// Default config file path
	configPath := "config/config.yaml"

	// Check if config path is set in environment
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}

	return LoadConfigFrom(configPath)
}

// LoadConfigFrom loads, overrides from the environment and validates
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Model.Dir = getEnv("MODEL_DIR", c.Model.Dir)
	c.GeoIP.DBPath = getEnv("GEOIP_DB_PATH", c.GeoIP.DBPath)
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Postgres.URL = getEnv("DATABASE_URL", c.Postgres.URL)

	if addr := os.Getenv("ELASTICSEARCH_URL"); addr != "" {
		c.Elasticsearch.Addresses = splitList(addr)
	}
	c.Elasticsearch.Username = getEnv("ELASTICSEARCH_USER", c.Elasticsearch.Username)
	c.Elasticsearch.Password = getEnv("ELASTICSEARCH_PASS", c.Elasticsearch.Password)
	c.Elasticsearch.Index = getEnv("ELASTICSEARCH_INDEX", c.Elasticsearch.Index)

	c.SMTP.Host = getEnv("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Username = getEnv("SMTP_EMAIL", c.SMTP.Username)
	c.SMTP.Password = getEnv("SMTP_PASSWORD", c.SMTP.Password)
	if to := os.Getenv("ALERT_EMAIL_TO"); to != "" {
		c.SMTP.To = splitList(to)
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: SMTP_PORT %q is not a number", ErrInvalidConfig, port)
		}
		c.SMTP.Port = p
	}

	c.Security.AdminToken = getEnv("ADMIN_TOKEN", c.Security.AdminToken)

	for _, w := range []struct {
		key string
		dst *float64
	}{
		{"CONF_WEIGHT", &c.Risk.Confidence},
		{"DUR_WEIGHT", &c.Risk.Duration},
		{"RATIO_WEIGHT", &c.Risk.Ratio},
	} {
		raw, ok := os.LookupEnv(w.key)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%w: %s %q is not a number", ErrInvalidConfig, w.key, raw)
		}
		*w.dst = v
	}
	return nil
}

// Validate checks the invariants the service relies on at startup
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %q", ErrInvalidConfig, c.Server.Port)
	}
	if c.Model.Dir == "" {
		return fmt.Errorf("%w: model dir is required", ErrInvalidConfig)
	}
	if t := c.Resolver.LowConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("%w: low_confidence_threshold %v outside [0,1]", ErrInvalidConfig, t)
	}
	if t := c.Resolver.NoisyClassLimit; t < 0 || t > 1 {
		return fmt.Errorf("%w: noisy_class_limit %v outside [0,1]", ErrInvalidConfig, t)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.CertPath == "" || c.Server.TLS.KeyPath == "") {
		return fmt.Errorf("%w: tls enabled without cert_path and key_path", ErrInvalidConfig)
	}
	if c.Sinks.MaxInFlight < 0 || c.Sinks.Timeout < 0 {
		return fmt.Errorf("%w: sink limits must not be negative", ErrInvalidConfig)
	}
	if c.Security.RateLimit < 0 || c.Security.RateLimitBurst < 0 {
		return fmt.Errorf("%w: rate limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

// GetTLSConfig returns a TLS configuration for the server
func GetTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
