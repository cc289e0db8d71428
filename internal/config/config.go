// Package config provides configuration management for the research feed
// ingestion service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "FEEDINGEST"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Source store backends.
const (
	SourceStorePostgres = "postgres"
	SourceStoreYAML     = "yaml"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	// Server contains the health/metrics listener settings used in daemon mode.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Pipeline contains run orchestration settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Feeds contains feed fetching settings.
	Feeds FeedsConfig `mapstructure:"feeds"`
	// Enrichment contains bibliographic and open-access lookup settings.
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	// Cache contains the enrichment cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Kafka contains change event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Sources selects where source configuration records are read from.
	Sources SourcesConfig `mapstructure:"sources"`
}

// ServerConfig holds the health/metrics HTTP listener configuration.
type ServerConfig struct {
	// Host is the address to bind to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// Port is the listener port (default: 9091).
	Port int `mapstructure:"port"`
	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files. Empty uses the embedded migrations.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun applies pending migrations before each run.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// PipelineConfig holds run orchestration settings.
type PipelineConfig struct {
	// Workers bounds the number of sources processed concurrently.
	Workers int `mapstructure:"workers"`
	// RunTimeout stops scheduling new sources and entries once elapsed. Zero disables it.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	// Interval repeats the run on a ticker in daemon mode. Zero runs once.
	Interval time.Duration `mapstructure:"interval"`
	// Kinds restricts the run to article and/or trial sources.
	Kinds []string `mapstructure:"kinds"`
	// UpsertAttempts bounds re-resolution after a uniqueness conflict.
	UpsertAttempts int `mapstructure:"upsert_attempts"`
}

// FeedsConfig holds feed fetcher settings.
type FeedsConfig struct {
	// Timeout bounds a single feed download.
	Timeout time.Duration `mapstructure:"timeout"`
	// UserAgent is sent with every feed request.
	UserAgent string `mapstructure:"user_agent"`
	// MaxBodyBytes caps the size of a feed document.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	// RateLimit is the per-host request rate in requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// EnrichmentConfig holds bibliographic and open-access lookup settings.
type EnrichmentConfig struct {
	// Enabled turns DOI enrichment on.
	Enabled bool `mapstructure:"enabled"`
	// ContactEmail identifies the caller to Crossref and is required by Unpaywall.
	ContactEmail string `mapstructure:"contact_email"`
	// AppName identifies the caller in the User-Agent header.
	AppName string `mapstructure:"app_name"`
	// CrossrefBaseURL is the Crossref REST API base URL.
	CrossrefBaseURL string `mapstructure:"crossref_base_url"`
	// CrossrefPlusToken is the optional Crossref Metadata Plus token (env only).
	CrossrefPlusToken string `mapstructure:"-"`
	// UnpaywallBaseURL is the Unpaywall API base URL.
	UnpaywallBaseURL string `mapstructure:"unpaywall_base_url"`
	// CallTimeout bounds every individual enrichment request.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// RateLimit is the request rate per service in requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Retry is the retry-with-backoff policy for transient failures.
	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig holds a retry-with-backoff policy.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration `mapstructure:"base_delay"`
	// BackoffMultiplier scales the delay after every attempt.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	// MaxDelay caps a single delay.
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// CacheConfig holds the Redis enrichment cache settings.
type CacheConfig struct {
	// Enabled turns the cache on.
	Enabled bool `mapstructure:"enabled"`
	// Address is the Redis host:port.
	Address string `mapstructure:"address"`
	// Password is the Redis password (env only).
	Password string `mapstructure:"-"`
	// DB is the Redis logical database.
	DB int `mapstructure:"db"`
	// TTL is how long an enrichment result is kept.
	TTL time.Duration `mapstructure:"ttl"`
	// KeyPrefix namespaces cache keys.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig holds change event publisher settings.
type KafkaConfig struct {
	// Enabled turns event publishing on.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic receives article and trial change events.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages per batch.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time before a partial batch is flushed.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// SourcesConfig selects the source configuration store.
type SourcesConfig struct {
	// Store is either "postgres" or "yaml".
	Store string `mapstructure:"store"`
	// File is the YAML file read when Store is "yaml".
	File string `mapstructure:"file"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// Address returns the host:port the health/metrics listener binds to.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from defaults, an optional config.yaml and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/research-feed-service")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets reads values that must never come from a config file.
func loadSecrets(cfg *Config) {
	cfg.Enrichment.CrossrefPlusToken = os.Getenv(EnvPrefix + "_ENRICHMENT_CROSSREF_PLUS_TOKEN")
	cfg.Cache.Password = os.Getenv(EnvPrefix + "_CACHE_PASSWORD")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9091)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "feedingest")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "research_feeds")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "feedingest")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.run_timeout", "0s")
	v.SetDefault("pipeline.interval", "0s")
	v.SetDefault("pipeline.kinds", []string{"article", "trial"})
	v.SetDefault("pipeline.upsert_attempts", 3)

	v.SetDefault("feeds.timeout", "30s")
	v.SetDefault("feeds.user_agent", "research-feed-service/1.0")
	v.SetDefault("feeds.max_body_bytes", 20<<20)
	v.SetDefault("feeds.rate_limit", 2.0)

	v.SetDefault("enrichment.enabled", true)
	v.SetDefault("enrichment.contact_email", "")
	v.SetDefault("enrichment.app_name", "research-feed-service")
	v.SetDefault("enrichment.crossref_base_url", "https://api.crossref.org")
	v.SetDefault("enrichment.unpaywall_base_url", "https://api.unpaywall.org")
	v.SetDefault("enrichment.call_timeout", "15s")
	v.SetDefault("enrichment.rate_limit", 10.0)
	v.SetDefault("enrichment.retry.max_attempts", 3)
	v.SetDefault("enrichment.retry.base_delay", "1s")
	v.SetDefault("enrichment.retry.backoff_multiplier", 2.0)
	v.SetDefault("enrichment.retry.max_delay", "30s")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "168h")
	v.SetDefault("cache.key_prefix", "feedingest:enrichment:")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.research_feed_service")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	v.SetDefault("sources.store", SourceStorePostgres)
	v.SetDefault("sources.file", "sources.yaml")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}
	if c.Pipeline.RunTimeout < 0 || c.Pipeline.Interval < 0 {
		return fmt.Errorf("pipeline run_timeout and interval must not be negative")
	}
	if c.Pipeline.UpsertAttempts <= 0 {
		return fmt.Errorf("pipeline upsert_attempts must be positive")
	}
	if len(c.Pipeline.Kinds) == 0 {
		return fmt.Errorf("pipeline kinds must not be empty")
	}
	for _, k := range c.Pipeline.Kinds {
		if k != "article" && k != "trial" {
			return fmt.Errorf("invalid pipeline kind: %q", k)
		}
	}

	if c.Feeds.Timeout <= 0 {
		return fmt.Errorf("feeds timeout must be positive")
	}
	if c.Feeds.MaxBodyBytes <= 0 {
		return fmt.Errorf("feeds max_body_bytes must be positive")
	}

	if c.Enrichment.Enabled {
		if c.Enrichment.ContactEmail == "" {
			return fmt.Errorf("enrichment contact_email is required when enrichment is enabled (set %s_ENRICHMENT_CONTACT_EMAIL)", EnvPrefix)
		}
		if c.Enrichment.CallTimeout <= 0 {
			return fmt.Errorf("enrichment call_timeout must be positive")
		}
		if c.Enrichment.Retry.MaxAttempts <= 0 {
			return fmt.Errorf("enrichment retry max_attempts must be positive")
		}
		if c.Enrichment.Retry.BackoffMultiplier < 1 {
			return fmt.Errorf("enrichment retry backoff_multiplier must be >= 1")
		}
	}

	if c.Cache.Enabled && c.Cache.Address == "" {
		return fmt.Errorf("cache address is required when the cache is enabled")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	switch c.Sources.Store {
	case SourceStorePostgres:
	case SourceStoreYAML:
		if c.Sources.File == "" {
			return fmt.Errorf("sources file is required for the yaml store")
		}
	default:
		return fmt.Errorf("invalid sources store: %q", c.Sources.Store)
	}

	return nil
}
