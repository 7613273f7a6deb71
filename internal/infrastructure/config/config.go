package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lukgber-glitch/operate-sub002/internal/domain/migration"
)

// EnvPrefix is the prefix of every environment override (OPERATE_DATABASE_HOST, ...)
const EnvPrefix = "OPERATE"

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	Event     EventConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Migration MigrationConfig
	Xero      PlatformConfig
	Freee     PlatformConfig
	Storage   StorageConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
	// InstanceID identifies this process as a job lease owner
	InstanceID string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	// MigrateOnStart applies the embedded schema before the server accepts requests
	MigrateOnStart  bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds settings for validating API bearer tokens
type JWTConfig struct {
	Secret string
	Issuer string
}

// EventConfig holds in-process event dispatch configuration
type EventConfig struct {
	AsyncDispatch  bool
	QueueSize      int
	IdempotencyTTL time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
	TrustedProxies   []string
	MetricsEnabled   bool
	MetricsPath      string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	LogsEnabled       bool // Export zap logs through the OTLP log bridge
	// Database tracing options
	DBTraceEnabled    bool
	DBLogFullSQL      bool
	DBSlowQueryThresh time.Duration
	// Continuous profiling
	ProfilingEnabled bool
	ProfilingServer  string
}

// MigrationConfig holds engine defaults and outbound call policy
type MigrationConfig struct {
	DefaultBatchSize        int
	DefaultParallelRequests int
	MaxErrors               int
	// Outbound rate window per tenant
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// SharedRateWindow keeps the window in Redis so every instance draws from it
	SharedRateWindow bool
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	// RetryMaxServerDelay is the longest Retry-After that is waited out
	RetryMaxServerDelay time.Duration
	LeaseTTL         time.Duration
	// ReconcilePolicy is applied to in_progress jobs found at startup: pause or fail
	ReconcilePolicy string
	ShutdownTimeout time.Duration
	// CredentialSource selects static (platform config) or redis token lookup
	CredentialSource string
}

// PlatformConfig holds one accounting platform's API settings
type PlatformConfig struct {
	Enabled     bool
	BaseURL     string
	PageSize    int
	Timeout     time.Duration
	UserAgent   string
	AccessToken string // static credential, development only
}

// StorageConfig holds the S3-compatible report archive settings
type StorageConfig struct {
	Enabled           bool
	Endpoint          string
	Region            string
	Bucket            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	UsePathStyle      bool
	PresignExpiration time.Duration
	ReportPrefix      string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with OPERATE_ prefix (e.g., OPERATE_DATABASE_PASSWORD)
// 2. .env in the working directory
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name:       v.GetString("app.name"),
			Env:        v.GetString("app.env"),
			Port:       v.GetString("app.port"),
			InstanceID: v.GetString("app.instance_id"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			MigrateOnStart:  v.GetBool("database.migrate_on_start"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Event: EventConfig{
			AsyncDispatch:  v.GetBool("event.async_dispatch"),
			QueueSize:      v.GetInt("event.queue_size"),
			IdempotencyTTL: v.GetDuration("event.idempotency_ttl"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			RateLimitEnabled: v.GetBool("http.rate_limit_enabled"),
			RateLimitRPS:     v.GetFloat64("http.rate_limit_rps"),
			RateLimitBurst:   v.GetInt("http.rate_limit_burst"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			MetricsEnabled:   v.GetBool("http.metrics_enabled"),
			MetricsPath:      v.GetString("http.metrics_path"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:   v.GetString("telemetry.profiling_server"),
		},
		Migration: MigrationConfig{
			DefaultBatchSize:        v.GetInt("migration.default_batch_size"),
			DefaultParallelRequests: v.GetInt("migration.default_parallel_requests"),
			MaxErrors:               v.GetInt("migration.max_errors"),
			RateLimitRequests:       v.GetInt("migration.rate_limit_requests"),
			RateLimitWindow:         v.GetDuration("migration.rate_limit_window"),
			SharedRateWindow:        v.GetBool("migration.shared_rate_window"),
			MaxRetries:              v.GetInt("migration.max_retries"),
			RetryBaseDelay:          v.GetDuration("migration.retry_base_delay"),
			RetryMaxDelay:           v.GetDuration("migration.retry_max_delay"),
			RetryMaxServerDelay:     v.GetDuration("migration.retry_max_server_delay"),
			LeaseTTL:                v.GetDuration("migration.lease_ttl"),
			ReconcilePolicy:         v.GetString("migration.reconcile_policy"),
			ShutdownTimeout:         v.GetDuration("migration.shutdown_timeout"),
			CredentialSource:        v.GetString("migration.credential_source"),
		},
		Xero:  loadPlatform(v, "xero"),
		Freee: loadPlatform(v, "freee"),
		Storage: StorageConfig{
			Enabled:           v.GetBool("storage.enabled"),
			Endpoint:          v.GetString("storage.endpoint"),
			Region:            v.GetString("storage.region"),
			Bucket:            v.GetString("storage.bucket"),
			AccessKey:         v.GetString("storage.access_key"),
			SecretKey:         v.GetString("storage.secret_key"),
			UseSSL:            v.GetBool("storage.use_ssl"),
			UsePathStyle:      v.GetBool("storage.use_path_style"),
			PresignExpiration: v.GetDuration("storage.presign_expiration"),
			ReportPrefix:      v.GetString("storage.report_prefix"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadPlatform(v *viper.Viper, name string) PlatformConfig {
	return PlatformConfig{
		Enabled:     v.GetBool(name + ".enabled"),
		BaseURL:     v.GetString(name + ".base_url"),
		PageSize:    v.GetInt(name + ".page_size"),
		Timeout:     v.GetDuration(name + ".timeout"),
		UserAgent:   v.GetString(name + ".user_agent"),
		AccessToken: v.GetString(name + ".access_token"),
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "operate-migrations"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "operate"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 1
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "operate"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.Event.QueueSize == 0 {
		cfg.Event.QueueSize = 1024
	}
	if cfg.Event.IdempotencyTTL == 0 {
		cfg.Event.IdempotencyTTL = 7 * 24 * time.Hour
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 120 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.HTTP.RateLimitRPS == 0 {
		cfg.HTTP.RateLimitRPS = 10
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 20
	}
	if cfg.HTTP.MetricsPath == "" {
		cfg.HTTP.MetricsPath = "/metrics"
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 15 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.ProfilingServer == "" {
		cfg.Telemetry.ProfilingServer = "http://localhost:4040"
	}

	m := &cfg.Migration
	if m.DefaultBatchSize == 0 {
		m.DefaultBatchSize = 100
	}
	if m.DefaultParallelRequests == 0 {
		m.DefaultParallelRequests = 1
	}
	if m.MaxErrors == 0 {
		m.MaxErrors = 1000
	}
	if m.RateLimitRequests == 0 {
		m.RateLimitRequests = 60
	}
	if m.RateLimitWindow == 0 {
		m.RateLimitWindow = time.Minute
	}
	if m.MaxRetries == 0 {
		m.MaxRetries = 3
	}
	if m.RetryBaseDelay == 0 {
		m.RetryBaseDelay = time.Second
	}
	if m.RetryMaxDelay == 0 {
		m.RetryMaxDelay = time.Minute
	}
	if m.RetryMaxServerDelay == 0 {
		m.RetryMaxServerDelay = 10 * time.Minute
	}
	if m.LeaseTTL == 0 {
		m.LeaseTTL = 30 * time.Second
	}
	if m.ReconcilePolicy == "" {
		m.ReconcilePolicy = "pause"
	}
	if m.ShutdownTimeout == 0 {
		m.ShutdownTimeout = 30 * time.Second
	}
	if m.CredentialSource == "" {
		m.CredentialSource = "static"
	}

	platformDefaults(&cfg.Xero, "https://api.xero.com/api.xro/2.0", 100)
	platformDefaults(&cfg.Freee, "https://api.freee.co.jp/api/1", 100)

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.PresignExpiration == 0 {
		cfg.Storage.PresignExpiration = 15 * time.Minute
	}
	if cfg.Storage.ReportPrefix == "" {
		cfg.Storage.ReportPrefix = "migration-reports"
	}
}

func platformDefaults(p *PlatformConfig, baseURL string, pageSize int) {
	if p.BaseURL == "" {
		p.BaseURL = baseURL
	}
	if p.PageSize == 0 {
		p.PageSize = pageSize
	}
	if p.Timeout == 0 {
		p.Timeout = 30 * time.Second
	}
	if p.UserAgent == "" {
		p.UserAgent = "operate-migrations/1.0"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	m := c.Migration
	if m.DefaultBatchSize < 1 || m.DefaultBatchSize > migration.MaxBatchSize {
		return fmt.Errorf("migration.default_batch_size must be between 1 and %d, got %d",
			migration.MaxBatchSize, m.DefaultBatchSize)
	}
	if m.DefaultParallelRequests < 1 || m.DefaultParallelRequests > migration.MaxParallelRequests {
		return fmt.Errorf("migration.default_parallel_requests must be between 1 and %d, got %d",
			migration.MaxParallelRequests, m.DefaultParallelRequests)
	}
	if m.LeaseTTL < migration.MinLeaseTTL {
		return fmt.Errorf("migration.lease_ttl must be at least %s, got %s", migration.MinLeaseTTL, m.LeaseTTL)
	}
	if m.RetryMaxServerDelay < m.RetryMaxDelay {
		return fmt.Errorf("migration.retry_max_server_delay (%s) cannot be shorter than migration.retry_max_delay (%s)",
			m.RetryMaxServerDelay, m.RetryMaxDelay)
	}
	if m.RetryMaxDelay < m.RetryBaseDelay {
		return fmt.Errorf("migration.retry_max_delay (%s) cannot be shorter than migration.retry_base_delay (%s)",
			m.RetryMaxDelay, m.RetryBaseDelay)
	}
	if m.ReconcilePolicy != "pause" && m.ReconcilePolicy != "fail" {
		return fmt.Errorf("migration.reconcile_policy must be pause or fail, got %q", m.ReconcilePolicy)
	}
	if m.CredentialSource != "static" && m.CredentialSource != "redis" {
		return fmt.Errorf("migration.credential_source must be static or redis, got %q", m.CredentialSource)
	}
	if m.CredentialSource == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("migration.credential_source=redis requires redis.enabled")
	}
	if m.SharedRateWindow && !c.Redis.Enabled {
		return fmt.Errorf("migration.shared_rate_window requires redis.enabled")
	}

	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.App.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if m.CredentialSource == "static" {
			return fmt.Errorf("migration.credential_source cannot be static in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
