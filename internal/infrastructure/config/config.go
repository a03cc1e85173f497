package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Log         LogConfig
	Event       EventConfig
	HTTP        HTTPConfig
	Engine      EngineConfig
	Grant       GrantConfig
	Storage     StorageConfig
	Telemetry   TelemetryConfig
	Maintenance MaintenanceConfig
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
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string // sqlite file, ":memory:" for an in-process database
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	// OpTimeout bounds reads and writes; risk counters sit on the evaluation path
	OpTimeout   time.Duration
	DialTimeout time.Duration
}

// JWTConfig holds settings for validating operator tokens
type JWTConfig struct {
	Enabled bool
	Secret  string
	Issuer  string
}

// EventConfig tunes outbox delivery
type EventConfig struct {
	ProcessorEnabled bool
	BatchSize        int
	PollInterval     time.Duration
	// MaxAttempts parks an entry after this many failed deliveries
	MaxAttempts  int
	RetryBase    time.Duration
	RetryMax     time.Duration
	PurgeEnabled bool
	// PurgeAfter is how long delivered entries are kept
	PurgeAfter time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSAllowOrigins  []string
	CORSAllowMethods  []string
	CORSAllowHeaders  []string
	TrustedProxies    []string
}

// EngineConfig tunes the evaluation engine
type EngineConfig struct {
	// DowngradeMultiplier scales awards when a downgrade risk rule fires
	DowngradeMultiplier float64
	// Timezone is the IANA zone that defines calendar days, weekdays and daily budgets
	Timezone string
	// RiskCounterTTL bounds how long per-day risk buckets are kept
	RiskCounterTTL  time.Duration
	BalanceCacheTTL time.Duration
}

// GrantConfig tunes the grant task processor
type GrantConfig struct {
	BatchSize      int
	MaxConcurrent  int
	ResumeOnStart  bool
	ResumeLookback int // number of unfinished tasks picked up at start
}

// MaintenanceConfig schedules the nightly housekeeping jobs
type MaintenanceConfig struct {
	Enabled bool
	// Hour and Minute are wall-clock time in the engine timezone
	Hour          int
	Minute        int
	CheckInterval time.Duration
	// CounterRetention is how long day-scoped budget counters outlive their day
	CounterRetention time.Duration
	RetryAttempts    int
	RetryDelay       time.Duration
}

// StorageConfig holds the S3-compatible bucket used for ledger export archives
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
	PresignTTL      time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	// LogsEnabled also ships zap records to the collector through the otelzap bridge
	LogsEnabled bool
	// Continuous profiling (Pyroscope)
	ProfilingEnabled       bool
	ProfilingServerAddress string
	ProfilingBasicAuthUser string
	ProfilingBasicAuthPass string
	ProfilingMutex         bool // also collect mutex and block profiles
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with POINTS_ prefix (e.g., POINTS_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("POINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetDefault("event.processor_enabled", true)
	v.SetDefault("event.purge_enabled", true)
	v.SetDefault("grant.resume_on_start", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			PoolSize:    v.GetInt("redis.pool_size"),
			OpTimeout:   v.GetDuration("redis.op_timeout"),
			DialTimeout: v.GetDuration("redis.dial_timeout"),
		},
		JWT: JWTConfig{
			Enabled: v.GetBool("jwt.enabled"),
			Secret:  v.GetString("jwt.secret"),
			Issuer:  v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Event: EventConfig{
			ProcessorEnabled: v.GetBool("event.processor_enabled"),
			BatchSize:        v.GetInt("event.batch_size"),
			PollInterval:     v.GetDuration("event.poll_interval"),
			MaxAttempts:      v.GetInt("event.max_attempts"),
			RetryBase:        v.GetDuration("event.retry_base"),
			RetryMax:         v.GetDuration("event.retry_max"),
			PurgeEnabled:     v.GetBool("event.purge_enabled"),
			PurgeAfter:       v.GetDuration("event.purge_after"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods:  v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders:  v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
		},
		Engine: EngineConfig{
			DowngradeMultiplier: v.GetFloat64("engine.downgrade_multiplier"),
			Timezone:            v.GetString("engine.timezone"),
			RiskCounterTTL:      v.GetDuration("engine.risk_counter_ttl"),
			BalanceCacheTTL:     v.GetDuration("engine.balance_cache_ttl"),
		},
		Grant: GrantConfig{
			BatchSize:      v.GetInt("grant.batch_size"),
			MaxConcurrent:  v.GetInt("grant.max_concurrent"),
			ResumeOnStart:  v.GetBool("grant.resume_on_start"),
			ResumeLookback: v.GetInt("grant.resume_lookback"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
			PresignTTL:      v.GetDuration("storage.presign_ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),

			ProfilingEnabled:       v.GetBool("telemetry.profiling_enabled"),
			ProfilingServerAddress: v.GetString("telemetry.profiling_server_address"),
			ProfilingBasicAuthUser: v.GetString("telemetry.profiling_basic_auth_user"),
			ProfilingBasicAuthPass: v.GetString("telemetry.profiling_basic_auth_password"),
			ProfilingMutex:         v.GetBool("telemetry.profiling_mutex"),
		},
		Maintenance: MaintenanceConfig{
			Enabled:          v.GetBool("maintenance.enabled"),
			Hour:             v.GetInt("maintenance.hour"),
			Minute:           v.GetInt("maintenance.minute"),
			CheckInterval:    v.GetDuration("maintenance.check_interval"),
			CounterRetention: v.GetDuration("maintenance.counter_retention"),
			RetryAttempts:    v.GetInt("maintenance.retry_attempts"),
			RetryDelay:       v.GetDuration("maintenance.retry_delay"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "points-engine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
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
		cfg.Database.DBName = "points"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "points.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.OpTimeout == 0 {
		cfg.Redis.OpTimeout = 200 * time.Millisecond
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 2 * time.Second
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "points-engine"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Event.BatchSize == 0 {
		cfg.Event.BatchSize = 100
	}
	if cfg.Event.PollInterval == 0 {
		cfg.Event.PollInterval = 5 * time.Second
	}
	if cfg.Event.MaxAttempts == 0 {
		cfg.Event.MaxAttempts = 5
	}
	if cfg.Event.RetryBase == 0 {
		cfg.Event.RetryBase = time.Second
	}
	if cfg.Event.RetryMax == 0 {
		cfg.Event.RetryMax = 5 * time.Minute
	}
	if cfg.Event.PurgeAfter == 0 {
		cfg.Event.PurgeAfter = 168 * time.Hour
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 60 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 10 << 20 // 10MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 600
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	// An empty origin list means no cross-origin requests until configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.Engine.DowngradeMultiplier == 0 {
		cfg.Engine.DowngradeMultiplier = 0.5
	}
	if cfg.Engine.Timezone == "" {
		cfg.Engine.Timezone = "Local"
	}
	if cfg.Engine.RiskCounterTTL == 0 {
		cfg.Engine.RiskCounterTTL = 48 * time.Hour
	}
	if cfg.Engine.BalanceCacheTTL == 0 {
		cfg.Engine.BalanceCacheTTL = 10 * time.Minute
	}
	if cfg.Grant.BatchSize == 0 {
		cfg.Grant.BatchSize = 200
	}
	if cfg.Grant.MaxConcurrent == 0 {
		cfg.Grant.MaxConcurrent = 2
	}
	if cfg.Grant.ResumeLookback == 0 {
		cfg.Grant.ResumeLookback = 20
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "ledger-exports/"
	}
	if cfg.Storage.PresignTTL == 0 {
		cfg.Storage.PresignTTL = 15 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "points-engine"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Maintenance.CheckInterval == 0 {
		cfg.Maintenance.CheckInterval = time.Minute
	}
	if cfg.Maintenance.CounterRetention == 0 {
		cfg.Maintenance.CounterRetention = 7 * 24 * time.Hour
	}
	if cfg.Maintenance.RetryAttempts == 0 {
		cfg.Maintenance.RetryAttempts = 3
	}
	if cfg.Maintenance.RetryDelay == 0 {
		cfg.Maintenance.RetryDelay = 5 * time.Minute
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
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

	if c.Engine.DowngradeMultiplier <= 0 || c.Engine.DowngradeMultiplier > 1 {
		return fmt.Errorf("engine.downgrade_multiplier must be within (0, 1], got %v", c.Engine.DowngradeMultiplier)
	}
	if _, err := c.Engine.Location(); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}
	if c.Grant.BatchSize < 1 || c.Grant.BatchSize > 5000 {
		return fmt.Errorf("grant.batch_size must be between 1 and 5000, got %d", c.Grant.BatchSize)
	}
	if c.Grant.MaxConcurrent < 1 {
		return fmt.Errorf("grant.max_concurrent must be positive")
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}
	if c.Maintenance.Hour < 0 || c.Maintenance.Hour > 23 || c.Maintenance.Minute < 0 || c.Maintenance.Minute > 59 {
		return fmt.Errorf("maintenance time %02d:%02d is not a valid wall-clock time", c.Maintenance.Hour, c.Maintenance.Minute)
	}
	// day counters of yesterday may still be read until the day turns over everywhere
	if c.Maintenance.CounterRetention < 48*time.Hour {
		return fmt.Errorf("maintenance.counter_retention must be at least 48h, got %s", c.Maintenance.CounterRetention)
	}
	if c.JWT.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required when jwt is enabled")
	}

	if c.App.Env == "production" {
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("database.driver must be postgres in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if !c.JWT.Enabled {
			return fmt.Errorf("jwt must be enabled in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production")
		}
	}

	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingServerAddress == "" {
		return fmt.Errorf("telemetry.profiling_server_address is required when profiling is enabled")
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// Location resolves the engine timezone
func (e *EngineConfig) Location() (*time.Location, error) {
	if e.Timezone == "" || strings.EqualFold(e.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(e.Timezone)
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		if d.Path == ":memory:" {
			return "file::memory:?cache=shared&_busy_timeout=5000"
		}
		return "file:" + d.Path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
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

// Addr returns host:port for the Redis client
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
