// Package config provides configuration management for streamforge using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort            = 8080
	defaultServerTimeout         = 30 * time.Second
	defaultShutdownTimeout       = 10 * time.Second
	defaultMaxOpenConns          = 25
	defaultMaxIdleConns          = 10
	defaultConnMaxIdleTime       = 30 * time.Minute
	defaultJobRetentionDays      = 14
	defaultDeadLetterRetention   = 30
	defaultDownloadConcurrency   = 8
	defaultSegmentWindowMs       = 200
	defaultSegmentMaxBatch       = 25
	defaultPlaylistMinInterval   = 1 * time.Second
	defaultPlaylistMaxInterval   = 15 * time.Second
	defaultLiveMaxRefreshRetries = 5
	defaultShutdownActorTimeout  = 10 * time.Second
	defaultRestartBaseDelay      = 500 * time.Millisecond
	defaultRestartMaxDelay       = 1 * time.Minute
	defaultRestartMaxAttempts    = 10
	defaultErrorThreshold        = 5
	defaultOfflineCheckCount     = 2
	defaultBatchWindowMs         = 500
	defaultBatchMaxSize          = 100
	defaultTSPacketBufferKiB     = 64
	defaultNotifyQueueSize       = 1000
	defaultNotifyMaxRetries      = 5
	defaultNotifyBaseDelayMs     = 1000
	defaultNotifyMaxDelayMs      = 60000
	defaultNotifyCircuitThresh   = 5
	defaultNotifyCooldownSecs    = 60
	defaultHTTPClientTimeout     = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Actors        ActorsConfig        `mapstructure:"actors"`
	HLS           HLSConfig           `mapstructure:"hls"`
	TSParser      TSParserConfig      `mapstructure:"ts_parser"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig holds HTTP server configuration for the stub REST surface.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds output/temp storage configuration for recorded and
// processed media.
type StorageConfig struct {
	BaseDir   string `mapstructure:"base_dir"`
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`
	// MaxSegmentCacheSize bounds on-disk segment staging. The playlist
	// engine's recently-seen URI LRU is a fixed capacity of 100 and not
	// affected by this setting.
	MaxSegmentCacheSize ByteSize `mapstructure:"max_segment_cache_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ActorsConfig holds actor runtime (supervisor, streamer, platform actor)
// configuration.
type ActorsConfig struct {
	// BaseCheckInterval is the default StreamerActor tick interval absent a
	// per-platform override; PlatformConfig.BaseCheckIntervalMs wins when set.
	BaseCheckInterval time.Duration `mapstructure:"base_check_interval"`
	// OfflineCheckCount is the default debounce threshold before leaving Live.
	OfflineCheckCount uint32 `mapstructure:"offline_check_count"`
	// ErrorThreshold is the default consecutive-error count before disabling.
	ErrorThreshold uint32 `mapstructure:"error_threshold"`
	// ErrorBackoffBase / ErrorBackoffMax bound the streamer disabled_until backoff.
	ErrorBackoffBase time.Duration `mapstructure:"error_backoff_base"`
	ErrorBackoffMax  time.Duration `mapstructure:"error_backoff_max"`
	// BatchWindow / BatchMaxSize bound PlatformActor batch accumulation.
	BatchWindow  time.Duration `mapstructure:"batch_window"`
	BatchMaxSize int           `mapstructure:"batch_max_size"`
	// Supervisor restart policy.
	RestartBaseDelay  time.Duration `mapstructure:"restart_base_delay"`
	RestartMaxDelay   time.Duration `mapstructure:"restart_max_delay"`
	RestartMaxAttempts int          `mapstructure:"restart_max_attempts"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	InboxSize         int           `mapstructure:"inbox_size"`
}

// HLSConfig holds playlist engine and segment scheduler configuration.
type HLSConfig struct {
	MinRefreshInterval    time.Duration `mapstructure:"min_refresh_interval"`
	MaxRefreshInterval    time.Duration `mapstructure:"max_refresh_interval"`
	LiveMaxRefreshRetries int           `mapstructure:"live_max_refresh_retries"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
	FetchTimeout          time.Duration `mapstructure:"fetch_timeout"`
	DownloadConcurrency   int           `mapstructure:"download_concurrency"`
	SegmentBatchWindow    time.Duration `mapstructure:"segment_batch_window"`
	SegmentMaxBatchSize   int           `mapstructure:"segment_max_batch_size"`
	// SegmentFetchRateLimit caps sustained segment fetches/sec; burst equals
	// DownloadConcurrency. Zero disables limiting.
	SegmentFetchRateLimit float64 `mapstructure:"segment_fetch_rate_limit"`
	RecentSegmentLRUSize  int     `mapstructure:"recent_segment_lru_size"`
	PrefetchBufferSize    int     `mapstructure:"prefetch_buffer_size"`
}

// TSParserConfig holds MPEG-TS parser tuning (continuity mode, PSI buffer
// bounds, SCTE-35 handling).
type TSParserConfig struct {
	ContinuityMode     string `mapstructure:"continuity_mode"` // disabled, warn, strict
	PSIBufferMaxKiB    int    `mapstructure:"psi_buffer_max_kib"`
	ValidateCRC        bool   `mapstructure:"validate_crc"`
	DetectSCTE35       bool   `mapstructure:"detect_scte35"`
}

// NotificationsConfig holds the notification service's dispatch queue and
// circuit breaker defaults (per-channel config can override thresholds).
type NotificationsConfig struct {
	QueueSize             int           `mapstructure:"queue_size"`
	MaxRetries            int           `mapstructure:"max_retries"`
	BaseRetryDelay        time.Duration `mapstructure:"base_retry_delay"`
	MaxRetryDelay         time.Duration `mapstructure:"max_retry_delay"`
	CircuitBreakerThresh  int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerCooldown time.Duration `mapstructure:"circuit_breaker_cooldown"`
}

// RetentionConfig holds the cron-scheduled purge sweep configuration.
type RetentionConfig struct {
	Enabled                 bool   `mapstructure:"enabled"`
	Cron                    string `mapstructure:"cron"`
	JobRetentionDays        int    `mapstructure:"job_retention_days"`
	DeadLetterRetentionDays int    `mapstructure:"dead_letter_retention_days"`
}

// ObservabilityConfig controls the optional Prometheus metrics endpoint
// and OpenTelemetry tracing integration. Metrics are on by default and
// tracing is off; tracing additionally requires OTEL_EXPORTER_OTLP_ENDPOINT
// to be set.
type ObservabilityConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STREAMFORGE_ and use underscores
// for nesting. Example: STREAMFORGE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamforge")
		v.AddConfigPath("$HOME/.streamforge")
	}

	// Environment variable settings
	v.SetEnvPrefix("STREAMFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "streamforge.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.max_segment_cache_size", 512*1024*1024)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Actors defaults
	v.SetDefault("actors.base_check_interval", 30*time.Second)
	v.SetDefault("actors.offline_check_count", defaultOfflineCheckCount)
	v.SetDefault("actors.error_threshold", defaultErrorThreshold)
	v.SetDefault("actors.error_backoff_base", 30*time.Second)
	v.SetDefault("actors.error_backoff_max", time.Hour)
	v.SetDefault("actors.batch_window", defaultBatchWindowMs*time.Millisecond)
	v.SetDefault("actors.batch_max_size", defaultBatchMaxSize)
	v.SetDefault("actors.restart_base_delay", defaultRestartBaseDelay)
	v.SetDefault("actors.restart_max_delay", defaultRestartMaxDelay)
	v.SetDefault("actors.restart_max_attempts", defaultRestartMaxAttempts)
	v.SetDefault("actors.shutdown_timeout", defaultShutdownActorTimeout)
	v.SetDefault("actors.inbox_size", 64)

	// HLS defaults
	v.SetDefault("hls.min_refresh_interval", defaultPlaylistMinInterval)
	v.SetDefault("hls.max_refresh_interval", defaultPlaylistMaxInterval)
	v.SetDefault("hls.live_max_refresh_retries", defaultLiveMaxRefreshRetries)
	v.SetDefault("hls.retry_delay", 1*time.Second)
	v.SetDefault("hls.fetch_timeout", defaultHTTPClientTimeout)
	v.SetDefault("hls.download_concurrency", defaultDownloadConcurrency)
	v.SetDefault("hls.segment_batch_window", defaultSegmentWindowMs*time.Millisecond)
	v.SetDefault("hls.segment_max_batch_size", defaultSegmentMaxBatch)
	v.SetDefault("hls.segment_fetch_rate_limit", 0.0)
	v.SetDefault("hls.recent_segment_lru_size", 100)
	v.SetDefault("hls.prefetch_buffer_size", 3)

	// TS parser defaults
	v.SetDefault("ts_parser.continuity_mode", "warn")
	v.SetDefault("ts_parser.psi_buffer_max_kib", defaultTSPacketBufferKiB)
	v.SetDefault("ts_parser.validate_crc", false)
	v.SetDefault("ts_parser.detect_scte35", true)

	// Notifications defaults
	v.SetDefault("notifications.queue_size", defaultNotifyQueueSize)
	v.SetDefault("notifications.max_retries", defaultNotifyMaxRetries)
	v.SetDefault("notifications.base_retry_delay", defaultNotifyBaseDelayMs*time.Millisecond)
	v.SetDefault("notifications.max_retry_delay", defaultNotifyMaxDelayMs*time.Millisecond)
	v.SetDefault("notifications.circuit_breaker_threshold", defaultNotifyCircuitThresh)
	v.SetDefault("notifications.circuit_breaker_cooldown", defaultNotifyCooldownSecs*time.Second)

	// Retention defaults
	v.SetDefault("retention.enabled", true)
	v.SetDefault("retention.cron", "0 0 3 * * *") // daily at 3 AM (6-field cron)
	v.SetDefault("retention.job_retention_days", defaultJobRetentionDays)
	v.SetDefault("retention.dead_letter_retention_days", defaultDeadLetterRetention)

	// Observability defaults
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.service_name", "streamforge")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// TS parser validation
	validContinuity := map[string]bool{"disabled": true, "warn": true, "strict": true}
	if c.TSParser.ContinuityMode != "" && !validContinuity[c.TSParser.ContinuityMode] {
		return fmt.Errorf("ts_parser.continuity_mode must be one of: disabled, warn, strict")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OutputPath returns the full path to the output directory.
func (c *StorageConfig) OutputPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.OutputDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
