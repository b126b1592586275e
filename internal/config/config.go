package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Index      IndexConfig      `mapstructure:"index"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Generation GenerationConfig `mapstructure:"generation"`
	Log        LogConfig        `mapstructure:"log"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Lock       LockConfig       `mapstructure:"lock"`
	App        AppConfig        `mapstructure:"app"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port                    int           `mapstructure:"port"`
	Host                    string        `mapstructure:"host"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// IndexConfig holds the package-index engine's configuration: where the
// mirrored manifest repository lives on disk, where it's cloned from, and
// the content-addressed blob cache's location (spec §4.1-§4.3).
type IndexConfig struct {
	Dir           string        `mapstructure:"dir"`             // checkout directory for the manifest repo
	RepoURL       string        `mapstructure:"repo_url"`        // git remote the catalog syncs from
	RepoBranch    string        `mapstructure:"repo_branch"`     // branch tracked for sync
	BlobCacheDir  string        `mapstructure:"blob_cache_dir"`  // content-addressed blob cache root
	SyncInterval  time.Duration `mapstructure:"sync_interval"`   // polling interval between catalog syncs
	SyncTimeout   time.Duration `mapstructure:"sync_timeout"`    // per-sync git fetch timeout
}

// QueueConfig holds the durable work-queue's worker-facing configuration:
// per-queue bearer tokens and lease/backoff tuning (spec §4.6).
type QueueConfig struct {
	ValidationToken  string        `mapstructure:"validation_token"`
	GenerationToken  string        `mapstructure:"generation_token"`
	AdminToken       string        `mapstructure:"admin_token"`
	DefaultLease     time.Duration `mapstructure:"default_lease"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	ExpireSweepEvery time.Duration `mapstructure:"expire_sweep_every"`
}

// GenerationConfig holds the generation orchestrator's configuration
// (spec §4.9): where finished room bundles and worker output are written,
// and the distributed lock's tuning.
type GenerationConfig struct {
	OutputDir   string        `mapstructure:"output_dir"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	MaxInFlight int           `mapstructure:"max_in_flight"`
}

// LogConfig holds logging-related configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig holds cache-related configuration
type CacheConfig struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	MaxTTL          time.Duration `mapstructure:"max_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxKeys         int64         `mapstructure:"max_keys"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
}

// LockConfig holds distributed lock configuration
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	ReleaseTimeout time.Duration `mapstructure:"release_timeout"`
	ValuePrefix    string        `mapstructure:"value_prefix"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Name          string        `mapstructure:"name"`
	Version       string        `mapstructure:"version"`
	Environment   string        `mapstructure:"environment"`
	Debug         bool          `mapstructure:"debug"`
	Timezone      string        `mapstructure:"timezone"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
}

// MetricsConfig holds metrics-related configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, continue with defaults and env vars
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables only
func LoadConfigFromEnv() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")

	// Database defaults
	viper.SetDefault("database.driver", "pgx")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "lobby")
	viper.SetDefault("database.username", "dev")
	viper.SetDefault("database.password", "dev")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "30s")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	// Index (package-index engine / world manager) defaults
	viper.SetDefault("index.dir", "/data/apworlds-index")
	viper.SetDefault("index.repo_url", "")
	viper.SetDefault("index.repo_branch", "main")
	viper.SetDefault("index.blob_cache_dir", "/data/apworlds-blobs")
	viper.SetDefault("index.sync_interval", "5m")
	viper.SetDefault("index.sync_timeout", "2m")

	// Queue defaults
	viper.SetDefault("queue.validation_token", "")
	viper.SetDefault("queue.generation_token", "")
	viper.SetDefault("queue.admin_token", "")
	viper.SetDefault("queue.default_lease", "2m")
	viper.SetDefault("queue.max_attempts", 5)
	viper.SetDefault("queue.expire_sweep_every", "30s")

	// Generation defaults
	viper.SetDefault("generation.output_dir", "/data/apworlds-output")
	viper.SetDefault("generation.lock_ttl", "10m")
	viper.SetDefault("generation.max_in_flight", 4)

	// Deployment environment names, accepted alongside the derived
	// SECTION_KEY names (e.g. QUEUE_GENERATION_TOKEN)
	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("index.dir", "APWORLDS_INDEX_DIR")
	_ = viper.BindEnv("index.blob_cache_dir", "APWORLDS_PATH")
	_ = viper.BindEnv("index.repo_url", "APWORLDS_INDEX_REPO_URL")
	_ = viper.BindEnv("index.repo_branch", "APWORLDS_INDEX_REPO_BRANCH")
	_ = viper.BindEnv("queue.validation_token", "YAML_VALIDATION_QUEUE_TOKEN")
	_ = viper.BindEnv("queue.generation_token", "GENERATION_QUEUE_TOKEN")
	_ = viper.BindEnv("queue.admin_token", "ADMIN_TOKEN")
	_ = viper.BindEnv("generation.output_dir", "GENERATION_OUTPUT_DIR")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// Cache defaults
	viper.SetDefault("cache.default_ttl", "1h")
	viper.SetDefault("cache.max_ttl", "24h")
	viper.SetDefault("cache.cleanup_interval", "10m")
	viper.SetDefault("cache.max_keys", 10000)
	viper.SetDefault("cache.enable_metrics", true)

	// Lock defaults
	viper.SetDefault("lock.ttl", "30s")
	viper.SetDefault("lock.max_retries", 3)
	viper.SetDefault("lock.retry_interval", "100ms")
	viper.SetDefault("lock.acquire_timeout", "5s")
	viper.SetDefault("lock.release_timeout", "2s")
	viper.SetDefault("lock.value_prefix", "lock")

	// App defaults
	viper.SetDefault("app.name", "apworlds-lobby")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.timezone", "UTC")
	viper.SetDefault("app.max_workers", 10)
	viper.SetDefault("app.worker_timeout", "5m")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if c.Database.Driver == "" {
		return fmt.Errorf("database driver cannot be empty")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}

	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir cannot be empty")
	}

	if c.Index.BlobCacheDir == "" {
		return fmt.Errorf("index.blob_cache_dir cannot be empty")
	}

	if c.Generation.OutputDir == "" {
		return fmt.Errorf("generation.output_dir cannot be empty")
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	return nil
}

// GetDatabaseURL constructs database URL from configuration
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Driver,
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebug returns true if debug mode is enabled
func (c *Config) IsDebug() bool {
	return c.App.Debug || c.IsDevelopment()
}
