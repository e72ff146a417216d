// Package config loads scancache settings from defaults, an optional config
// file and SCANCACHE_* environment variables, in increasing precedence.
package config

import (
	"time"
)

// Source kinds.
const (
	SourceHTTP     = "http"
	SourceDynamoDB = "dynamodb"
	SourcePostgres = "postgres"
)

// Config is the complete process configuration.
type Config struct {
	Server    ServerConfig `mapstructure:"server"`
	Log       LogConfig    `mapstructure:"log"`
	Redis     RedisConfig  `mapstructure:"redis"`
	Cache     CacheConfig  `mapstructure:"cache"`
	Lock      LockConfig   `mapstructure:"lock"`
	Scan      ScanConfig   `mapstructure:"scan"`
	Page      PageConfig   `mapstructure:"page"`
	Source    SourceConfig `mapstructure:"source"`
	Warm      WarmConfig   `mapstructure:"warm"`
	Resources []string     `mapstructure:"resources"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// RedisConfig configures the cache store connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// CacheConfig holds cache entry lifetimes.
type CacheConfig struct {
	// TTL applies to full and partial results
	TTL time.Duration `mapstructure:"ttl"`

	ChunkTTL time.Duration `mapstructure:"chunk_ttl"`

	// CheckpointTTL bounds how long an abandoned scan can be resumed
	CheckpointTTL time.Duration `mapstructure:"checkpoint_ttl"`
}

// LockConfig holds scan lock settings.
type LockConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// ScanConfig holds full-scan settings.
type ScanConfig struct {
	// PageSize bounds each backing-store call
	PageSize int `mapstructure:"page_size"`

	// PartialThreshold is the number of new items between partial writes
	PartialThreshold int `mapstructure:"partial_threshold"`

	PageDelay         time.Duration `mapstructure:"page_delay"`
	ScanOnMiss        bool          `mapstructure:"scan_on_miss"`
	BackgroundTimeout time.Duration `mapstructure:"background_timeout"`
}

// PageConfig bounds client page sizes.
type PageConfig struct {
	DefaultSize int `mapstructure:"default_size"`
	MaxSize     int `mapstructure:"max_size"`
}

// SourceConfig selects and configures the backing store.
type SourceConfig struct {
	Kind     string         `mapstructure:"kind"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// HTTPConfig configures the REST API source.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`

	// Upstream names the quota shared by all processes using this API
	Upstream string `mapstructure:"upstream"`
}

// DynamoDBConfig configures the DynamoDB source.
type DynamoDBConfig struct {
	Region          string            `mapstructure:"region"`
	Endpoint        string            `mapstructure:"endpoint"`
	AccessKeyID     string            `mapstructure:"access_key_id"`
	SecretAccessKey string            `mapstructure:"secret_access_key"`
	TablePrefix     string            `mapstructure:"table_prefix"`
	Tables          map[string]string `mapstructure:"tables"`
	ConsistentRead  bool              `mapstructure:"consistent_read"`
}

// PostgresConfig configures the Postgres source.
type PostgresConfig struct {
	URL          string            `mapstructure:"url"`
	KeyColumn    string            `mapstructure:"key_column"`
	Tables       map[string]string `mapstructure:"tables"`
	MaxOpenConns int               `mapstructure:"max_open_conns"`
	MaxIdleConns int               `mapstructure:"max_idle_conns"`
}

// WarmConfig configures the warm-up job.
type WarmConfig struct {
	Schedule    string        `mapstructure:"schedule"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "scancache",
		},
		Cache: CacheConfig{
			TTL:           time.Hour,
			ChunkTTL:      5 * time.Minute,
			CheckpointTTL: 24 * time.Hour,
		},
		Lock: LockConfig{
			TTL:        5 * time.Minute,
			MaxRetries: 2,
			RetryDelay: 200 * time.Millisecond,
		},
		Scan: ScanConfig{
			PageSize:          1000,
			PartialThreshold:  500,
			PageDelay:         100 * time.Millisecond,
			ScanOnMiss:        true,
			BackgroundTimeout: 30 * time.Minute,
		},
		Page: PageConfig{
			DefaultSize: 25,
			MaxSize:     500,
		},
		Source: SourceConfig{
			Kind: SourceHTTP,
			HTTP: HTTPConfig{
				UserAgent: "scancache/1.0",
				Timeout:   30 * time.Second,
				Upstream:  "default",
			},
			Postgres: PostgresConfig{
				KeyColumn:    "id",
				MaxOpenConns: 10,
				MaxIdleConns: 2,
			},
		},
		Warm: WarmConfig{
			Concurrency: 4,
			Timeout:     30 * time.Minute,
		},
	}
}
