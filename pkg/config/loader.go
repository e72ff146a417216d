package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SCANCACHE_REDIS_ADDR.
const EnvPrefix = "SCANCACHE"

// Load reads configuration with precedence ENV > file > defaults. configFile
// may be empty.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("resources", EnvPrefix+"_RESOURCES")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// Trim list entries and drop empty ones.
	cfg.Resources = splitList(cfg.Resources)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.pretty", cfg.Log.Pretty)

	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.prefix", cfg.Redis.Prefix)

	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.chunk_ttl", cfg.Cache.ChunkTTL)
	v.SetDefault("cache.checkpoint_ttl", cfg.Cache.CheckpointTTL)

	v.SetDefault("lock.ttl", cfg.Lock.TTL)
	v.SetDefault("lock.max_retries", cfg.Lock.MaxRetries)
	v.SetDefault("lock.retry_delay", cfg.Lock.RetryDelay)

	v.SetDefault("scan.page_size", cfg.Scan.PageSize)
	v.SetDefault("scan.partial_threshold", cfg.Scan.PartialThreshold)
	v.SetDefault("scan.page_delay", cfg.Scan.PageDelay)
	v.SetDefault("scan.scan_on_miss", cfg.Scan.ScanOnMiss)
	v.SetDefault("scan.background_timeout", cfg.Scan.BackgroundTimeout)

	v.SetDefault("page.default_size", cfg.Page.DefaultSize)
	v.SetDefault("page.max_size", cfg.Page.MaxSize)

	v.SetDefault("source.kind", cfg.Source.Kind)
	v.SetDefault("source.http.base_url", cfg.Source.HTTP.BaseURL)
	v.SetDefault("source.http.token", cfg.Source.HTTP.Token)
	v.SetDefault("source.http.user_agent", cfg.Source.HTTP.UserAgent)
	v.SetDefault("source.http.timeout", cfg.Source.HTTP.Timeout)
	v.SetDefault("source.http.upstream", cfg.Source.HTTP.Upstream)
	v.SetDefault("source.dynamodb.region", cfg.Source.DynamoDB.Region)
	v.SetDefault("source.dynamodb.endpoint", cfg.Source.DynamoDB.Endpoint)
	v.SetDefault("source.dynamodb.access_key_id", cfg.Source.DynamoDB.AccessKeyID)
	v.SetDefault("source.dynamodb.secret_access_key", cfg.Source.DynamoDB.SecretAccessKey)
	v.SetDefault("source.dynamodb.table_prefix", cfg.Source.DynamoDB.TablePrefix)
	v.SetDefault("source.dynamodb.consistent_read", cfg.Source.DynamoDB.ConsistentRead)
	v.SetDefault("source.postgres.url", cfg.Source.Postgres.URL)
	v.SetDefault("source.postgres.key_column", cfg.Source.Postgres.KeyColumn)
	v.SetDefault("source.postgres.max_open_conns", cfg.Source.Postgres.MaxOpenConns)
	v.SetDefault("source.postgres.max_idle_conns", cfg.Source.Postgres.MaxIdleConns)

	v.SetDefault("warm.schedule", cfg.Warm.Schedule)
	v.SetDefault("warm.concurrency", cfg.Warm.Concurrency)
	v.SetDefault("warm.timeout", cfg.Warm.Timeout)

	v.SetDefault("resources", []string{})
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
