package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like environment
// variables or remote configuration services.
type Loader interface {
	// Load retrieves, parses and validates the configuration.
	Load(ctx context.Context) (*Config, error)
}

// EnvPrefix prefixes every environment variable, e.g. RELAY_POOL_WORKERS.
const EnvPrefix = "RELAY"

var _ Loader = (*EnvLoader)(nil)

// EnvLoader reads the configuration from the environment through viper.
// Nested keys map to variables by upper-casing and replacing "." with "_":
// queue.batch_size is RELAY_QUEUE_BATCH_SIZE. Lists are comma separated.
type EnvLoader struct {
	v *viper.Viper
}

// NewEnvLoader creates an EnvLoader with every default registered.
func NewEnvLoader() *EnvLoader {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &EnvLoader{v: v}
}

// Load implements Loader.
func (l *EnvLoader) Load(context.Context) (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", transfer.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers the default of every key on v. Keys unknown to viper
// are not picked up from the environment, so every field needs one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("queue.backend", string(BackendRedis))
	v.SetDefault("queue.key", "spider:target_urls")
	v.SetDefault("queue.redis_url", "redis://127.0.0.1:6379/")
	v.SetDefault("queue.postgres_dsn", "")
	v.SetDefault("queue.kafka_brokers", []string{})
	v.SetDefault("queue.kafka_topic", "spider.target_urls")
	v.SetDefault("queue.kafka_group_id", "fetch-relay")
	v.SetDefault("queue.batch_size", 100)
	v.SetDefault("queue.idle_interval", 50*time.Millisecond)

	v.SetDefault("sink.endpoint", "http://192.168.1.100:5005/remote.php/dav/files/user/")
	v.SetDefault("sink.username", "admin")
	v.SetDefault("sink.password", "password")
	v.SetDefault("sink.insecure_skip_verify", true)

	v.SetDefault("source.proxy_url", "")
	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.insecure_skip_verify", true)

	v.SetDefault("pool.workers", 256)
	v.SetDefault("pool.rate_limit", 1024)

	v.SetDefault("log.level", "info")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "fetch-relay")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sampling_ratio", 1.0)
	v.SetDefault("telemetry.insecure", true)

	v.SetDefault("health.addr", ":8080")

	v.SetDefault("shutdown_timeout", 30*time.Second)
}
