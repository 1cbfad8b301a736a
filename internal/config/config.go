// Package config defines the relay's process configuration. Every value is
// fixed at startup; there is no reload.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
)

// Backend names the external queue implementation.
type Backend string

const (
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
	BackendKafka    Backend = "kafka"
	// BackendMemory is an in-process queue, useful for local runs.
	BackendMemory Backend = "memory"
)

// Config represents the top-level configuration.
type Config struct {
	Queue     QueueConfig     `mapstructure:"queue"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Source    SourceConfig    `mapstructure:"source"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Health    HealthConfig    `mapstructure:"health"`

	// ShutdownTimeout bounds how long buffered items may drain after a signal.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// QueueConfig selects and addresses the external queue.
type QueueConfig struct {
	Backend Backend `mapstructure:"backend" validate:"oneof=redis postgres kafka memory"`
	// Key is the list key (redis) or queue name (postgres).
	Key string `mapstructure:"key" validate:"required"`

	RedisURL     string   `mapstructure:"redis_url" validate:"required_if=Backend redis"`
	PostgresDSN  string   `mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
	KafkaBrokers []string `mapstructure:"kafka_brokers" validate:"required_if=Backend kafka"`
	KafkaTopic   string   `mapstructure:"kafka_topic" validate:"required_if=Backend kafka"`
	KafkaGroupID string   `mapstructure:"kafka_group_id" validate:"required_if=Backend kafka"`

	BatchSize    int           `mapstructure:"batch_size" validate:"min=1"`
	IdleInterval time.Duration `mapstructure:"idle_interval" validate:"gt=0"`
}

// SinkConfig addresses the WebDAV sink.
type SinkConfig struct {
	Endpoint           string `mapstructure:"endpoint" validate:"required,url"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// SourceConfig tunes the source fetch client.
type SourceConfig struct {
	ProxyURL           string        `mapstructure:"proxy_url" validate:"omitempty,url"`
	Timeout            time.Duration `mapstructure:"timeout" validate:"gt=0"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// PoolConfig sizes the worker pool and the admission rate.
type PoolConfig struct {
	Workers int `mapstructure:"workers" validate:"min=1"`
	// RateLimit is transfers started per second; 0 disables limiting.
	RateLimit int `mapstructure:"rate_limit" validate:"min=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name" validate:"required"`
	Endpoint      string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	SamplingRatio float64 `mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	Insecure      bool    `mapstructure:"insecure"`
}

// HealthConfig configures the health and debug listener.
type HealthConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

var (
	validate *validator.Validate
	trans    ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
	if err := entranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		panic(fmt.Sprintf("registering validator translations: %v", err))
	}
}

// Validate checks every field and reports all violations at once. The error
// wraps transfer.ErrConfiguration.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", transfer.ErrConfiguration, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Translate(trans)))
	}
	return fmt.Errorf("%w: %s", transfer.ErrConfiguration, strings.Join(msgs, "; "))
}
