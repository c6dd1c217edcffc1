// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. ELASTIC_LOGGER_ENGINE_MAX_TASKS.
const EnvPrefix = "ELASTIC_LOGGER"

// Source and sink provider names.
const (
	ProviderKafka    = "kafka"
	ProviderPubSub   = "pubsub"
	ProviderMemory   = "memory"
	ProviderElastic  = "elastic"
	ProviderGCS      = "gcs"
	ProviderPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Source  SourceConfig  `mapstructure:"source"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// EngineConfig bounds task concurrency and controls progress reporting.
type EngineConfig struct {
	MaxTasks        int           `mapstructure:"max_tasks"`
	Monitor         bool          `mapstructure:"monitor"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	RelayCapacity   int           `mapstructure:"relay_capacity"`
	CloseTimeout    time.Duration `mapstructure:"close_timeout"`
}

// SourceConfig selects and configures the message stream.
type SourceConfig struct {
	Provider      string        `mapstructure:"provider"`
	BatchSize     int           `mapstructure:"batch_size"`
	IdleInterval  time.Duration `mapstructure:"idle_interval"`
	ErrorInterval time.Duration `mapstructure:"error_interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	Kafka         KafkaConfig   `mapstructure:"kafka"`
	PubSub        PubSubConfig  `mapstructure:"pubsub"`
}

// KafkaConfig names the brokers, topic and consumer group.
type KafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	Topic       string        `mapstructure:"topic"`
	Group       string        `mapstructure:"group"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// PubSubConfig names the subscription pulled from.
type PubSubConfig struct {
	ProjectID    string        `mapstructure:"project_id"`
	Subscription string        `mapstructure:"subscription"`
	Endpoint     string        `mapstructure:"endpoint"`
	PullTimeout  time.Duration `mapstructure:"pull_timeout"`
}

// SinkConfig selects and configures the document store.
type SinkConfig struct {
	Provider string         `mapstructure:"provider"`
	Elastic  ElasticConfig  `mapstructure:"elastic"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// ElasticConfig points at the cluster and index.
type ElasticConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

// GCSConfig sets the bucket and object prefix for trip documents.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps config keys to the bare environment names older
// deployments set.
var legacyEnv = map[string]string{
	"source.kafka.brokers": "KAFKA_HOST",
	"source.kafka.topic":   "KAFKA_CHANNEL",
	"source.kafka.group":   "KAFKA_GROUP",
	"sink.elastic.index":   "ELASTIC_INDEX",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_tasks", 100)
	v.SetDefault("engine.monitor", true)
	v.SetDefault("engine.monitor_interval", 500*time.Millisecond)
	v.SetDefault("engine.relay_capacity", 1000)
	v.SetDefault("engine.close_timeout", 30*time.Second)
	v.SetDefault("source.provider", ProviderKafka)
	v.SetDefault("source.batch_size", 100)
	v.SetDefault("source.idle_interval", 10*time.Millisecond)
	v.SetDefault("source.error_interval", time.Second)
	v.SetDefault("source.poll_interval", 10*time.Millisecond)
	v.SetDefault("source.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("source.kafka.topic", "")
	v.SetDefault("source.kafka.group", "elastic-logger")
	v.SetDefault("source.kafka.poll_timeout", 250*time.Millisecond)
	v.SetDefault("source.pubsub.project_id", "")
	v.SetDefault("source.pubsub.subscription", "")
	v.SetDefault("source.pubsub.endpoint", "")
	v.SetDefault("source.pubsub.pull_timeout", 5*time.Second)
	v.SetDefault("sink.provider", ProviderElastic)
	v.SetDefault("sink.elastic.addresses", []string{"http://localhost:9200"})
	v.SetDefault("sink.elastic.index", "trips")
	v.SetDefault("sink.elastic.username", "")
	v.SetDefault("sink.elastic.password", "")
	v.SetDefault("sink.gcs.bucket", "")
	v.SetDefault("sink.gcs.prefix", "trips")
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.table", "trips")
	v.SetDefault("sink.postgres.max_conns", 0)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits. Source settings
// are checked separately by ValidateSource since admin commands never read
// from a stream.
func (c Config) Validate() error {
	if c.Engine.MaxTasks <= 0 {
		return fmt.Errorf("engine.max_tasks must be > 0")
	}
	if c.Engine.RelayCapacity <= 0 {
		return fmt.Errorf("engine.relay_capacity must be > 0")
	}
	if c.Engine.Monitor && c.Engine.MonitorInterval <= 0 {
		return fmt.Errorf("engine.monitor_interval must be > 0 when monitor is enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when server is enabled")
	}
	switch c.Sink.Provider {
	case ProviderElastic:
		if len(c.Sink.Elastic.Addresses) == 0 {
			return fmt.Errorf("sink.elastic.addresses must be set")
		}
		if c.Sink.Elastic.Index == "" {
			return fmt.Errorf("sink.elastic.index must be set")
		}
	case ProviderGCS:
		if c.Sink.GCS.Bucket == "" {
			return fmt.Errorf("sink.gcs.bucket must be set")
		}
	case ProviderPostgres:
		if c.Sink.Postgres.DSN == "" {
			return fmt.Errorf("sink.postgres.dsn must be set")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("sink.provider %q is not supported", c.Sink.Provider)
	}
	return nil
}

// ValidateSource checks the settings needed to read from the stream.
func (c Config) ValidateSource() error {
	switch c.Source.Provider {
	case ProviderKafka:
		if len(c.Source.Kafka.Brokers) == 0 {
			return fmt.Errorf("source.kafka.brokers must be set")
		}
		if c.Source.Kafka.Topic == "" {
			return fmt.Errorf("source.kafka.topic must be set")
		}
	case ProviderPubSub:
		if c.Source.PubSub.ProjectID == "" || c.Source.PubSub.Subscription == "" {
			return fmt.Errorf("source.pubsub.project_id and source.pubsub.subscription must be set")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("source.provider %q is not supported", c.Source.Provider)
	}
	return nil
}
