package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	GraphBackendMemory = "memory"
	GraphBackendNeo4j  = "neo4j"
)

type Config struct {
	AppName                       string `mapstructure:"app_name" validate:"required"`
	Port                          int    `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel                      string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool   `mapstructure:"pretty_logs"`
	HttpServerWriteTimeoutSeconds int    `mapstructure:"http_server_write_timeout_seconds"`
	HttpServerReadTimeoutSeconds  int    `mapstructure:"http_server_read_timeout_seconds"`
	HttpServerIdleTimeoutSeconds  int    `mapstructure:"http_server_idle_timeout_seconds"`
	StartupMaxAttempts            int    `mapstructure:"startup_max_attempts" validate:"min=1"`

	// Relational store
	DatabaseDriver   string `mapstructure:"db_driver" validate:"oneof=sqlite postgres"`
	DatabasePath     string `mapstructure:"db_path" validate:"required_if=DatabaseDriver sqlite"`
	DatabaseHost     string `mapstructure:"db_host" validate:"required_if=DatabaseDriver postgres"`
	DatabasePort     int    `mapstructure:"db_port"`
	DatabaseUser     string `mapstructure:"db_user"`
	DatabasePassword string `mapstructure:"db_password"`
	DatabaseName     string `mapstructure:"db_name"`
	DatabaseSSLMode  string `mapstructure:"db_sslmode"`
	DatabaseMaxConns int    `mapstructure:"db_max_conns"`

	// Graph
	GraphBackend  string `mapstructure:"graph_backend" validate:"oneof=memory neo4j"`
	GraphFile     string `mapstructure:"graph_file"`
	Neo4jHost     string `mapstructure:"neo4j_host"`
	Neo4jPort     int    `mapstructure:"neo4j_port"`
	Neo4jUser     string `mapstructure:"neo4j_user"`
	Neo4jPassword string `mapstructure:"neo4j_password"`

	// Linking
	BiosphereDatabase string `mapstructure:"biosphere_database" validate:"required"`
	BiosphereVersion  string `mapstructure:"biosphere_version" validate:"omitempty,oneof=3.8 3.9"`

	// Kafka producer
	KafkaEnabled        bool   `mapstructure:"kafka_enabled"`
	KafkaBrokers        string `mapstructure:"kafka_brokers" validate:"required_if=KafkaEnabled true"`
	KafkaTopic          string `mapstructure:"kafka_topic"`
	KafkaBatchSize      int    `mapstructure:"kafka_batch_size"`
	KafkaBatchTimeoutMs int    `mapstructure:"kafka_batch_timeout_ms"`
	KafkaRequiredAcks   int    `mapstructure:"kafka_required_acks"`
	KafkaCompression    string `mapstructure:"kafka_compression" validate:"oneof=snappy gzip lz4 zstd none"`

	// Redis import lock
	RedisEnabled         bool   `mapstructure:"redis_enabled"`
	RedisHost            string `mapstructure:"redis_host"`
	RedisPort            int    `mapstructure:"redis_port"`
	RedisPassword        string `mapstructure:"redis_password"`
	RedisDB              int    `mapstructure:"redis_db"`
	ImportLockTTLSeconds int    `mapstructure:"import_lock_ttl_seconds" validate:"min=1"`

	// Tracing
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPProtocol string `mapstructure:"otlp_protocol" validate:"oneof=grpc http"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

var defaults = map[string]any{
	"app_name":                          "fern",
	"port":                              3004,
	"log_level":                         "info",
	"pretty_logs":                       false,
	"http_server_write_timeout_seconds": 60,
	"http_server_read_timeout_seconds":  10,
	"http_server_idle_timeout_seconds":  10,
	"startup_max_attempts":              5,

	"db_driver":    database.DriverSQLite,
	"db_path":      "fern.db",
	"db_host":      "",
	"db_port":      5432,
	"db_user":      "",
	"db_password":  "",
	"db_name":      "fern",
	"db_sslmode":   "disable",
	"db_max_conns": 10,

	"graph_backend":  GraphBackendMemory,
	"graph_file":     "",
	"neo4j_host":     "localhost",
	"neo4j_port":     7687,
	"neo4j_user":     "",
	"neo4j_password": "",

	"biosphere_database": "biosphere3",
	"biosphere_version":  "",

	"kafka_enabled":          false,
	"kafka_brokers":          "localhost:9092",
	"kafka_topic":            "fern.dataset.events",
	"kafka_batch_size":       1,
	"kafka_batch_timeout_ms": 10,
	"kafka_required_acks":    1,
	"kafka_compression":      "snappy",

	"redis_enabled":           false,
	"redis_host":              "localhost",
	"redis_port":              6379,
	"redis_password":          "",
	"redis_db":                0,
	"import_lock_ttl_seconds": 600,

	"otlp_endpoint": "",
	"otlp_protocol": "grpc",
	"otlp_insecure": true,
}

// Load reads envFile when it exists, then the environment. Every key has a
// default so a bare environment yields a usable SQLite and memory-graph setup.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) Database() database.Config {
	return database.Config{
		Driver:   c.DatabaseDriver,
		Path:     c.DatabasePath,
		Host:     c.DatabaseHost,
		Port:     c.DatabasePort,
		User:     c.DatabaseUser,
		Password: c.DatabasePassword,
		Name:     c.DatabaseName,
		SSLMode:  c.DatabaseSSLMode,
		MaxConns: c.DatabaseMaxConns,
	}
}

func (c *Config) Neo4j() graph.Neo4jConfig {
	return graph.Neo4jConfig{
		Host:     c.Neo4jHost,
		Port:     c.Neo4jPort,
		Username: c.Neo4jUser,
		Password: c.Neo4jPassword,
	}
}

func (c *Config) Kafka() kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      kafka.ParseBrokers(c.KafkaBrokers),
		Topic:        c.KafkaTopic,
		BatchSize:    c.KafkaBatchSize,
		BatchTimeout: time.Duration(c.KafkaBatchTimeoutMs) * time.Millisecond,
		RequiredAcks: c.KafkaRequiredAcks,
		Compression:  c.KafkaCompression,
	}
}

func (c *Config) Redis() redis.Config {
	return redis.Config{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func (c *Config) ImportLockTTL() time.Duration {
	return time.Duration(c.ImportLockTTLSeconds) * time.Second
}

func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Pretty: c.PrettyLogs}
}

func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName: c.AppName,
		Endpoint:    c.OTLPEndpoint,
		Protocol:    c.OTLPProtocol,
		Insecure:    c.OTLPInsecure,
	}
}
