package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeStream = "stream"
	ModeInline = "inline"

	DefaultSinkName = "default"
)

// Config holds the pipeline service settings. Values come from built-in
// defaults, then an optional YAML file, then environment variables.
type Config struct {
	APIPort         string        `yaml:"api_port"`
	Mode            string        `yaml:"mode"`
	LogLevel        string        `yaml:"log_level"`
	SchemaPath      string        `yaml:"schema_path"`
	IngestMaxBytes  int64         `yaml:"ingest_max_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Kafka   KafkaConfig   `yaml:"kafka"`
	Storage StorageConfig `yaml:"storage"`
	OIDC    OIDCConfig    `yaml:"oidc"`
}

// KafkaConfig configures the event stream. When EventHubConnectionString is
// set the broker is derived from it and SASL/TLS is enabled.
type KafkaConfig struct {
	Broker                   string `yaml:"broker"`
	RawTopic                 string `yaml:"raw_topic"`
	NormalizedTopic          string `yaml:"normalized_topic"`
	DLQTopic                 string `yaml:"dlq_topic"`
	GroupPrefix              string `yaml:"group_prefix"`
	EventHubConnectionString string `yaml:"eventhub_connection_string"`
}

// SinkConfig describes one storage destination.
type SinkConfig struct {
	Driver     string `yaml:"driver"` // mongo, postgres, sqlite, memory
	URI        string `yaml:"uri"`    // mongo URI or SQL DSN
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// StorageConfig maps source systems to named sinks.
type StorageConfig struct {
	Sinks   map[string]SinkConfig `yaml:"sinks"`
	Routes  map[string]string     `yaml:"routes"`
	Default string                `yaml:"default"`
}

type OIDCConfig struct {
	IssuerURL   string `yaml:"issuer_url"`
	ClientID    string `yaml:"client_id"`
	Audience    string `yaml:"audience"`
	MaxAttempts int    `yaml:"max_attempts"`
	CACertFile  string `yaml:"ca_cert_file"`
}

// Enabled reports whether bearer-token auth is configured.
func (o OIDCConfig) Enabled() bool { return o.IssuerURL != "" }

// GetEnv returns the value of the environment variable or a default value
func GetEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

// Default returns the configuration used when neither file nor env say otherwise.
func Default() *Config {
	return &Config{
		APIPort:         "8080",
		Mode:            ModeStream,
		LogLevel:        "info",
		IngestMaxBytes:  1 << 20,
		ShutdownTimeout: 10 * time.Second,
		Kafka: KafkaConfig{
			Broker:          "kafka:9092",
			RawTopic:        "call-records-raw",
			NormalizedTopic: "call-records-normalized",
			DLQTopic:        "call-records-dlq",
			GroupPrefix:     "callpipe",
		},
		OIDC: OIDCConfig{
			ClientID:    "callpipe",
			Audience:    "callpipe",
			MaxAttempts: 8,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnvOverrides()
	cfg.ensureDefaultSink()
	cfg.normalizeRoutes()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.APIPort = GetEnv("API_PORT", c.APIPort)
	c.Mode = strings.ToLower(GetEnv("PIPELINE_MODE", c.Mode))
	c.LogLevel = GetEnv("LOG_LEVEL", c.LogLevel)
	c.SchemaPath = GetEnv("SCHEMA_PATH", c.SchemaPath)
	if n, err := strconv.ParseInt(os.Getenv("INGEST_MAX_BYTES"), 10, 64); err == nil && n > 0 {
		c.IngestMaxBytes = n
	}
	if d, err := time.ParseDuration(os.Getenv("SHUTDOWN_TIMEOUT")); err == nil && d > 0 {
		c.ShutdownTimeout = d
	}

	c.Kafka.Broker = GetEnv("KAFKA_BROKER", c.Kafka.Broker)
	c.Kafka.RawTopic = GetEnv("KAFKA_RAW_TOPIC", c.Kafka.RawTopic)
	c.Kafka.NormalizedTopic = GetEnv("KAFKA_NORMALIZED_TOPIC", c.Kafka.NormalizedTopic)
	c.Kafka.DLQTopic = GetEnv("KAFKA_DLQ_TOPIC", c.Kafka.DLQTopic)
	c.Kafka.GroupPrefix = GetEnv("KAFKA_GROUP_PREFIX", c.Kafka.GroupPrefix)
	c.Kafka.EventHubConnectionString = GetEnv("EVENTHUB_CONNECTION_STRING", c.Kafka.EventHubConnectionString)

	c.OIDC.IssuerURL = GetEnv("OIDC_ISSUER_URL", c.OIDC.IssuerURL)
	c.OIDC.ClientID = GetEnv("OIDC_CLIENT_ID", c.OIDC.ClientID)
	c.OIDC.Audience = GetEnv("OIDC_AUDIENCE", c.OIDC.Audience)
	c.OIDC.CACertFile = GetEnv("OIDC_CA_CERT_FILE", c.OIDC.CACertFile)
	if n, err := strconv.Atoi(os.Getenv("OIDC_MAX_ATTEMPTS")); err == nil && n > 0 {
		c.OIDC.MaxAttempts = n
	}
}

// ensureDefaultSink creates the single env-defined sink when the file
// declared none.
func (c *Config) ensureDefaultSink() {
	if len(c.Storage.Sinks) > 0 {
		if c.Storage.Default == "" && len(c.Storage.Sinks) == 1 {
			for name := range c.Storage.Sinks {
				c.Storage.Default = name
			}
		}
		return
	}
	driver := strings.ToLower(GetEnv("STORE_DRIVER", "mongo"))
	sink := SinkConfig{Driver: driver}
	switch driver {
	case "mongo":
		sink.URI = GetEnv("MONGO_URI", "mongodb://mongodb:27017")
		sink.Database = GetEnv("MONGO_DATABASE", "callpipe")
		sink.Collection = GetEnv("MONGO_COLLECTION", "calls")
	default:
		sink.URI = GetEnv("STORE_DSN", "")
	}
	c.Storage.Sinks = map[string]SinkConfig{DefaultSinkName: sink}
	if c.Storage.Default == "" {
		c.Storage.Default = DefaultSinkName
	}
}

// normalizeRoutes lowercases source keys so lookups are case-insensitive.
func (c *Config) normalizeRoutes() {
	if len(c.Storage.Routes) == 0 {
		return
	}
	routes := make(map[string]string, len(c.Storage.Routes))
	for source, sink := range c.Storage.Routes {
		routes[strings.ToLower(strings.TrimSpace(source))] = sink
	}
	c.Storage.Routes = routes
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.APIPort == "" {
		errs = append(errs, errors.New("api_port must not be empty"))
	}
	if c.Mode != ModeStream && c.Mode != ModeInline {
		errs = append(errs, fmt.Errorf("mode %q must be %q or %q", c.Mode, ModeStream, ModeInline))
	}
	for name, sink := range c.Storage.Sinks {
		switch sink.Driver {
		case "mongo", "postgres", "sqlite":
			if sink.URI == "" {
				errs = append(errs, fmt.Errorf("sink %q: uri required for driver %s", name, sink.Driver))
			}
		case "memory":
		default:
			errs = append(errs, fmt.Errorf("sink %q: unknown driver %q", name, sink.Driver))
		}
	}
	if _, ok := c.Storage.Sinks[c.Storage.Default]; !ok {
		errs = append(errs, fmt.Errorf("default sink %q is not defined", c.Storage.Default))
	}
	for source, name := range c.Storage.Routes {
		if _, ok := c.Storage.Sinks[name]; !ok {
			errs = append(errs, fmt.Errorf("route %q points at undefined sink %q", source, name))
		}
	}
	return errors.Join(errs...)
}
