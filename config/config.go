// Package config holds the YAML configuration surface for the telemetry
// pipeline. All fields have working defaults so an empty config produces a
// usable pipeline once a sink is attached.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FullBehavior values for the ingestion queue overflow policy.
const (
	DropNewest = "drop_newest"
	DropOldest = "drop_oldest"
)

// Config is the pipeline configuration.
type Config struct {
	// ServiceName is attached to every record and to the payload envelope.
	ServiceName string `yaml:"service_name"`
	// TenantKey is the default tenant attribution when a record lacks one.
	TenantKey string `yaml:"tenant_key"`
	// BatchSize is the record count that triggers a flush.
	BatchSize int `yaml:"batch_size"`
	// FlushInterval is the max time before a non-empty batch is force-flushed.
	FlushInterval Duration `yaml:"flush_interval"`
	// MaxRetries is the total send attempts per delivery cycle.
	MaxRetries int `yaml:"max_retries"`
	// MaxFailedBatches is the quarantine capacity. Oldest entries are
	// evicted once exceeded.
	MaxFailedBatches int `yaml:"max_failed_batches"`
	// MaxRetryCycles is how many quarantine re-delivery cycles a failed
	// batch may go through before being discarded.
	MaxRetryCycles int `yaml:"max_retry_cycles"`
	// RetryInterval is the quarantine re-delivery timer period.
	RetryInterval Duration `yaml:"retry_interval"`
	// MaxPendingRecords bounds the ingestion queue.
	MaxPendingRecords int `yaml:"max_pending_records"`
	// FullBehavior is the queue overflow policy: drop_newest or drop_oldest.
	FullBehavior string `yaml:"full_behavior"`
	// ShutdownTimeout bounds the final drain so process exit is never
	// blocked indefinitely by an unreachable sink.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	Backoff BackoffConfig `yaml:"backoff"`
	Sink    SinkConfig    `yaml:"sink"`
}

// BackoffConfig controls the optional exponential backoff between send
// attempts within one delivery cycle. Disabled means immediate retries.
type BackoffConfig struct {
	Enabled     *bool    `yaml:"enabled"`
	Initial     Duration `yaml:"initial"`
	MaxInterval Duration `yaml:"max_interval"`
}

// On reports whether backoff is enabled (default: off, immediate retries).
func (b BackoffConfig) On() bool {
	return b.Enabled != nil && *b.Enabled
}

// SinkConfig selects and configures the delivery sink.
type SinkConfig struct {
	// Kind is one of "kafka", "mongo", "http". Empty means the host
	// supplies a sink programmatically.
	Kind  string      `yaml:"kind"`
	Kafka KafkaConfig `yaml:"kafka"`
	Mongo MongoConfig `yaml:"mongo"`
	HTTP  HTTPConfig  `yaml:"http"`
}

// KafkaConfig configures the message-broker topic sink.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	// Topic overrides the derived "lmt-<service_name>" topic when set.
	Topic   string   `yaml:"topic"`
	Timeout Duration `yaml:"timeout"`
}

// MongoConfig configures the document-store sink.
type MongoConfig struct {
	URI        string   `yaml:"uri"`
	Database   string   `yaml:"database"`
	Collection string   `yaml:"collection"`
	Timeout    Duration `yaml:"timeout"`
}

// HTTPConfig configures the HTTP sink.
type HTTPConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`
	// Compression is "gzip" or "" (no compression).
	Compression string            `yaml:"compression"`
	Headers     map[string]string `yaml:"headers"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ServiceName:       "unknown-service",
		TenantKey:         "",
		BatchSize:         50,
		FlushInterval:     Duration(2 * time.Second),
		MaxRetries:        3,
		MaxFailedBatches:  100,
		MaxRetryCycles:    10,
		RetryInterval:     Duration(30 * time.Second),
		MaxPendingRecords: 10000,
		FullBehavior:      DropNewest,
		ShutdownTimeout:   Duration(5 * time.Second),
	}
}

// Load reads a YAML config file and applies defaults for zero values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with defaults, so a partially populated
// Config (built in code rather than loaded from YAML) is still usable.
func (c *Config) ApplyDefaults() {
	def := Default()
	if c.ServiceName == "" {
		c.ServiceName = def.ServiceName
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.MaxFailedBatches <= 0 {
		c.MaxFailedBatches = def.MaxFailedBatches
	}
	if c.MaxRetryCycles <= 0 {
		c.MaxRetryCycles = def.MaxRetryCycles
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.MaxPendingRecords <= 0 {
		c.MaxPendingRecords = def.MaxPendingRecords
	}
	if c.FullBehavior == "" {
		c.FullBehavior = def.FullBehavior
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.FullBehavior != DropNewest && c.FullBehavior != DropOldest {
		return fmt.Errorf("full_behavior must be %q or %q, got %q", DropNewest, DropOldest, c.FullBehavior)
	}
	switch c.Sink.Kind {
	case "", "kafka", "mongo", "http":
	default:
		return fmt.Errorf("sink.kind must be kafka, mongo or http, got %q", c.Sink.Kind)
	}
	if c.Sink.Kind == "kafka" && len(c.Sink.Kafka.Brokers) == 0 {
		return fmt.Errorf("sink.kafka.brokers is required for the kafka sink")
	}
	if c.Sink.Kind == "mongo" && c.Sink.Mongo.URI == "" {
		return fmt.Errorf("sink.mongo.uri is required for the mongo sink")
	}
	if c.Sink.Kind == "http" && c.Sink.HTTP.Endpoint == "" {
		return fmt.Errorf("sink.http.endpoint is required for the http sink")
	}
	return nil
}

// Duration wraps time.Duration for YAML. It accepts Go duration strings
// ("1.5s", "200ms") or a bare number, interpreted as seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds float64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
