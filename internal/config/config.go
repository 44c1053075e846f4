// Package config loads relay configuration from environment variables, with an
// optional TOML file providing defaults for anything the environment leaves
// unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every tunable of the relay. Environment variables win over the
// TOML file; the file wins over built-in defaults.
type Config struct {
	// Upstream (Genesys Cloud notifications).
	Region       string `toml:"region"`        // HOOKRELAY_REGION (e.g. "usw2.pure.cloud")
	ClientID     string `toml:"client_id"`     // HOOKRELAY_CLIENT_ID
	ClientSecret string `toml:"client_secret"` // HOOKRELAY_CLIENT_SECRET

	// Transport: "genesys" (default) or "nats" for local development.
	Transport string `toml:"transport"` // HOOKRELAY_TRANSPORT
	NATSURL   string `toml:"nats_url"`  // HOOKRELAY_NATS_URL

	// Topic selection.
	Topics         []string `toml:"topics"`          // HOOKRELAY_TOPICS (comma separated)
	AutoDiscover   bool     `toml:"auto_discover"`   // HOOKRELAY_AUTO_DISCOVER (default true)
	TopicInclude   string   `toml:"topic_include"`   // HOOKRELAY_TOPIC_INCLUDE (regex, default "audiohook")
	TopicExclude   string   `toml:"topic_exclude"`   // HOOKRELAY_TOPIC_EXCLUDE (regex)
	FallbackTopics []string `toml:"fallback_topics"` // HOOKRELAY_FALLBACK_TOPICS

	// Sink: "elastic" (default) or "postgres".
	Sink              string `toml:"sink"`               // HOOKRELAY_SINK
	ElasticURL        string `toml:"elastic_url"`        // HOOKRELAY_ELASTIC_URL
	ElasticAuth       string `toml:"elastic_auth"`       // HOOKRELAY_ELASTIC_AUTH
	ElasticIndex      string `toml:"elastic_index"`      // HOOKRELAY_ELASTIC_INDEX (default "genesys-audiohook")
	ElasticDatastream bool   `toml:"elastic_datastream"` // HOOKRELAY_ELASTIC_DATASTREAM
	DatabaseURL       string `toml:"database_url"`       // HOOKRELAY_DATABASE_URL (postgres sink)

	// Batching and shipping.
	QueueCapacity   int           `toml:"queue_capacity"`    // HOOKRELAY_QUEUE_CAPACITY (default 10000)
	EnqueueWait     time.Duration `toml:"enqueue_wait"`      // HOOKRELAY_ENQUEUE_WAIT (default 500ms)
	BulkMaxDocs     int           `toml:"bulk_max_docs"`     // HOOKRELAY_BULK_MAX_DOCS (default 200)
	BulkMaxBytes    int           `toml:"bulk_max_bytes"`    // HOOKRELAY_BULK_MAX_BYTES (0 = disabled)
	BulkMaxInterval time.Duration `toml:"bulk_max_interval"` // HOOKRELAY_BULK_MAX_INTERVAL (default 5s)
	BulkConcurrency int           `toml:"bulk_concurrency"`  // HOOKRELAY_BULK_CONCURRENCY (default 2)
	MaxRetries      int           `toml:"max_retries"`       // HOOKRELAY_MAX_RETRIES (default 5)
	RetryBase       time.Duration `toml:"retry_base"`        // HOOKRELAY_RETRY_BASE (default 1s)
	RetryCap        time.Duration `toml:"retry_cap"`         // HOOKRELAY_RETRY_CAP (default 30s)

	// Connection behaviour.
	SubscribeTimeout   time.Duration `toml:"subscribe_timeout"`   // HOOKRELAY_SUBSCRIBE_TIMEOUT (default 15s)
	ReadTimeout        time.Duration `toml:"read_timeout"`        // HOOKRELAY_READ_TIMEOUT (default 90s)
	StabilityThreshold time.Duration `toml:"stability_threshold"` // HOOKRELAY_STABILITY_THRESHOLD (default 60s)
	ShutdownTimeout    time.Duration `toml:"shutdown_timeout"`    // HOOKRELAY_SHUTDOWN_TIMEOUT (default 15s)

	// Status surface.
	StatusAddr string `toml:"status_addr"` // HOOKRELAY_STATUS_ADDR (default ":8077", "" disables)

	// Dead-letter archive (S3-compatible; enabled when bucket is set).
	ArchiveS3Bucket   string `toml:"archive_s3_bucket"`   // HOOKRELAY_ARCHIVE_S3_BUCKET
	ArchiveS3Prefix   string `toml:"archive_s3_prefix"`   // HOOKRELAY_ARCHIVE_S3_PREFIX (default "hookrelay/deadletter")
	ArchiveS3Region   string `toml:"archive_s3_region"`   // HOOKRELAY_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Endpoint string `toml:"archive_s3_endpoint"` // HOOKRELAY_ARCHIVE_S3_ENDPOINT (MinIO etc.)
}

func defaults() *Config {
	return &Config{
		Transport:          "genesys",
		AutoDiscover:       true,
		TopicInclude:       "audiohook",
		FallbackTopics:     []string{"channel.metadata"},
		Sink:               "elastic",
		ElasticIndex:       "genesys-audiohook",
		QueueCapacity:      10000,
		EnqueueWait:        500 * time.Millisecond,
		BulkMaxDocs:        200,
		BulkMaxInterval:    5 * time.Second,
		BulkConcurrency:    2,
		MaxRetries:         5,
		RetryBase:          time.Second,
		RetryCap:           30 * time.Second,
		SubscribeTimeout:   15 * time.Second,
		ReadTimeout:        90 * time.Second,
		StabilityThreshold: 60 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		StatusAddr:         ":8077",
		ArchiveS3Prefix:    "hookrelay/deadletter",
		ArchiveS3Region:    "us-east-1",
	}
}

// Load builds the configuration. When HOOKRELAY_CONFIG points at a TOML file
// it is decoded first; environment variables then override individual values.
func Load() (*Config, error) {
	c := defaults()

	if path := os.Getenv("HOOKRELAY_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	}

	if err := applyEnv(c); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *Config) error {
	setString(&c.Region, "HOOKRELAY_REGION")
	setString(&c.ClientID, "HOOKRELAY_CLIENT_ID")
	setString(&c.ClientSecret, "HOOKRELAY_CLIENT_SECRET")
	setString(&c.Transport, "HOOKRELAY_TRANSPORT")
	setString(&c.NATSURL, "HOOKRELAY_NATS_URL")
	setList(&c.Topics, "HOOKRELAY_TOPICS")
	setString(&c.TopicInclude, "HOOKRELAY_TOPIC_INCLUDE")
	setString(&c.TopicExclude, "HOOKRELAY_TOPIC_EXCLUDE")
	setList(&c.FallbackTopics, "HOOKRELAY_FALLBACK_TOPICS")
	setString(&c.Sink, "HOOKRELAY_SINK")
	setString(&c.ElasticURL, "HOOKRELAY_ELASTIC_URL")
	setString(&c.ElasticAuth, "HOOKRELAY_ELASTIC_AUTH")
	setString(&c.ElasticIndex, "HOOKRELAY_ELASTIC_INDEX")
	setString(&c.DatabaseURL, "HOOKRELAY_DATABASE_URL")
	if v, ok := os.LookupEnv("HOOKRELAY_STATUS_ADDR"); ok {
		c.StatusAddr = v // explicit empty disables the status server
	}
	setString(&c.ArchiveS3Bucket, "HOOKRELAY_ARCHIVE_S3_BUCKET")
	setString(&c.ArchiveS3Prefix, "HOOKRELAY_ARCHIVE_S3_PREFIX")
	setString(&c.ArchiveS3Region, "HOOKRELAY_ARCHIVE_S3_REGION")
	setString(&c.ArchiveS3Endpoint, "HOOKRELAY_ARCHIVE_S3_ENDPOINT")

	// Parsed values reject malformed input instead of silently keeping the
	// default.
	for _, err := range []error{
		setBool(&c.AutoDiscover, "HOOKRELAY_AUTO_DISCOVER"),
		setBool(&c.ElasticDatastream, "HOOKRELAY_ELASTIC_DATASTREAM"),
		setInt(&c.QueueCapacity, "HOOKRELAY_QUEUE_CAPACITY"),
		setDuration(&c.EnqueueWait, "HOOKRELAY_ENQUEUE_WAIT"),
		setInt(&c.BulkMaxDocs, "HOOKRELAY_BULK_MAX_DOCS"),
		setInt(&c.BulkMaxBytes, "HOOKRELAY_BULK_MAX_BYTES"),
		setDuration(&c.BulkMaxInterval, "HOOKRELAY_BULK_MAX_INTERVAL"),
		setInt(&c.BulkConcurrency, "HOOKRELAY_BULK_CONCURRENCY"),
		setInt(&c.MaxRetries, "HOOKRELAY_MAX_RETRIES"),
		setDuration(&c.RetryBase, "HOOKRELAY_RETRY_BASE"),
		setDuration(&c.RetryCap, "HOOKRELAY_RETRY_CAP"),
		setDuration(&c.SubscribeTimeout, "HOOKRELAY_SUBSCRIBE_TIMEOUT"),
		setDuration(&c.ReadTimeout, "HOOKRELAY_READ_TIMEOUT"),
		setDuration(&c.StabilityThreshold, "HOOKRELAY_STABILITY_THRESHOLD"),
		setDuration(&c.ShutdownTimeout, "HOOKRELAY_SHUTDOWN_TIMEOUT"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case "genesys":
		if c.Region == "" || c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("HOOKRELAY_REGION, HOOKRELAY_CLIENT_ID and HOOKRELAY_CLIENT_SECRET are required for the genesys transport")
		}
	case "nats":
		if c.NATSURL == "" {
			return fmt.Errorf("HOOKRELAY_NATS_URL is required for the nats transport")
		}
	default:
		return fmt.Errorf("unknown transport %q (want genesys or nats)", c.Transport)
	}

	switch c.Sink {
	case "elastic":
		if c.ElasticURL == "" {
			return fmt.Errorf("HOOKRELAY_ELASTIC_URL is required for the elastic sink")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("HOOKRELAY_DATABASE_URL is required for the postgres sink")
		}
	default:
		return fmt.Errorf("unknown sink %q (want elastic or postgres)", c.Sink)
	}

	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.BulkMaxDocs <= 0 {
		return fmt.Errorf("bulk max docs must be positive, got %d", c.BulkMaxDocs)
	}
	if c.BulkConcurrency <= 0 {
		return fmt.Errorf("bulk concurrency must be positive, got %d", c.BulkConcurrency)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q (want e.g. 500ms, 5s, 1m)", key, v)
	}
	*dst = d
	return nil
}
