// Package config loads the trailflow configuration from an optional file and
// TRAILFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/illmade-knight/go-trailflow/pkg/filter"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Queue backends.
const (
	QueueSQS    = "sqs"
	QueuePubsub = "pubsub"
)

// Object store backends.
const (
	StoreS3  = "s3"
	StoreGCS = "gcs"
)

// Certificate cache backends.
const (
	CacheNone      = "none"
	CacheMemory    = "memory"
	CacheLRU       = "lru"
	CacheRedis     = "redis"
	CacheFirestore = "firestore"
)

// Sink backends.
const (
	SinkLog      = "log"
	SinkBigQuery = "bigquery"
	SinkGCS      = "gcs"
	SinkPubsub   = "pubsub"
)

// Config aggregates configuration for the trailflow command.
type Config struct {
	LogLevel        string        `mapstructure:"log_level"`
	HTTPPort        string        `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	AWS          AWSConfig          `mapstructure:"aws"`
	GCP          GCPConfig          `mapstructure:"gcp"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	ObjectStore  ObjectStoreConfig  `mapstructure:"object_store"`
	Verification VerificationConfig `mapstructure:"verification"`
	Sink         SinkConfig         `mapstructure:"sink"`
}

// AWSConfig selects the credentials and endpoint used for SQS and S3.
type AWSConfig struct {
	Region    string `mapstructure:"region"`
	RoleARN   string `mapstructure:"role_arn"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// GCPConfig is shared by every Google Cloud client.
type GCPConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// QueueConfig configures the notification queue and the executor polling it.
type QueueConfig struct {
	Backend           string        `mapstructure:"backend"`
	URL               string        `mapstructure:"url"`
	Subscription      string        `mapstructure:"subscription"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	DeleteOnFailure   bool          `mapstructure:"delete_on_failure"`
	NumWorkers        int           `mapstructure:"num_workers"`
	IdleBackoff       time.Duration `mapstructure:"idle_backoff"`
}

// PipelineConfig configures per-log processing.
type PipelineConfig struct {
	BufferCapacity   int      `mapstructure:"buffer_capacity"`
	RejectUnverified bool     `mapstructure:"reject_unverified"`
	RawEvents        bool     `mapstructure:"raw_events"`
	AccountIDs       []string `mapstructure:"account_ids"`
	// SourceFilter and EventFilter are optional CEL expressions.
	SourceFilter string `mapstructure:"source_filter"`
	EventFilter  string `mapstructure:"event_filter"`
}

// ObjectStoreConfig selects where log files and certificates are read from.
type ObjectStoreConfig struct {
	Backend         string        `mapstructure:"backend"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
}

// VerificationConfig enables signature verification.
type VerificationConfig struct {
	Enabled           bool        `mapstructure:"enabled"`
	CertificateBucket string      `mapstructure:"certificate_bucket"`
	Cache             CacheConfig `mapstructure:"cache"`
}

// CacheConfig configures the certificate cache.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxSize       int           `mapstructure:"max_size"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Collection    string        `mapstructure:"collection"`
}

// SinkConfig selects where delivered events go.
type SinkConfig struct {
	Backend       string        `mapstructure:"backend"`
	DatasetID     string        `mapstructure:"dataset_id"`
	TableID       string        `mapstructure:"table_id"`
	InsertTimeout time.Duration `mapstructure:"insert_timeout"`
	Bucket        string        `mapstructure:"bucket"`
	ObjectPrefix  string        `mapstructure:"object_prefix"`
	TopicID       string        `mapstructure:"topic_id"`
}

// Default returns a configuration that only needs a queue URL to run.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		HTTPPort:        ":8080",
		ShutdownTimeout: 30 * time.Second,
		AWS:             AWSConfig{Region: "us-east-1"},
		Queue: QueueConfig{
			Backend:     QueueSQS,
			NumWorkers:  5,
			IdleBackoff: 500 * time.Millisecond,
		},
		Pipeline: PipelineConfig{BufferCapacity: 100},
		ObjectStore: ObjectStoreConfig{
			Backend:         StoreS3,
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
		},
		Verification: VerificationConfig{
			Cache: CacheConfig{
				Backend: CacheNone,
				TTL:     time.Hour,
				MaxSize: 256,
			},
		},
		Sink: SinkConfig{
			Backend:       SinkLog,
			InsertTimeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from path, if not empty, and from environment
// variables. Environment variables use the prefix "TRAILFLOW" and the dot in
// keys is replaced by an underscore, so "queue.url" becomes TRAILFLOW_QUEUE_URL.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("TRAILFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers every key of cfg so that viper looks up the matching
// environment variable when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

// Validate reports every problem at once, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		add("log_level: %w", err)
	}
	if c.ShutdownTimeout <= 0 {
		add("shutdown_timeout must be positive")
	}

	switch c.Queue.Backend {
	case QueueSQS:
		if c.Queue.URL == "" {
			add("queue.url is required for the sqs backend")
		}
	case QueuePubsub:
		if c.Queue.Subscription == "" {
			add("queue.subscription is required for the pubsub backend")
		}
		if c.GCP.ProjectID == "" {
			add("gcp.project_id is required for the pubsub backend")
		}
	default:
		add("unknown queue.backend %q", c.Queue.Backend)
	}
	if c.Queue.VisibilityTimeout < 0 {
		add("queue.visibility_timeout cannot be negative")
	}
	if c.Queue.NumWorkers < 0 {
		add("queue.num_workers cannot be negative")
	}

	if c.Pipeline.BufferCapacity < 0 {
		add("pipeline.buffer_capacity cannot be negative")
	}
	if c.Pipeline.SourceFilter != "" {
		if _, err := filter.NewCELSourceFilter(c.Pipeline.SourceFilter); err != nil {
			add("pipeline.source_filter: %w", err)
		}
	}
	if c.Pipeline.EventFilter != "" {
		if _, err := filter.NewCELEventFilter(c.Pipeline.EventFilter); err != nil {
			add("pipeline.event_filter: %w", err)
		}
	}
	if c.Pipeline.RejectUnverified && !c.Verification.Enabled {
		add("pipeline.reject_unverified requires verification.enabled")
	}

	switch c.ObjectStore.Backend {
	case StoreS3:
	case StoreGCS:
		if c.GCP.ProjectID == "" {
			add("gcp.project_id is required for the gcs object store")
		}
	default:
		add("unknown object_store.backend %q", c.ObjectStore.Backend)
	}
	if c.ObjectStore.MaxAttempts < 1 {
		add("object_store.max_attempts must be at least 1")
	}

	if c.Verification.Enabled {
		if c.Verification.CertificateBucket == "" {
			add("verification.certificate_bucket is required when verification is enabled")
		}
		c.validateCache(add)
	}

	switch c.Sink.Backend {
	case SinkLog:
	case SinkBigQuery:
		if c.GCP.ProjectID == "" || c.Sink.DatasetID == "" || c.Sink.TableID == "" {
			add("gcp.project_id, sink.dataset_id and sink.table_id are required for the bigquery sink")
		}
	case SinkGCS:
		if c.GCP.ProjectID == "" || c.Sink.Bucket == "" {
			add("gcp.project_id and sink.bucket are required for the gcs sink")
		}
	case SinkPubsub:
		if c.GCP.ProjectID == "" || c.Sink.TopicID == "" {
			add("gcp.project_id and sink.topic_id are required for the pubsub sink")
		}
	default:
		add("unknown sink.backend %q", c.Sink.Backend)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validateCache(add func(string, ...any)) {
	cc := c.Verification.Cache
	switch cc.Backend {
	case CacheNone:
	case CacheMemory:
		if cc.TTL <= 0 {
			add("verification.cache.ttl must be positive for the memory cache")
		}
	case CacheLRU:
		if cc.MaxSize < 1 {
			add("verification.cache.max_size must be at least 1 for the lru cache")
		}
	case CacheRedis:
		if cc.RedisAddr == "" {
			add("verification.cache.redis_addr is required for the redis cache")
		}
	case CacheFirestore:
		if c.GCP.ProjectID == "" || cc.Collection == "" {
			add("gcp.project_id and verification.cache.collection are required for the firestore cache")
		}
	default:
		add("unknown verification.cache.backend %q", cc.Backend)
	}
}
