// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/apicrawler/internal/apiclient/rest"
	"github.com/JakeFAU/apicrawler/internal/logging"
	"github.com/JakeFAU/apicrawler/internal/telemetry"
)

// Link sink, fact store and shipping drivers.
const (
	DriverMemory   = "memory"
	DriverHTTP     = "http"
	DriverKafka    = "kafka"
	DriverPubSub   = "pubsub"
	DriverNoop     = "noop"
	DriverPostgres = "postgres"
	DriverNeo4j    = "neo4j"
	DriverNone     = "none"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      logging.Config     `mapstructure:"logging"`
	Platforms    []string           `mapstructure:"platforms"`
	Manager      ManagerConfig      `mapstructure:"manager"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	APIClient    APIClientConfig    `mapstructure:"apiclient"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	LinkIntake   LinkIntakeConfig   `mapstructure:"linkintake"`
	FactStore    FactStoreConfig    `mapstructure:"factstore"`
	Shipping     ShippingConfig     `mapstructure:"shipping"`
	StatusMirror StatusMirrorConfig `mapstructure:"statusmirror"`
	Tracing      telemetry.Config   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ManagerConfig tunes the crawl lifecycle.
type ManagerConfig struct {
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	StopPollInterval time.Duration `mapstructure:"stop_poll_interval"`
	DateLayout       string        `mapstructure:"date_layout"`
}

// WorkerConfig tunes the platform loops.
type WorkerConfig struct {
	MinRunWarning time.Duration `mapstructure:"min_run_warning"`
	RequeuePause  time.Duration `mapstructure:"requeue_pause"`
}

// APIClientConfig describes the remote APIs and how fast to call them.
type APIClientConfig struct {
	UserAgent         string                 `mapstructure:"user_agent"`
	Timeout           time.Duration          `mapstructure:"timeout"`
	MaxBodySize       int                    `mapstructure:"max_body_size"`
	RequestsPerSecond float64                `mapstructure:"requests_per_second"`
	Burst             int                    `mapstructure:"burst"`
	PerServerRPS      map[string]float64     `mapstructure:"per_server_rps"`
	Servers           map[string]rest.Server `mapstructure:"servers"`
}

// PipelineConfig controls the response pipeline and its output files.
type PipelineConfig struct {
	OutputDir       string            `mapstructure:"output_dir"`
	MaxFileBytes    int64             `mapstructure:"max_file_bytes"`
	QueueSize       int               `mapstructure:"queue_size"`
	OutlinksChunk   int               `mapstructure:"outlinks_chunk"`
	TriplesChunk    int               `mapstructure:"triples_chunk"`
	FlushInterval   time.Duration     `mapstructure:"flush_interval"`
	SinkTimeout     time.Duration     `mapstructure:"sink_timeout"`
	RateLogInterval time.Duration     `mapstructure:"rate_log_interval"`
	Hostname        string            `mapstructure:"hostname"`
	ContentPaths    map[string]string `mapstructure:"content_paths"`
}

// LinkIntakeConfig selects where outlink batches go.
type LinkIntakeConfig struct {
	Driver   string        `mapstructure:"driver"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Brokers  []string      `mapstructure:"brokers"`
	Topic    string        `mapstructure:"topic"`
	Project  string        `mapstructure:"project"`
}

// FactStoreConfig selects where triple batches go.
type FactStoreConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// ShippingConfig selects where rotated files are uploaded.
type ShippingConfig struct {
	Driver      string `mapstructure:"driver"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	BaseDir     string `mapstructure:"base_dir"`
	DeleteLocal bool   `mapstructure:"delete_local"`
}

// StatusMirrorConfig enables the Redis job mirror when Addr is set.
type StatusMirrorConfig struct {
	Addr   string        `mapstructure:"addr"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APICRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_grace", 10*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("platforms", []string{"facebook", "flickr", "google_plus", "twitter", "youtube"})
	v.SetDefault("manager.stop_timeout", 90*time.Second)
	v.SetDefault("manager.stop_poll_interval", time.Second)
	v.SetDefault("manager.date_layout", "2006-01-02_15:04:05")
	v.SetDefault("worker.min_run_warning", 5*time.Second)
	v.SetDefault("worker.requeue_pause", 500*time.Millisecond)
	v.SetDefault("apiclient.user_agent", "apicrawler/1.0")
	v.SetDefault("apiclient.timeout", 30*time.Second)
	v.SetDefault("apiclient.max_body_size", 32<<20)
	v.SetDefault("apiclient.requests_per_second", 1.0)
	v.SetDefault("apiclient.burst", 1)
	v.SetDefault("apiclient.servers", defaultServers())
	v.SetDefault("pipeline.output_dir", "output")
	v.SetDefault("pipeline.max_file_bytes", int64(500<<20))
	v.SetDefault("pipeline.queue_size", 4096)
	v.SetDefault("pipeline.outlinks_chunk", 50000)
	v.SetDefault("pipeline.triples_chunk", 100000)
	v.SetDefault("pipeline.flush_interval", time.Minute)
	v.SetDefault("pipeline.sink_timeout", 30*time.Second)
	v.SetDefault("pipeline.rate_log_interval", 300*time.Second)
	v.SetDefault("linkintake.driver", DriverMemory)
	v.SetDefault("linkintake.timeout", 30*time.Second)
	v.SetDefault("factstore.driver", DriverNoop)
	v.SetDefault("factstore.table", "triples")
	v.SetDefault("factstore.max_conns", 4)
	v.SetDefault("shipping.driver", DriverNone)
	v.SetDefault("statusmirror.prefix", "apicrawler:job:")
	v.SetDefault("statusmirror.ttl", 7*24*time.Hour)
	v.SetDefault("tracing.exporter", telemetry.ExporterNone)
	v.SetDefault("tracing.service_name", "apicrawler")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// defaultServers describes the public endpoints each strategy calls.
func defaultServers() map[string]any {
	return map[string]any{
		"facebook": map[string]any{
			"base_url": "https://graph.facebook.com",
			"interactions": map[string]any{
				"search": map[string]any{"path": "/search", "params": map[string]any{"type": "post"}},
				"users":  map[string]any{"path": "/"},
			},
		},
		"flickr": map[string]any{
			"base_url": "https://api.flickr.com",
			"params":   map[string]any{"format": "json", "nojsoncallback": "1"},
			"interactions": map[string]any{
				"photos_search": map[string]any{
					"path":   "/services/rest/",
					"params": map[string]any{"method": "flickr.photos.search"},
				},
			},
		},
		"google_plus": map[string]any{
			"base_url": "https://www.googleapis.com/plus/v1",
			"interactions": map[string]any{
				"activities_search": map[string]any{"path": "/activities"},
			},
		},
		"twitter-search": map[string]any{
			"base_url": "https://search.twitter.com",
			"interactions": map[string]any{
				"search": map[string]any{
					"path":   "/search.json",
					"params": map[string]any{"rpp": "100", "result_type": "recent"},
				},
			},
		},
		"youtube": map[string]any{
			"base_url": "https://gdata.youtube.com",
			"params":   map[string]any{"alt": "json", "v": "2"},
			"interactions": map[string]any{
				"search": map[string]any{"path": "/feeds/api/videos", "params": map[string]any{"max-results": "50"}},
			},
		},
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if len(c.Platforms) == 0 {
		return fmt.Errorf("platforms must not be empty")
	}
	if c.Server.RequestTimeout > 0 && c.Server.RequestTimeout <= c.Manager.StopTimeout {
		return fmt.Errorf("server.request_timeout must exceed manager.stop_timeout")
	}
	if c.Pipeline.OutputDir == "" {
		return fmt.Errorf("pipeline.output_dir is required")
	}
	if c.Pipeline.MaxFileBytes <= 0 {
		return fmt.Errorf("pipeline.max_file_bytes must be > 0")
	}
	if c.Pipeline.OutlinksChunk <= 0 || c.Pipeline.TriplesChunk <= 0 {
		return fmt.Errorf("pipeline chunk sizes must be > 0")
	}
	switch c.LinkIntake.Driver {
	case DriverMemory:
	case DriverHTTP:
		if c.LinkIntake.Endpoint == "" {
			return fmt.Errorf("linkintake.endpoint is required for the http driver")
		}
	case DriverKafka:
		if len(c.LinkIntake.Brokers) == 0 || c.LinkIntake.Topic == "" {
			return fmt.Errorf("linkintake.brokers and linkintake.topic are required for the kafka driver")
		}
	case DriverPubSub:
		if c.LinkIntake.Project == "" || c.LinkIntake.Topic == "" {
			return fmt.Errorf("linkintake.project and linkintake.topic are required for the pubsub driver")
		}
	default:
		return fmt.Errorf("unknown linkintake.driver %q", c.LinkIntake.Driver)
	}
	switch c.FactStore.Driver {
	case DriverNoop:
	case DriverPostgres:
		if c.FactStore.DSN == "" {
			return fmt.Errorf("factstore.dsn is required for the postgres driver")
		}
	case DriverNeo4j:
		if c.FactStore.URI == "" {
			return fmt.Errorf("factstore.uri is required for the neo4j driver")
		}
	default:
		return fmt.Errorf("unknown factstore.driver %q", c.FactStore.Driver)
	}
	switch c.Shipping.Driver {
	case DriverNone:
	case DriverLocal:
		if c.Shipping.BaseDir == "" {
			return fmt.Errorf("shipping.base_dir is required for the local driver")
		}
	case DriverGCS:
		if c.Shipping.Bucket == "" {
			return fmt.Errorf("shipping.bucket is required for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown shipping.driver %q", c.Shipping.Driver)
	}
	switch c.Tracing.Exporter {
	case telemetry.ExporterNone, telemetry.ExporterStdout:
	default:
		return fmt.Errorf("unknown tracing.exporter %q", c.Tracing.Exporter)
	}
	return nil
}
