// Package config loads the framework's YAML configuration surface.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document. Fields mirror the original
// APIConfig feature-flag surface, narrowed to the components this
// framework actually owns.
type Config struct {
	Cache     CacheConfig     `yaml:"cache"`
	Limiter   LimiterConfig   `yaml:"limiter"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	TaskQueue TaskQueueConfig `yaml:"task_queue"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Remote    RemoteConfig    `yaml:"remote_cache"`
}

type CacheConfig struct {
	Capacity        int           `yaml:"capacity"`
	TTL             time.Duration `yaml:"ttl"`
	MaxBytes        int64         `yaml:"max_bytes"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	HotRouteThresh  uint64        `yaml:"hot_route_threshold"`
}

type LimiterConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BucketSize        int64   `yaml:"bucket_size"`
	EnableGlobal      bool    `yaml:"enable_global"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

type TaskQueueConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Workers     int           `yaml:"workers"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type APIConfig struct {
	EnableBuiltinRoutes bool   `yaml:"enable_builtin_routes"`
	BuiltinRoutePrefix  string `yaml:"builtin_route_prefix"`
	ExposeMetrics       bool   `yaml:"expose_metrics"`
	ExposeTraces        bool   `yaml:"expose_traces"`
	ExposeHealth        bool   `yaml:"expose_health"`
	ExposeInfo          bool   `yaml:"expose_info"`
	EnableAPIDocs       bool   `yaml:"enable_api_docs"`
	Title               string `yaml:"title"`
	Version             string `yaml:"version"`
}

type TelemetryConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
}

type RemoteConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Default returns the configuration baseline used when no file is supplied.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Capacity:        1000,
			TTL:             time.Hour,
			CleanupInterval: 60 * time.Second,
			HotRouteThresh:  1000,
		},
		Limiter: LimiterConfig{
			RequestsPerSecond: 1000,
			BucketSize:        1000,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     60 * time.Second,
		},
		TaskQueue: TaskQueueConfig{
			Workers:    3,
			MaxRetries: 3,
			RetryDelay: 5 * time.Second,
		},
		API: APIConfig{
			EnableBuiltinRoutes: true,
			BuiltinRoutePrefix:  "_",
			ExposeMetrics:       true,
			ExposeTraces:        true,
			ExposeHealth:        true,
			ExposeInfo:          true,
			EnableAPIDocs:       true,
			Title:               "fantail",
			Version:             "0.1.0",
		},
	}
}

// Load reads a YAML document from path and overlays it on Default(). An
// empty path skips the file and starts from Default(). In both cases the
// FANTAIL_REMOTE_CACHE_DSN environment variable, when set, overrides the
// remote cache DSN, matching the original system's environment-variable
// fallback when no config file is present.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if dsn := os.Getenv("FANTAIL_REMOTE_CACHE_DSN"); dsn != "" {
		cfg.Remote.DSN = dsn
	}
	return cfg, nil
}
