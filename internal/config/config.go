// Package config defines the process configuration. It is loaded once at
// startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// SSM lookups only happen outside APP_ENV=local, for variables that have a
// companion <NAME>_SSM_PARAM pointer.
package config

import "time"

// Model sources.
const (
	SourceFS = "fs"
	SourceS3 = "s3"
)

// Config is the top-level configuration struct.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"citycast"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Models        ModelConfig
	AWS           AWSConfig
	Forecast      ForecastConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s" validate:"gt=0"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Per client IP. A zero rate disables limiting.
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5" validate:"gte=0"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"20" validate:"gte=0"`
}

// ModelConfig selects where the per-city artifacts live.
type ModelConfig struct {
	Source string `envconfig:"MODEL_SOURCE" default:"fs" validate:"oneof=fs s3"`
	Folder string `envconfig:"MODEL_FOLDER" default:"city_models" validate:"required_if=Source fs"`
	Bucket string `envconfig:"MODEL_BUCKET" validate:"required_if=Source s3"`
	Prefix string `envconfig:"MODEL_PREFIX"`

	// Preload warms the cache with every discovered city at startup.
	Preload            bool `envconfig:"MODEL_PRELOAD" default:"false"`
	PreloadConcurrency int  `envconfig:"MODEL_PRELOAD_CONCURRENCY" default:"4" validate:"min=1,max=64"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack/MinIO Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// ForecastConfig holds forecast window settings.
type ForecastConfig struct {
	Days    int `envconfig:"FORECAST_DAYS" default:"14" validate:"min=1,ltefield=MaxDays"`
	MaxDays int `envconfig:"FORECAST_MAX_DAYS" default:"31" validate:"min=1,max=366"`

	// DisplayTimezone is the IANA zone of the dashboard header clock.
	// Calendar dates stay UTC.
	DisplayTimezone string `envconfig:"DISPLAY_TIMEZONE" default:"UTC" validate:"timezone"`
}

// DisplayLocation returns the dashboard header zone. The name is validated on
// load; UTC is returned if it cannot be resolved.
func (f ForecastConfig) DisplayLocation() *time.Location {
	loc, err := time.LoadLocation(f.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool          `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string        `envconfig:"METRIC_NAMESPACE" default:"Citycast"`
	FlushInterval   time.Duration `envconfig:"METRIC_FLUSH_INTERVAL" default:"60s" validate:"gt=0"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching parameters from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)

// IsLocal reports whether the process runs in the local environment.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}
