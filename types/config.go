package types

import (
	"time"
)

type ServiceConfig struct {
	Name     string          `yaml:"name" json:"name" validate:"required"`
	Version  string          `yaml:"version" json:"version" validate:"required"`
	API      *APIConfig      `yaml:"api" json:"api" validate:"required"`
	Logger   *LoggerConfig   `yaml:"logger" json:"logger" validate:"required"`
	Cache    *CacheConfig    `yaml:"cache" json:"cache" validate:"required"`
	Poller   *PollerConfig   `yaml:"poller" json:"poller" validate:"required"`
	Workflow *WorkflowConfig `yaml:"workflow" json:"workflow"`
	Metrics  *MetricsConfig  `yaml:"metrics" json:"metrics"`
}

// DefaultCacheHitPath is where cache hits are reported unless
// api.cache_hit_path says otherwise.
const DefaultCacheHitPath = "/api/jobs/cache-hit"

type APIConfig struct {
	BaseURL        string                `yaml:"base_url" json:"base_url" validate:"required,url"`
	Token          string                `yaml:"token" json:"token"`
	Timeout        time.Duration         `yaml:"timeout" json:"timeout" validate:"min=0"`
	UploadTimeout  time.Duration         `yaml:"upload_timeout" json:"upload_timeout" validate:"min=0"`
	Retries        int                   `yaml:"retries" json:"retries" validate:"min=0,max=10"`
	CacheHitPath   string                `yaml:"cache_hit_path" json:"cache_hit_path" validate:"omitempty,startswith=/"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold" validate:"min=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests" json:"half_open_requests" validate:"min=0"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Type          string        `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Fingerprint   string        `yaml:"fingerprint" json:"fingerprint" validate:"omitempty,oneof=content proxy"`
	MaxEntries    int           `yaml:"max_entries" json:"max_entries" validate:"min=0"`
	MaxBytes      int64         `yaml:"max_bytes" json:"max_bytes" validate:"min=0"`
	MaxAge        time.Duration `yaml:"max_age" json:"max_age" validate:"min=0"`
	SweepSchedule string        `yaml:"sweep_schedule" json:"sweep_schedule"`
	Config        interface{}   `yaml:"config" json:"config"`
}

type PollerConfig struct {
	ShortDelay     time.Duration `yaml:"short_delay" json:"short_delay" validate:"min=0"`
	MediumDelay    time.Duration `yaml:"medium_delay" json:"medium_delay" validate:"min=0"`
	LongDelay      time.Duration `yaml:"long_delay" json:"long_delay" validate:"min=0"`
	ShortAttempts  int           `yaml:"short_attempts" json:"short_attempts" validate:"min=0"`
	MediumAttempts int           `yaml:"medium_attempts" json:"medium_attempts" validate:"gtefield=ShortAttempts"`
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts" validate:"min=1"`
	MaxQueryErrors int           `yaml:"max_query_errors" json:"max_query_errors" validate:"min=0"`
}

type WorkflowConfig struct {
	InterFileDelay time.Duration `yaml:"inter_file_delay" json:"inter_file_delay" validate:"min=0"`
	RecordCacheHit bool          `yaml:"record_cache_hit" json:"record_cache_hit"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{}       `yaml:"config" json:"config"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
}
