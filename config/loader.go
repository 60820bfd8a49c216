package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/autoglean/types"
)

const DefaultBaseURL = "http://localhost:8001"

// Environment variables consulted after the YAML file. VITE_API_URL is kept
// so the same .env works for the web UI and the CLI.
var (
	BaseURLEnvVars = []string{"AUTOGLEAN_API_URL", "VITE_API_URL"}
	TokenEnvVar    = "AUTOGLEAN_TOKEN"
)

type Loader struct {
	validator *validator.Validate
	lookupEnv func(string) (string, bool)
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
		lookupEnv: os.LookupEnv,
	}
}

// LoadFromFile reads configPath over Defaults. An empty path yields the
// defaults plus environment overrides.
func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, error) {
	config := l.Defaults()

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, types.Errorf(types.ErrConfigNotFound, "file not found: %s", configPath)
		}

		readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		data, err := l.ReadFileWithTimeout(readCtx, configPath)
		if err != nil {
			return nil, types.Wrap(types.ErrConfigLoadFailed, err)
		}

		if err := l.Parse(data, config); err != nil {
			return nil, err
		}
	}

	l.applyEnv(config)

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Parse(data []byte, config *types.ServiceConfig) error {
	expanded := os.Expand(string(data), func(name string) string {
		value, _ := l.lookupEnv(name)
		return value
	})

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return types.Wrap(types.ErrConfigParseFailed, err)
	}

	return nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.Wrap(types.ErrConfigValidateFailed, err)
	}

	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) applyEnv(config *types.ServiceConfig) {
	for _, name := range BaseURLEnvVars {
		if value, ok := l.lookupEnv(name); ok && strings.TrimSpace(value) != "" {
			config.API.BaseURL = strings.TrimRight(strings.TrimSpace(value), "/")
			break
		}
	}

	if value, ok := l.lookupEnv(TokenEnvVar); ok && value != "" {
		config.API.Token = value
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "autoglean",
		Version: "1.0.0",
		API: &types.APIConfig{
			BaseURL:       DefaultBaseURL,
			Timeout:       30 * time.Second,
			UploadTimeout: 5 * time.Minute,
			Retries:       2,
			CacheHitPath:  types.DefaultCacheHitPath,
			CircuitBreaker: &types.CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Cache: &types.CacheConfig{
			Enabled:       true,
			Type:          "memory",
			Fingerprint:   "content",
			MaxEntries:    200,
			MaxBytes:      4 << 20,
			MaxAge:        7 * 24 * time.Hour,
			SweepSchedule: "@every 10m",
		},
		Poller: &types.PollerConfig{
			ShortDelay:     500 * time.Millisecond,
			MediumDelay:    time.Second,
			LongDelay:      2 * time.Second,
			ShortAttempts:  5,
			MediumAttempts: 15,
			MaxAttempts:    60,
			MaxQueryErrors: 3,
		},
		Workflow: &types.WorkflowConfig{
			InterFileDelay: 500 * time.Millisecond,
			RecordCacheHit: true,
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "prometheus",
		},
	}
}
