// Package config carries the SDK configuration: processor mode, disk root,
// credentials and pipeline tuning. Values come from code, from a YAML/JSON
// file, or from NEPTUNE_* environment variables, in that order of override.
package config

import (
	"errors"
	"time"

	"github.com/fluxorio/runlog/pkg/core"
)

// EnvPrefix is the environment namespace for overrides.
const EnvPrefix = "NEPTUNE"

// Connection modes.
const (
	ModeAsync   = "async"
	ModeSync    = "sync"
	ModeOffline = "offline"
)

// Config is the full pipeline configuration.
type Config struct {
	// Mode selects the processor variant: async, sync or offline.
	Mode string `yaml:"mode" json:"mode" env:"MODE"`

	// DataDirectory is the on-disk root; empty resolves NEPTUNE_DATA_DIRECTORY
	// and then ./.neptune.
	DataDirectory string `yaml:"dataDirectory" json:"dataDirectory" env:"DATA_DIRECTORY"`

	// APIToken is the opaque backend credential.
	APIToken string `yaml:"apiToken" json:"apiToken" env:"API_TOKEN"`

	// Project names the project operations are attributed to.
	Project string `yaml:"project" json:"project" env:"PROJECT"`

	// BackendURL is the HTTP backend endpoint, used when no Backend value is
	// injected directly.
	BackendURL string `yaml:"backendUrl" json:"backendUrl" env:"BACKEND_URL"`

	// FlushPeriod is the async consumer's idle wakeup interval.
	FlushPeriod time.Duration `yaml:"flushPeriod" json:"flushPeriod" env:"FLUSH_PERIOD"`

	// StopTimeout bounds the drain on stop.
	StopTimeout time.Duration `yaml:"stopTimeout" json:"stopTimeout" env:"STOP_TIMEOUT"`

	// MaxBatchCount bounds operations per backend call.
	MaxBatchCount int `yaml:"maxBatchCount" json:"maxBatchCount" env:"MAX_BATCH_COUNT"`

	// MaxBatchBytes bounds serialized bytes per backend call.
	MaxBatchBytes int64 `yaml:"maxBatchBytes" json:"maxBatchBytes" env:"MAX_BATCH_BYTES"`

	// MaxSegmentBytes bounds queue segment size.
	MaxSegmentBytes int64 `yaml:"maxSegmentBytes" json:"maxSegmentBytes" env:"MAX_SEGMENT_BYTES"`

	// MaxQueueBytes is the backlog threshold past which the hot path warns.
	MaxQueueBytes int64 `yaml:"maxQueueBytes" json:"maxQueueBytes" env:"MAX_QUEUE_BYTES"`

	// BackoffBase is the first retry delay after a transient failure.
	BackoffBase time.Duration `yaml:"backoffBase" json:"backoffBase" env:"BACKOFF_BASE"`

	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration `yaml:"maxBackoff" json:"maxBackoff" env:"MAX_BACKOFF"`

	// MaxIOFailures is the number of consecutive queue I/O failures the
	// async consumer tolerates before stopping with an error status.
	MaxIOFailures int `yaml:"maxIoFailures" json:"maxIoFailures" env:"MAX_IO_FAILURES"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Mode:            ModeAsync,
		FlushPeriod:     5 * time.Second,
		StopTimeout:     60 * time.Second,
		MaxBatchCount:   1000,
		MaxBatchBytes:   16 << 20,
		MaxSegmentBytes: 64 << 20,
		MaxQueueBytes:   5 << 30,
		BackoffBase:     time.Second,
		MaxBackoff:      60 * time.Second,
		MaxIOFailures:   3,
	}
}

// FromEnv builds the default configuration with environment overrides applied.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := ApplyEnvOverrides(EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile loads a YAML or JSON file over the defaults, then applies
// environment overrides and validates.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := LoadWithEnv(path, EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the mode enum and tuning bounds.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAsync, ModeSync, ModeOffline:
	default:
		return core.Errorc("CONFIG", `connection mode should be one of ["async", "sync", "offline"], got %q`, c.Mode)
	}
	if c.FlushPeriod < 0 || c.StopTimeout < 0 || c.BackoffBase < 0 || c.MaxBackoff < 0 {
		return core.Errorc("CONFIG", "durations must not be negative")
	}
	if c.MaxBatchCount < 0 || c.MaxBatchBytes < 0 || c.MaxSegmentBytes < 0 ||
		c.MaxQueueBytes < 0 || c.MaxIOFailures < 0 {
		return core.Errorc("CONFIG", "limits must not be negative")
	}
	return nil
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool {
	var e *core.Error
	return errors.As(err, &e) && e.Code == "CONFIG"
}
