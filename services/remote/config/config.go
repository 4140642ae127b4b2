// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads aleutian-sync configuration.
//
// Values are layered: defaults, then the YAML file, then ALEUTIAN_SYNC_*
// environment variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSync/pkg/logging"
	"github.com/AleutianAI/AleutianSync/services/remote/diff"
	"github.com/AleutianAI/AleutianSync/services/remote/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ALEUTIAN_SYNC_"

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid config")

// Storage backends.
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
)

// ServerConfig configures an HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// PrimaryConfig locates the primary asset server.
type PrimaryConfig struct {
	URL               string        `yaml:"url" validate:"required,url"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
}

// StorageConfig selects the local asset store.
type StorageConfig struct {
	Backend        string        `yaml:"backend" validate:"oneof=memory badger"`
	Path           string        `yaml:"path" validate:"required_if=Backend badger"`
	SyncWrites     bool          `yaml:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// SyncConfig tunes asset synchronization and builds.
type SyncConfig struct {
	// MaxBatchSize splits large fetches. 0 means one request per batch.
	MaxBatchSize int `yaml:"max_batch_size" validate:"gte=0"`

	// BuildTimeout bounds each snapshot build. 0 means unbounded.
	BuildTimeout time.Duration `yaml:"build_timeout" validate:"gte=0"`
}

// IncrementalConfig controls incremental builds.
type IncrementalConfig struct {
	Enabled bool        `yaml:"enabled"`
	Policy  diff.Policy `yaml:"policy"`
}

// PublishConfig configures the primary-side directory publisher.
type PublishConfig struct {
	Root        string        `yaml:"root"`
	SolutionID  string        `yaml:"solution_id"`
	Includes    []string      `yaml:"includes"`
	Excludes    []string      `yaml:"excludes"`
	MaxFileSize int64         `yaml:"max_file_size" validate:"gte=0"`
	Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
	Watch       bool          `yaml:"watch"`
}

// Config is the complete aleutian-sync configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	AssetServer ServerConfig      `yaml:"asset_server"`
	Primary     PrimaryConfig     `yaml:"primary"`
	Storage     StorageConfig     `yaml:"storage"`
	Sync        SyncConfig        `yaml:"sync"`
	Incremental IncrementalConfig `yaml:"incremental"`
	Publish     PublishConfig     `yaml:"publish"`
	Logging     logging.Config    `yaml:"logging"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:      ServerConfig{Addr: ":9090", ShutdownTimeout: 15 * time.Second},
		AssetServer: ServerConfig{Addr: ":9091", ShutdownTimeout: 15 * time.Second},
		Primary: PrimaryConfig{
			URL:     "http://localhost:9091",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:        StorageMemory,
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Sync: SyncConfig{MaxBatchSize: 10000},
		Incremental: IncrementalConfig{
			Enabled: true,
			Policy:  diff.DefaultPolicy(),
		},
		Publish: PublishConfig{
			MaxFileSize: 1 << 20,
			Debounce:    500 * time.Millisecond,
			Watch:       true,
		},
		Logging:   logging.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads configuration with priority: env > file > defaults.
//
// Inputs:
//
//	path - YAML file. Empty or missing means defaults only.
//
// Outputs:
//
//	Config - Merged configuration.
//	error - Non-nil if the file is unreadable or malformed, an environment
//	        override cannot be parsed, or validation fails.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("load config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

type lookupFunc func(string) (string, bool)

// loadEnv applies ALEUTIAN_SYNC_* overrides. Unlike the YAML layer, a
// malformed value is an error.
func loadEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.setString("SERVER_ADDR", &cfg.Server.Addr)
	e.setString("ASSET_SERVER_ADDR", &cfg.AssetServer.Addr)

	e.setString("PRIMARY_URL", &cfg.Primary.URL)
	e.setDuration("PRIMARY_TIMEOUT", &cfg.Primary.Timeout)
	e.setFloat("PRIMARY_RPS", &cfg.Primary.RequestsPerSecond)
	e.setInt("PRIMARY_BURST", &cfg.Primary.Burst)

	e.setString("STORAGE_BACKEND", &cfg.Storage.Backend)
	e.setString("STORAGE_PATH", &cfg.Storage.Path)
	e.setBool("STORAGE_SYNC_WRITES", &cfg.Storage.SyncWrites)

	e.setInt("SYNC_MAX_BATCH_SIZE", &cfg.Sync.MaxBatchSize)
	e.setDuration("SYNC_BUILD_TIMEOUT", &cfg.Sync.BuildTimeout)

	e.setBool("INCREMENTAL_ENABLED", &cfg.Incremental.Enabled)
	e.setFloat("INCREMENTAL_MAX_CHANGE_RATIO", &cfg.Incremental.Policy.MaxChangeRatio)
	e.setInt("INCREMENTAL_MAX_CHANGED_DOCUMENTS", &cfg.Incremental.Policy.MaxChangedDocuments)
	e.setInt("INCREMENTAL_MAX_CHANGED_PROJECTS", &cfg.Incremental.Policy.MaxChangedProjects)

	e.setString("PUBLISH_ROOT", &cfg.Publish.Root)
	e.setString("PUBLISH_SOLUTION_ID", &cfg.Publish.SolutionID)
	e.setBool("PUBLISH_WATCH", &cfg.Publish.Watch)

	e.setString("LOG_LEVEL", &cfg.Logging.Level)
	e.setString("LOG_DIR", &cfg.Logging.LogDir)
	if v, ok := lookup(EnvPrefix + "LOG_FORMAT"); ok {
		cfg.Logging.Format = logging.Format(v)
	}

	e.setString("TRACE_EXPORTER", &cfg.Telemetry.TraceExporter)
	e.setString("METRIC_EXPORTER", &cfg.Telemetry.MetricExporter)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	return v, ok && v != ""
}

func (e *envReader) fail(name, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, v, err))
}

func (e *envReader) setString(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) setInt(name string, dst *int) {
	if v, ok := e.get(name); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = i
	}
}

func (e *envReader) setFloat(name string, dst *float64) {
	if v, ok := e.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
