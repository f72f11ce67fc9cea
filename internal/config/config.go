// Package config defines process configuration and its layered loading.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Nested sections map to YAML maps and to env keys joined with "__".
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFile additionally writes logs to a rotating file when set.
	LogFile string `koanf:"log_file"`
	LogJSON bool   `koanf:"log_json"`

	// MetricsAddr serves /healthz and /report when set, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr"`

	// CatalogPath is the default catalog file; -catalog overrides it.
	CatalogPath string `koanf:"catalog_path"`

	Store     StoreConfig     `koanf:"store"`
	Redis     RedisConfig     `koanf:"redis"`
	Browser   BrowserConfig   `koanf:"browser"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Export    ExportConfig    `koanf:"export"`
	Normalize NormalizeConfig `koanf:"normalize"`

	// Makers maps manufacturer names to canonical maker identifiers.
	Makers map[string]string `koanf:"makers"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver       string `koanf:"driver"`
	DSN          string `koanf:"dsn"`
	SnapshotPath string `koanf:"snapshot_path"`
	Migrate      bool   `koanf:"migrate"`
	// CatalogFromDB reads the catalog from the catalog_entries table instead
	// of a file.
	CatalogFromDB bool `koanf:"catalog_from_db"`
}

// RedisConfig enables the shared claim lock. Empty Addr means an in-process lock.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
}

// BrowserConfig tunes the headless browser and the fetch policy.
type BrowserConfig struct {
	Bin             string        `koanf:"bin"`
	Headless        bool          `koanf:"headless"`
	BaseTimeout     time.Duration `koanf:"base_timeout"`
	ExtendedTimeout time.Duration `koanf:"extended_timeout"`
	SettleDelay     time.Duration `koanf:"settle_delay"`
	MinTextLength   int           `koanf:"min_text_length"`
}

// PipelineConfig tunes queue building and the workers.
type PipelineConfig struct {
	LiveFetch       bool          `koanf:"live_fetch"`
	Workers         int           `koanf:"workers"`
	ItemDelay       time.Duration `koanf:"item_delay"`
	RetryAttempts   int           `koanf:"retry_attempts"`
	RetryBackoff    time.Duration `koanf:"retry_backoff"`
	StalenessWindow time.Duration `koanf:"staleness_window"`
	RefreshCap      int           `koanf:"refresh_cap"`
	QueueSize       int           `koanf:"queue_size"`
}

// ExportConfig tunes the bulk export.
type ExportConfig struct {
	Dir                string `koanf:"dir"`
	Base               string `koanf:"base"`
	Threshold          int    `koanf:"threshold"`
	ChunkSize          int    `koanf:"chunk_size"`
	EmergencyChunkSize int    `koanf:"emergency_chunk_size"`
	Parallelism        int    `koanf:"parallelism"`
}

// NormalizeConfig tunes normalization.
type NormalizeConfig struct {
	DefaultCurrency string `koanf:"default_currency"`
}

// New creates a Config with defaults. The context is accepted first per the
// project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel: "info",
		Store: StoreConfig{
			Driver:       DriverMemory,
			SnapshotPath: "data/store.json",
			Migrate:      true,
		},
		Redis: RedisConfig{LockTTL: 2 * time.Minute},
		Browser: BrowserConfig{
			Headless:        true,
			BaseTimeout:     30 * time.Second,
			ExtendedTimeout: 60 * time.Second,
			SettleDelay:     2 * time.Second,
			MinTextLength:   200,
		},
		Pipeline: PipelineConfig{
			Workers:         1,
			ItemDelay:       time.Second,
			RetryAttempts:   3,
			RetryBackoff:    5 * time.Second,
			StalenessWindow: 7 * 24 * time.Hour,
			RefreshCap:      100,
			QueueSize:       1024,
		},
		Export: ExportConfig{
			Dir:                "exports",
			Base:               "bikes",
			Threshold:          1000,
			ChunkSize:          500,
			EmergencyChunkSize: 50,
			Parallelism:        4,
		},
		Normalize: NormalizeConfig{DefaultCurrency: "USD"},
		Makers:    map[string]string{},
	}
}

// Validate checks values that would make a run meaningless.
func (c *Config) Validate() error {
	var problems []string
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			problems = append(problems, "store.dsn is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of memory, postgres", c.Store.Driver))
	}
	if c.Store.CatalogFromDB && c.Store.Driver != DriverPostgres {
		problems = append(problems, "store.catalog_from_db needs the postgres driver")
	}
	if c.Pipeline.Workers < 1 {
		problems = append(problems, "pipeline.workers must be at least 1")
	}
	if c.Pipeline.RetryAttempts < 1 {
		problems = append(problems, "pipeline.retry_attempts must be at least 1")
	}
	if c.Pipeline.QueueSize < 1 {
		problems = append(problems, "pipeline.queue_size must be at least 1")
	}
	if c.Browser.BaseTimeout <= 0 || c.Browser.ExtendedTimeout < c.Browser.BaseTimeout {
		problems = append(problems, "browser timeouts must be positive with extended_timeout >= base_timeout")
	}
	if c.Export.ChunkSize < 1 || c.Export.EmergencyChunkSize < 1 || c.Export.EmergencyChunkSize > c.Export.ChunkSize {
		problems = append(problems, "export.emergency_chunk_size must be between 1 and export.chunk_size")
	}
	if c.Export.Threshold < 0 {
		problems = append(problems, "export.threshold must not be negative")
	}
	if len(c.Normalize.DefaultCurrency) != 3 {
		problems = append(problems, "normalize.default_currency must be a three-letter code")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
