// Package config loads proforma settings from an optional YAML file and
// PROFORMA_* environment variables. Environment values win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/proforma/internal/ledger"
)

// Query backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendDuckDB = "duckdb"
)

type Config struct {
	Ledger  LedgerConfig  `yaml:"ledger"`
	Query   QueryConfig   `yaml:"query"`
	Storage StorageConfig `yaml:"storage"`
	Export  ExportConfig  `yaml:"export"`
	Log     LogConfig     `yaml:"log"`
	API     APIConfig     `yaml:"api"`
	Jobs    JobsConfig    `yaml:"jobs"`
}

type LedgerConfig struct {
	SkipZeros         bool    `yaml:"skip_zeros" env:"PROFORMA_LEDGER_SKIP_ZEROS"`
	ZeroEpsilon       float64 `yaml:"zero_epsilon" env:"PROFORMA_LEDGER_ZERO_EPSILON"`
	OptimizeThreshold int     `yaml:"optimize_threshold" env:"PROFORMA_LEDGER_OPTIMIZE_THRESHOLD"`
}

type QueryConfig struct {
	Backend string `yaml:"backend" env:"PROFORMA_QUERY_BACKEND"` // memory, sqlite or duckdb
	DSN     string `yaml:"dsn" env:"PROFORMA_QUERY_DSN"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path" env:"PROFORMA_SQLITE_PATH"`
}

type ExportConfig struct {
	BigQueryProject string `yaml:"bigquery_project" env:"PROFORMA_BIGQUERY_PROJECT"`
	BigQueryDataset string `yaml:"bigquery_dataset" env:"PROFORMA_BIGQUERY_DATASET"`
	BigQueryTable   string `yaml:"bigquery_table" env:"PROFORMA_BIGQUERY_TABLE"`
	GCSBucket       string `yaml:"gcs_bucket" env:"PROFORMA_GCS_BUCKET"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"PROFORMA_LOG_LEVEL"`
}

type APIConfig struct {
	Port string `yaml:"port" env:"PORT"`
}

type JobsConfig struct {
	Workers int `yaml:"workers" env:"PROFORMA_JOBS_WORKERS"`
	Buffer  int `yaml:"buffer" env:"PROFORMA_JOBS_BUFFER"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Ledger: LedgerConfig{
			SkipZeros:         true,
			ZeroEpsilon:       ledger.DefaultZeroEpsilon,
			OptimizeThreshold: ledger.DefaultOptimizeThreshold,
		},
		Query:   QueryConfig{Backend: BackendMemory},
		Storage: StorageConfig{SQLitePath: "proforma.db"},
		Export:  ExportConfig{BigQueryDataset: "proforma", BigQueryTable: "ledger_rows"},
		Log:     LogConfig{Level: "info"},
		API:     APIConfig{Port: "8080"},
		Jobs:    JobsConfig{Workers: 4, Buffer: 64},
	}
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load starts from Default, overlays the YAML file at path when path is not
// empty, then applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("Load: read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("Load: parse config file: %w", err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combined settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Query.Backend {
	case BackendMemory, BackendSQLite, BackendDuckDB:
	default:
		errs = append(errs, fmt.Errorf("query.backend: unknown backend %q", c.Query.Backend))
	}
	if c.Ledger.ZeroEpsilon < 0 {
		errs = append(errs, fmt.Errorf("ledger.zero_epsilon: must not be negative"))
	}
	if c.Ledger.OptimizeThreshold < 0 {
		errs = append(errs, fmt.Errorf("ledger.optimize_threshold: must not be negative"))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, fmt.Errorf("jobs.workers: must be at least 1"))
	}
	if c.Jobs.Buffer < 0 {
		errs = append(errs, fmt.Errorf("jobs.buffer: must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("Validate: %w", err)
	}
	return nil
}

// LedgerOptions maps the ledger section onto ledger.Options.
func (c Config) LedgerOptions() ledger.Options {
	opts := ledger.DefaultOptions()
	opts.SkipZeros = c.Ledger.SkipZeros
	opts.ZeroEpsilon = c.Ledger.ZeroEpsilon
	opts.OptimizeThreshold = c.Ledger.OptimizeThreshold
	return opts
}
