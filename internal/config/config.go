// Package config assembles runtime settings for the restorationcore binaries.
//
// Values are layered: built-in defaults, then an optional YAML file, then an
// optional .env file, then the process environment. Later layers win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"restorationcore/internal/adapters/reports"
	"restorationcore/internal/blob"
	"restorationcore/internal/core"
)

const (
	// DefaultSQLitePath is used when the sqlite driver has no explicit path.
	DefaultSQLitePath = "restorationcore.db"
	// DefaultBlobRoot is used when the fs blob driver has no explicit root.
	DefaultBlobRoot = "./blobdata"
	// DefaultMetricsNamespace prefixes prometheus series.
	DefaultMetricsNamespace = "restorationcore"
)

// MetricsConfig selects the metrics exporters wired into the service.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	// Expvar publishes an expvar snapshot next to the prometheus collectors.
	Expvar bool `yaml:"expvar"`
}

// ExportConfig sets defaults for the results export worker.
type ExportConfig struct {
	Formats   []string `yaml:"formats"`
	KeyPrefix string   `yaml:"key_prefix"`
	QueueSize int      `yaml:"queue_size"`
}

// Config is the full runtime configuration.
type Config struct {
	LogLevel string             `yaml:"log_level"`
	Storage  core.StorageConfig `yaml:"storage"`
	Blob     blob.Config        `yaml:"blob"`
	Metrics  MetricsConfig      `yaml:"metrics"`
	Export   ExportConfig       `yaml:"export"`
}

// Default returns the configuration used when nothing is supplied.
func Default() Config {
	return Config{
		LogLevel: "info",
		Storage:  core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: DefaultSQLitePath},
		Blob:     blob.Config{Driver: string(blob.DriverFilesystem), FSRoot: DefaultBlobRoot},
		Metrics:  MetricsConfig{Namespace: DefaultMetricsNamespace},
		Export:   ExportConfig{Formats: []string{string(reports.FormatJSON), string(reports.FormatCSV)}, KeyPrefix: "exports"},
	}
}

// Load reads path (YAML, optional when empty) and a .env file in the working
// directory when one exists, then applies RESTORATIONCORE_* overrides.
func Load(path string) (Config, error) {
	return LoadFiles(path, ".env")
}

// LoadFiles is Load with an explicit .env location. A missing env file is
// ignored; a missing YAML file is an error only when path is non-empty.
func LoadFiles(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		// godotenv never overrides variables already present in the process.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	cfg = ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays the RESTORATIONCORE_* variables that are set and non-empty.
//
//	RESTORATIONCORE_LOG_LEVEL: debug|info|warn|error
//	RESTORATIONCORE_STORAGE_DRIVER, RESTORATIONCORE_SQLITE_PATH, RESTORATIONCORE_POSTGRES_DSN
//	RESTORATIONCORE_BLOB_*: see blob.ApplyEnv
//	RESTORATIONCORE_METRICS_NAMESPACE, RESTORATIONCORE_METRICS_EXPVAR
//	RESTORATIONCORE_EXPORT_FORMATS: comma separated, RESTORATIONCORE_EXPORT_PREFIX
func ApplyEnv(cfg Config) Config {
	set := func(dst *string, name string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	set(&cfg.LogLevel, "RESTORATIONCORE_LOG_LEVEL")

	env := core.StorageConfigFromEnv()
	if env.Driver != "" {
		cfg.Storage.Driver = core.StorageDriver(strings.ToLower(strings.TrimSpace(string(env.Driver))))
	}
	if env.SQLitePath != "" {
		cfg.Storage.SQLitePath = env.SQLitePath
	}
	if env.PostgresDSN != "" {
		cfg.Storage.PostgresDSN = env.PostgresDSN
	}

	cfg.Blob = blob.ApplyEnv(cfg.Blob)

	set(&cfg.Metrics.Namespace, "RESTORATIONCORE_METRICS_NAMESPACE")
	if v := os.Getenv("RESTORATIONCORE_METRICS_EXPVAR"); v != "" {
		cfg.Metrics.Expvar = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("RESTORATIONCORE_EXPORT_FORMATS"); strings.TrimSpace(v) != "" {
		var formats []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				formats = append(formats, part)
			}
		}
		cfg.Export.Formats = formats
	}
	set(&cfg.Export.KeyPrefix, "RESTORATIONCORE_EXPORT_PREFIX")
	return cfg
}

// Validate reports settings that cannot be used to open the backends.
func (c Config) Validate() error {
	var problems []string
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite, "":
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			problems = append(problems, "storage: postgres driver requires postgres_dsn")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage: unknown driver %q", c.Storage.Driver))
	}
	if driver, err := blob.ParseDriver(c.Blob.Driver); err != nil {
		problems = append(problems, "blob: "+err.Error())
	} else if driver == blob.DriverS3 && c.Blob.S3.Bucket == "" {
		problems = append(problems, "blob: s3 driver requires a bucket")
	}
	for _, f := range c.Export.Formats {
		if _, err := reports.ParseFormat(f); err != nil {
			problems = append(problems, "export: "+err.Error())
		}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ExportFormats returns the configured formats in parsed form.
func (c Config) ExportFormats() []reports.Format {
	out := make([]reports.Format, 0, len(c.Export.Formats))
	for _, f := range c.Export.Formats {
		if parsed, err := reports.ParseFormat(f); err == nil {
			out = append(out, parsed)
		}
	}
	return out
}

// SlogLevel maps LogLevel onto slog. Unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(raw) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
