package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"restorationcore/internal/adapters/reports"
	"restorationcore/internal/core"
)

// isolateEnv removes every RESTORATIONCORE_* variable for the duration of
// the test, including any a loaded .env file adds.
func isolateEnv(t *testing.T) {
	t.Helper()
	saved := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "RESTORATIONCORE_") {
			saved[key] = value
			_ = os.Unsetenv(key)
		}
	}
	t.Cleanup(func() {
		for _, kv := range os.Environ() {
			key, _, _ := strings.Cut(kv, "=")
			if strings.HasPrefix(key, "RESTORATIONCORE_") {
				_ = os.Unsetenv(key)
			}
		}
		for key, value := range saved {
			_ = os.Setenv(key, value)
		}
	})
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)
	cfg, err := LoadFiles("", filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StorageSQLite || cfg.Storage.SQLitePath != DefaultSQLitePath {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != "fs" || cfg.Blob.FSRoot != DefaultBlobRoot {
		t.Fatalf("unexpected blob defaults %+v", cfg.Blob)
	}
	if cfg.Metrics.Namespace != DefaultMetricsNamespace || cfg.Metrics.Expvar {
		t.Fatalf("unexpected metrics defaults %+v", cfg.Metrics)
	}
	formats := cfg.ExportFormats()
	if len(formats) != 2 || formats[0] != reports.FormatJSON || formats[1] != reports.FormatCSV {
		t.Fatalf("unexpected export formats %v", formats)
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Fatalf("expected info level, got %v", cfg.SlogLevel())
	}
}

func TestLoadLayersYAMLThenEnvironment(t *testing.T) {
	isolateEnv(t)
	path := writeFile(t, "restorationcore.yaml", `
log_level: debug
storage:
  driver: postgres
  postgres_dsn: postgres://file/restoration
blob:
  driver: s3
  s3:
    bucket: from-file
    region: eu-central-1
    path_style: true
metrics:
  namespace: field
  expvar: true
export:
  formats: [xlsx]
  key_prefix: reports
  queue_size: 8
`)
	t.Setenv("RESTORATIONCORE_POSTGRES_DSN", "postgres://env/restoration")
	t.Setenv("RESTORATIONCORE_BLOB_S3_BUCKET", "from-env")
	t.Setenv("RESTORATIONCORE_EXPORT_FORMATS", " csv , json ,")

	cfg, err := LoadFiles(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StoragePostgres || cfg.Storage.PostgresDSN != "postgres://env/restoration" {
		t.Fatalf("expected env dsn over file, got %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != "s3" || cfg.Blob.S3.Bucket != "from-env" || cfg.Blob.S3.Region != "eu-central-1" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("unexpected blob config %+v", cfg.Blob)
	}
	if cfg.Metrics.Namespace != "field" || !cfg.Metrics.Expvar {
		t.Fatalf("unexpected metrics %+v", cfg.Metrics)
	}
	if strings.Join(cfg.Export.Formats, ",") != "csv,json" || cfg.Export.KeyPrefix != "reports" || cfg.Export.QueueSize != 8 {
		t.Fatalf("unexpected export config %+v", cfg.Export)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.SlogLevel())
	}
}

func TestLoadDotEnvDoesNotOverrideProcess(t *testing.T) {
	isolateEnv(t)
	envFile := writeFile(t, ".env", strings.Join([]string{
		"RESTORATIONCORE_STORAGE_DRIVER=Memory",
		"RESTORATIONCORE_METRICS_NAMESPACE=dotenv",
		"RESTORATIONCORE_BLOB_DRIVER=memory",
	}, "\n"))
	if err := os.Setenv("RESTORATIONCORE_METRICS_NAMESPACE", "process"); err != nil {
		t.Fatalf("setenv: %v", err)
	}

	cfg, err := LoadFiles("", envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StorageMemory {
		t.Fatalf("expected driver from .env, got %q", cfg.Storage.Driver)
	}
	if cfg.Blob.Driver != "memory" {
		t.Fatalf("expected blob driver from .env, got %q", cfg.Blob.Driver)
	}
	if cfg.Metrics.Namespace != "process" {
		t.Fatalf("process environment must win over .env, got %q", cfg.Metrics.Namespace)
	}
}

func TestLoadErrors(t *testing.T) {
	isolateEnv(t)
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown storage", "storage:\n  driver: mongo\n", "unknown driver"},
		{"postgres without dsn", "storage:\n  driver: postgres\n", "requires postgres_dsn"},
		{"s3 without bucket", "blob:\n  driver: s3\n", "requires a bucket"},
		{"unknown blob driver", "blob:\n  driver: gcs\n", "unknown blob driver"},
		{"bad format", "export:\n  formats: [pdf]\n", "unsupported export format"},
		{"bad level", "log_level: loud\n", "log level"},
		{"malformed", "storage: [\n", "parse config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, "config.yaml", tc.yaml)
			if _, err := LoadFiles(path, ""); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	if _, err := LoadFiles(filepath.Join(t.TempDir(), "absent.yaml"), ""); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}
