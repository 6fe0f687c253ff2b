package blob

import (
	"context"
	"os"
	"strings"

	"restorationcore/internal/blob/core"
)

// Config selects and parameterises a blob driver.
type Config struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// ConfigFromEnv reads blob settings from the process environment:
//
//	RESTORATIONCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	RESTORATIONCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	RESTORATIONCORE_BLOB_S3_BUCKET, _REGION, _ENDPOINT, _PREFIX, _PATH_STYLE
//
// Credentials come from the standard AWS_* variables through the SDK chain.
func ConfigFromEnv() Config {
	return ApplyEnv(Config{})
}

// ApplyEnv overlays any RESTORATIONCORE_BLOB_* variables that are set onto cfg.
func ApplyEnv(cfg Config) Config {
	set := func(dst *string, name string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Driver, "RESTORATIONCORE_BLOB_DRIVER")
	set(&cfg.FSRoot, "RESTORATIONCORE_BLOB_FS_ROOT")
	set(&cfg.S3.Bucket, "RESTORATIONCORE_BLOB_S3_BUCKET")
	set(&cfg.S3.Region, "RESTORATIONCORE_BLOB_S3_REGION")
	set(&cfg.S3.Endpoint, "RESTORATIONCORE_BLOB_S3_ENDPOINT")
	set(&cfg.S3.Prefix, "RESTORATIONCORE_BLOB_S3_PREFIX")
	if v, ok := os.LookupEnv("RESTORATIONCORE_BLOB_S3_PATH_STYLE"); ok && v != "" {
		cfg.S3.PathStyle = strings.EqualFold(v, "true") || v == "1"
	}
	return cfg
}

// Open constructs the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver, err := core.ParseDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return NewFilesystem(cfg.FSRoot)
	}
}
