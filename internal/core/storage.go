package core

import (
	"fmt"
	"os"

	"restorationcore/internal/infra/persistence/memory"
	"restorationcore/internal/infra/persistence/postgres"
	"restorationcore/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures a backend.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
}

// StorageConfigFromEnv reads the backend selection from the environment.
// Defaults to sqlite when unset.
//
//	RESTORATIONCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	RESTORATIONCORE_SQLITE_PATH: path to sqlite file (default ./restorationcore.db)
//	RESTORATIONCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func StorageConfigFromEnv() StorageConfig {
	return StorageConfig{
		Driver:      StorageDriver(os.Getenv("RESTORATIONCORE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("RESTORATIONCORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("RESTORATIONCORE_POSTGRES_DSN"),
	}
}

// OpenPersistentStore builds the configured backend around engine. A nil
// engine gets the default rule set.
func OpenPersistentStore(cfg StorageConfig, engine *RulesEngine, opts ...memory.Option) (PersistentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(cfg.PostgresDSN, engine, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
