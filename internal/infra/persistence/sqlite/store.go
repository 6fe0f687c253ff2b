// Package sqlite is the embedded durable backend: a pure-Go SQLite file
// holding one JSON row per snapshot bucket.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"restorationcore/internal/infra/persistence/bucketsql"
	"restorationcore/internal/infra/persistence/memory"
	"restorationcore/pkg/domain"
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "restorationcore.db"

var dialect = bucketsql.Dialect{
	CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
	SelectAll: `SELECT bucket, payload FROM state`,
	Upsert:    `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
}

// Store is a bucketsql store over a SQLite file.
type Store struct {
	*bucketsql.Store
	path string
}

var _ domain.PersistentStore = (*Store)(nil)

// NewStore opens (creating when needed) the database at path and hydrates
// the in-memory state from it.
func NewStore(path string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	table, err := bucketsql.OpenTable(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := bucketsql.NewStore(ctx, table, engine, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: store, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }
