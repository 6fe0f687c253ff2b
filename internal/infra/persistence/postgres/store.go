// Package postgres is the server durable backend: snapshot buckets are kept
// as JSONB rows through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"restorationcore/internal/infra/persistence/bucketsql"
	"restorationcore/internal/infra/persistence/memory"
	"restorationcore/pkg/domain"
)

const driverName = "pgx"

// DefaultDSN is used when no DSN is configured.
const DefaultDSN = "postgres://localhost/restorationcore?sslmode=disable"

var dialect = bucketsql.Dialect{
	CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	SelectAll: `SELECT bucket, payload FROM state`,
	Upsert:    `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
}

var (
	openMu  sync.Mutex
	sqlOpen = sql.Open
)

// Store is a bucketsql store over a Postgres database.
type Store struct {
	*bucketsql.Store
}

var _ domain.PersistentStore = (*Store)(nil)

// NewStore connects to dsn (DefaultDSN when empty), ensures the bucket table
// and hydrates the in-memory state.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	open := sqlOpen
	openMu.Unlock()
	db, err := open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
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
	return &Store{Store: store}, nil
}

// OverrideSQLOpen swaps the connection opener for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
