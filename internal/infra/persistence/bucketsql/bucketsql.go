// Package bucketsql makes the in-memory store durable by writing its snapshot
// buckets, one row each, into a SQL table after every committed transaction.
// The sqlite and postgres stores differ only in their Dialect.
package bucketsql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"restorationcore/internal/infra/persistence/memory"
	"restorationcore/pkg/domain"
)

// Dialect is the statement set for one SQL engine. Upsert takes the bucket
// name and the JSON payload as its two parameters.
type Dialect struct {
	CreateTable string
	SelectAll   string
	Upsert      string
}

// Table reads and writes snapshot buckets. Callers serialise Save.
type Table struct {
	db      *sql.DB
	dialect Dialect
}

// OpenTable ensures the bucket table exists.
func OpenTable(ctx context.Context, db *sql.DB, dialect Dialect) (*Table, error) {
	if _, err := db.ExecContext(ctx, dialect.CreateTable); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return &Table{db: db, dialect: dialect}, nil
}

// Load reads every stored bucket. found is false for an empty table.
func (t *Table) Load(ctx context.Context) (snapshot memory.Snapshot, found bool, err error) {
	rows, err := t.db.QueryContext(ctx, t.dialect.SelectAll)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		if err := snapshot.DecodeBucket(bucket, payload); err != nil {
			return memory.Snapshot{}, false, err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, found, nil
}

// Save writes all buckets of snapshot in a single SQL transaction.
func (t *Table) Save(ctx context.Context, snapshot memory.Snapshot) error {
	payloads, err := snapshot.EncodeBuckets()
	if err != nil {
		return err
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, bucket := range memory.BucketNames {
		if _, err := tx.ExecContext(ctx, t.dialect.Upsert, bucket, payloads[bucket]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Store runs transactions on an embedded memory store and saves the committed
// state to a Table. A failed save is reported to the caller, but the
// in-memory commit stands; the next successful save catches the table up.
type Store struct {
	*memory.Store
	table *Table
	// persistMu orders snapshot export and save so that an older export can
	// never overwrite a newer one.
	persistMu sync.Mutex
}

var _ domain.PersistentStore = (*Store)(nil)

// NewStore hydrates a memory store from table.
func NewStore(ctx context.Context, table *Table, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	snapshot, found, err := table.Load(ctx)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	if found {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, table: table}, nil
}

// RunInTransaction implements domain.PersistentStore.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	return s.table.Save(ctx, s.ExportState())
}

// DB exposes the database handle.
func (s *Store) DB() *sql.DB { return s.table.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.table.db.Close() }
