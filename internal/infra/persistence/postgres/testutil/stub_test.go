package testutil

import (
	"context"
	"errors"
	"testing"
)

const upsert = `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`

func TestStubDBCommitsAndRollsBack(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS state (bucket TEXT PRIMARY KEY, payload JSONB NOT NULL)"); err != nil {
		t.Fatalf("ddl: %v", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, "sites", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(conn.Buckets) != 0 {
		t.Fatalf("uncommitted upsert must not be visible, got %v", conn.Buckets)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, "sites", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT bucket, payload FROM state")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	var got []string
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, bucket+"="+string(payload))
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 1 || got[0] != `sites={"a":1}` {
		t.Fatalf("expected committed value only, got %v", got)
	}
}

func TestStubDBFailureSwitches(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()

	conn.FailPing = true
	if err := db.PingContext(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
	conn.FailPing = false

	conn.FailQuery = true
	if _, err := db.QueryContext(ctx, "SELECT bucket, payload FROM state"); err == nil {
		t.Fatalf("expected query failure")
	}
	conn.FailQuery = false

	conn.FailUpsert = "observations"
	if _, err := db.ExecContext(ctx, upsert, "sites", []byte("{}")); err != nil {
		t.Fatalf("unrelated bucket should succeed: %v", err)
	}
	if _, err := db.ExecContext(ctx, upsert, "observations", []byte("{}")); err == nil {
		t.Fatalf("expected upsert failure")
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM state"); err == nil {
		t.Fatalf("expected unsupported statement error")
	}

	conn.RowsErr = errors.New("network reset")
	rows, err := db.QueryContext(ctx, "SELECT bucket, payload FROM state")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for rows.Next() {
	}
	if !errors.Is(rows.Err(), conn.RowsErr) {
		t.Fatalf("expected rows error, got %v", rows.Err())
	}
	_ = rows.Close()
}
