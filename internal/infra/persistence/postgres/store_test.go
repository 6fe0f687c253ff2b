package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"restorationcore/internal/infra/persistence/postgres/testutil"
	"restorationcore/pkg/domain"
)

// openStub routes every NewStore call to a fresh handle over one stub
// connection, so a store that closes its handle on failure does not poison
// later opens.
func openStub(t *testing.T) *testutil.StubConn {
	t.Helper()
	_, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		if driver != "pgx" || dsn != DefaultDSN {
			t.Fatalf("unexpected open %s %s", driver, dsn)
		}
		return conn.OpenDB(), nil
	})
	t.Cleanup(restore)
	return conn
}

func createSite(name string) func(domain.Transaction) error {
	return func(tx domain.Transaction) error {
		_, err := tx.CreateSite(domain.PlantingSite{OrganizationID: "org", Name: name})
		return err
	}
}

func TestNewStoreEnsuresTableAndRoundTripsSnapshot(t *testing.T) {
	conn := openStub(t)
	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.DB() == nil {
		t.Fatalf("expected db handle")
	}
	var sawDDL bool
	for _, stmt := range conn.Statements {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.Statements)
	}

	var siteID string
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		site, err := tx.CreateSite(domain.PlantingSite{OrganizationID: "org", Name: "Valley"})
		siteID = site.ID
		return err
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
	if len(conn.Buckets["sites"]) == 0 {
		t.Fatalf("expected persisted sites bucket, got %v", conn.Buckets)
	}

	reopened, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	_ = reopened.View(context.Background(), func(view domain.TransactionView) error {
		if site, ok := view.FindSite(siteID); !ok || site.Name != "Valley" {
			t.Fatalf("expected hydrated site, got %+v", site)
		}
		return nil
	})
}

func TestNewStoreOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore()
	if _, err := NewStore("postgres://x", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewStoreConnectErrors(t *testing.T) {
	conn := openStub(t)

	conn.FailPing = true
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
	conn.FailPing = false

	conn.FailDDL = true
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "ensure state table") {
		t.Fatalf("expected ddl error, got %v", err)
	}
	conn.FailDDL = false

	conn.FailQuery = true
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "select state") {
		t.Fatalf("expected select error, got %v", err)
	}
	conn.FailQuery = false

	conn.RowsErr = errors.New("network reset")
	conn.Buckets["legacy"] = []byte(`{}`)
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "iterate state") {
		t.Fatalf("expected iteration error, got %v", err)
	}
}

func TestLoadSnapshotRejectsCorruptBucket(t *testing.T) {
	conn := openStub(t)
	conn.Buckets["sites"] = []byte("{not json")
	if _, err := NewStore("", nil); err == nil || !strings.Contains(err.Error(), "decode sites") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestRunInTransactionPersistErrors(t *testing.T) {
	conn := openStub(t)
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	conn.FailBegin = true
	if _, err := store.RunInTransaction(ctx, createSite("a")); err == nil || !strings.Contains(err.Error(), "begin tx") {
		t.Fatalf("expected begin error, got %v", err)
	}
	conn.FailBegin = false

	conn.FailCommit = true
	if _, err := store.RunInTransaction(ctx, createSite("b")); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
	if len(conn.Buckets) != 0 {
		t.Fatalf("aborted commit must not persist rows, got %v", conn.Buckets)
	}
	conn.FailCommit = false

	conn.FailUpsert = "*"
	if _, err := store.RunInTransaction(ctx, createSite("c")); err == nil || !strings.Contains(err.Error(), "upsert") {
		t.Fatalf("expected upsert error, got %v", err)
	}
	conn.FailUpsert = ""

	// The next good save catches the table up with every committed site.
	if _, err := store.RunInTransaction(ctx, createSite("d")); err != nil {
		t.Fatalf("recovery save: %v", err)
	}
	reopened, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	_ = reopened.View(ctx, func(view domain.TransactionView) error {
		if got := len(view.ListSites()); got != 4 {
			t.Fatalf("expected 4 sites after catch-up, got %d", got)
		}
		return nil
	})
}

func TestRunInTransactionStopsOnUserError(t *testing.T) {
	conn := openStub(t)
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer func() { _ = store.Close() }()
	before := len(conn.Statements)
	boom := errors.New("boom")
	if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected user error, got %v", err)
	}
	if len(conn.Statements) != before {
		t.Fatalf("expected no persistence after user error")
	}
}
