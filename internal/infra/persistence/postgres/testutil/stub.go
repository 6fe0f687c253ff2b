// Package testutil provides an in-process database/sql driver that emulates
// the single state(bucket, payload) table the postgres store snapshots into.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// StubConn is the shared connection behind a stub sql.DB. Buckets holds the
// committed rows; upserts issued inside a transaction become visible on commit.
type StubConn struct {
	mu         sync.Mutex
	Statements []string
	Buckets    map[string][]byte

	FailPing   bool
	FailDDL    bool
	FailQuery  bool
	FailBegin  bool
	FailCommit bool
	// FailUpsert names a bucket whose upsert fails; "*" fails every upsert.
	FailUpsert string
	// RowsErr is returned after the last row of a query.
	RowsErr error

	pending map[string][]byte
	inTx    bool
}

// NewStubDB returns a sql.DB over a fresh stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Buckets: make(map[string][]byte)}
	return conn.OpenDB(), conn
}

// OpenDB returns another handle sharing this connection's table, as a
// reconnect to the same server would.
func (c *StubConn) OpenDB() *sql.DB {
	return sql.OpenDB(stubConnector{conn: c})
}

type stubConnector struct{ conn *StubConn }

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c stubConnector) Driver() driver.Driver                       { return stubDriver(c) }

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Statements run through ExecContext and
// QueryContext, so preparing is never required.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stubpg: prepared statements unsupported")
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("stubpg: connection refused")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, errors.New("stubpg: cannot begin")
	}
	c.inTx = true
	c.pending = make(map[string][]byte)
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, query)
	norm := strings.ToUpper(strings.Join(strings.Fields(query), " "))
	switch {
	case strings.HasPrefix(norm, "CREATE TABLE"):
		if c.FailDDL {
			return nil, errors.New("stubpg: ddl rejected")
		}
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(norm, "INSERT INTO STATE"):
		if len(args) != 2 {
			return nil, fmt.Errorf("stubpg: upsert wants 2 args, got %d", len(args))
		}
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("stubpg: bucket must be text, got %T", args[0].Value)
		}
		if c.FailUpsert == "*" || c.FailUpsert == bucket {
			return nil, fmt.Errorf("stubpg: upsert %s rejected", bucket)
		}
		payload, err := asBytes(args[1].Value)
		if err != nil {
			return nil, err
		}
		if c.inTx {
			c.pending[bucket] = payload
		} else {
			c.Buckets[bucket] = payload
		}
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("stubpg: unsupported statement %q", query)
	}
}

// QueryContext implements driver.QueryerContext. Only full scans of the state
// table are understood.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, query)
	norm := strings.ToUpper(strings.Join(strings.Fields(query), " "))
	if norm != "SELECT BUCKET, PAYLOAD FROM STATE" {
		return nil, fmt.Errorf("stubpg: unsupported query %q", query)
	}
	if c.FailQuery {
		return nil, errors.New("stubpg: relation state unavailable")
	}
	names := make([]string, 0, len(c.Buckets))
	for name := range c.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := &stubRows{err: c.RowsErr}
	for _, name := range names {
		rows.data = append(rows.data, []driver.Value{name, append([]byte(nil), c.Buckets[name]...)})
	}
	return rows, nil
}

func asBytes(v driver.Value) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return append([]byte(nil), p...), nil
	case string:
		return []byte(p), nil
	default:
		return nil, fmt.Errorf("stubpg: payload must be bytes, got %T", v)
	}
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.inTx, c.pending = false, nil
	if c.FailCommit {
		return errors.New("stubpg: commit aborted")
	}
	for bucket, payload := range pending {
		c.Buckets[bucket] = payload
	}
	return nil
}

func (t stubTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx, c.pending = false, nil
	return nil
}

type stubRows struct {
	data [][]driver.Value
	next int
	err  error
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.data) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.data[r.next])
	r.next++
	return nil
}
