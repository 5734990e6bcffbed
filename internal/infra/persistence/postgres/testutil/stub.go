// Package testutil provides a stub database/sql driver that understands the
// handful of statements the postgres store issues against its state table.
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
	"sync/atomic"
)

var stubSeq atomic.Int64

// StubConn keeps the state table in memory. Writes made inside a transaction
// become visible on commit only.
type StubConn struct {
	mu      sync.Mutex
	Execs   []string
	Rows    map[string][]byte
	pending map[string][]byte
	inTx    bool

	FailPing   bool
	FailBegin  bool
	FailExec   bool
	FailQuery  bool
	FailCommit bool
}

// NewStubDB registers a fresh stub driver and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Rows: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Opener returns a function with sql.Open's signature that always yields db.
func Opener(db *sql.DB) func(string, string) (*sql.DB, error) {
	return func(string, string) (*sql.DB, error) { return db, nil }
}

// Buckets returns the committed bucket names, sorted.
func (c *StubConn) Buckets() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.Rows))
	for k := range c.Rows {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stub: prepare not supported")
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
		return errors.New("stub: ping failed")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("stub: begin failed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = true
	c.pending = make(map[string][]byte)
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, normalize(query))
	if c.FailExec {
		return nil, errors.New("stub: exec failed")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO STATE"):
		if len(args) != 2 {
			return nil, fmt.Errorf("stub: upsert expects 2 args, got %d", len(args))
		}
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("stub: bucket must be a string, got %T", args[0].Value)
		}
		payload, err := asBytes(args[1].Value)
		if err != nil {
			return nil, err
		}
		if c.inTx {
			c.pending[bucket] = payload
		} else {
			c.Rows[bucket] = payload
		}
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("stub: unsupported statement %q", query)
	}
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, errors.New("stub: query failed")
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT BUCKET, PAYLOAD FROM STATE") {
		return nil, fmt.Errorf("stub: unsupported query %q", query)
	}
	keys := make([]string, 0, len(c.Rows))
	for k := range c.Rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := &stubRows{}
	for _, k := range keys {
		rows.values = append(rows.values, []driver.Value{k, append([]byte(nil), c.Rows[k]...)})
	}
	return rows, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = false
	if c.FailCommit {
		c.pending = nil
		return errors.New("stub: commit failed")
	}
	for k, v := range c.pending {
		c.Rows[k] = v
	}
	c.pending = nil
	return nil
}

func (t *stubTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = false
	c.pending = nil
	return nil
}

type stubRows struct {
	values [][]driver.Value
	idx    int
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func asBytes(v driver.Value) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return append([]byte(nil), val...), nil
	case string:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("stub: payload must be bytes, got %T", v)
	}
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
