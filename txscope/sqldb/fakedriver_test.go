//go:build unit

package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// errConnBusy mirrors pgx refusing a statement while a result set is still
// open on the connection.
var errConnBusy = errors.New("conn busy")

// recorder is a database/sql driver that records every statement it sees
// and answers queries with a fixed single-column result set.
type recorder struct {
	mu         sync.Mutex
	statements []string
	failOn     map[string]error
	blockOn    map[string]struct{}
	rows       []int64
	opened     atomic.Int32
	closed     atomic.Int32
}

func newRecorder() *recorder {
	return &recorder{failOn: make(map[string]error), blockOn: make(map[string]struct{})}
}

// block makes statements starting with prefix wait until their context ends.
func (r *recorder) block(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blockOn[prefix] = struct{}{}
}

func (r *recorder) blocks(stmt string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for prefix := range r.blockOn {
		if strings.HasPrefix(stmt, prefix) {
			return true
		}
	}

	return false
}

func (r *recorder) record(stmt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statements = append(r.statements, stmt)

	for prefix, err := range r.failOn {
		if strings.HasPrefix(stmt, prefix) {
			return err
		}
	}

	return nil
}

func (r *recorder) log() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.statements...)
}

func (r *recorder) fail(prefix string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failOn[prefix] = err
}

func (r *recorder) Connect(context.Context) (driver.Conn, error) {
	r.opened.Add(1)
	return &fakeConn{rec: r}, nil
}

func (r *recorder) Driver() driver.Driver { return fakeDriverShim{r} }

func (r *recorder) openDB(t *testing.T) *sql.DB {
	t.Helper()

	db := sql.OpenDB(r)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

type fakeDriverShim struct{ rec *recorder }

func (d fakeDriverShim) Open(string) (driver.Conn, error) { return d.rec.Connect(context.Background()) }

type fakeConn struct {
	rec      *recorder
	openRows atomic.Int32
}

// statement records query unless a result set is still open or the
// statement is blocked, in which case it waits for ctx.
func (c *fakeConn) statement(ctx context.Context, query string) error {
	if c.openRows.Load() > 0 {
		_ = c.rec.record("BUSY " + query)
		return errConnBusy
	}

	if c.rec.blocks(query) {
		_ = c.rec.record(query)
		<-ctx.Done()

		return ctx.Err()
	}

	return c.rec.record(query)
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Close() error {
	c.rec.closed.Add(1)
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	stmt := "BEGIN"
	if opts.ReadOnly {
		stmt += " READ ONLY"
	}

	if sql.IsolationLevel(opts.Isolation) == sql.LevelSerializable {
		stmt += " SERIALIZABLE"
	}

	if err := c.rec.record(stmt); err != nil {
		return nil, err
	}

	return fakeTx{rec: c.rec}, nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if err := c.statement(ctx, query); err != nil {
		return nil, err
	}

	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if err := c.statement(ctx, query); err != nil {
		return nil, err
	}

	c.rec.mu.Lock()
	values := append([]int64(nil), c.rec.rows...)
	c.rec.mu.Unlock()

	c.openRows.Add(1)

	return &fakeRows{conn: c, values: values}, nil
}

type fakeTx struct {
	rec *recorder
}

func (tx fakeTx) Commit() error   { return tx.rec.record("COMMIT") }
func (tx fakeTx) Rollback() error { return tx.rec.record("ROLLBACK") }

type fakeRows struct {
	conn   *fakeConn
	values []int64
	pos    int
	closed bool
}

func (r *fakeRows) Columns() []string { return []string{"value"} }

func (r *fakeRows) Close() error {
	if !r.closed {
		r.closed = true
		r.conn.openRows.Add(-1)
	}

	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.values) {
		return io.EOF
	}

	dest[0] = r.values[r.pos]
	r.pos++

	return nil
}
