//go:build unit

package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bxcodec/dbresolver/v2"
)

// stubConnector backs a *sql.DB with an in-memory connection that records
// statements and fails those whose text appears in failOn.
type stubConnector struct {
	mu         sync.Mutex
	statements []string
	failOn     map[string]error
}

func newStubConnector() *stubConnector {
	return &stubConnector{failOn: make(map[string]error)}
}

func (s *stubConnector) record(stmt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statements = append(s.statements, stmt)

	return s.failOn[stmt]
}

func (s *stubConnector) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.statements...)
}

func (s *stubConnector) Connect(context.Context) (driver.Conn, error) { return &stubConn{s}, nil }
func (s *stubConnector) Driver() driver.Driver                         { return stubDriver{s} }

type stubDriver struct{ c *stubConnector }

func (d stubDriver) Open(string) (driver.Conn, error) { return &stubConn{d.c}, nil }

type stubConn struct{ c *stubConnector }

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *stubConn) Close() error                        { return nil }

func (c *stubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *stubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if err := c.c.record("BEGIN"); err != nil {
		return nil, err
	}

	return stubTx{c.c}, nil
}

func (c *stubConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if err := c.c.record(query); err != nil {
		return nil, err
	}

	return driver.RowsAffected(1), nil
}

type stubTx struct{ c *stubConnector }

func (tx stubTx) Commit() error   { return tx.c.record("COMMIT") }
func (tx stubTx) Rollback() error { return tx.c.record("ROLLBACK") }

// fakeResolver satisfies dbresolver.DB without any pool behind it.
type fakeResolver struct {
	pingErr   error
	closeErr  error
	pingCtx   context.Context
	closeCall atomic.Int32
}

func (f *fakeResolver) Begin() (dbresolver.Tx, error) { return nil, nil }

func (f *fakeResolver) BeginTx(context.Context, *sql.TxOptions) (dbresolver.Tx, error) {
	return nil, errors.New("fake resolver cannot begin")
}

func (f *fakeResolver) Close() error {
	f.closeCall.Add(1)

	return f.closeErr
}

func (f *fakeResolver) Conn(context.Context) (dbresolver.Conn, error) { return nil, nil }

func (f *fakeResolver) Driver() driver.Driver { return nil }

func (f *fakeResolver) Exec(string, ...interface{}) (sql.Result, error) { return nil, nil }

func (f *fakeResolver) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (f *fakeResolver) Ping() error { return nil }

func (f *fakeResolver) PingContext(ctx context.Context) error {
	f.pingCtx = ctx

	return f.pingErr
}

func (f *fakeResolver) Prepare(string) (dbresolver.Stmt, error) { return nil, nil }

func (f *fakeResolver) PrepareContext(context.Context, string) (dbresolver.Stmt, error) {
	return nil, nil
}

func (f *fakeResolver) Query(string, ...interface{}) (*sql.Rows, error) { return nil, nil }

func (f *fakeResolver) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (f *fakeResolver) QueryRow(string, ...interface{}) *sql.Row { return &sql.Row{} }

func (f *fakeResolver) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return &sql.Row{}
}

func (f *fakeResolver) SetConnMaxIdleTime(time.Duration) {}

func (f *fakeResolver) SetConnMaxLifetime(time.Duration) {}

func (f *fakeResolver) SetMaxIdleConns(int) {}

func (f *fakeResolver) SetMaxOpenConns(int) {}

func (f *fakeResolver) PrimaryDBs() []*sql.DB { return nil }

func (f *fakeResolver) ReplicaDBs() []*sql.DB { return nil }

func (f *fakeResolver) Stats() sql.DBStats { return sql.DBStats{} }
