package sqldb

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/bxcodec/dbresolver/v2"
)

// Querier is the statement surface handed to work. *sql.Tx, *sql.Conn and
// *sql.DB satisfy it, as do the queriers returned by handles.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a physical transaction. *sql.Tx and dbresolver.Tx satisfy it.
type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// Conn is a pooled connection pinned for a direct read. *sql.Conn satisfies it.
type Conn interface {
	Querier
	Raw(f func(driverConn any) error) error
	Close() error
}

// Source begins transactions and pins connections.
type Source interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
	DirectConn(ctx context.Context) (Conn, error)
}

// FromDB uses a single *sql.DB for both transactions and direct reads.
func FromDB(db *sql.DB) Source {
	return dbSource{db: db}
}

type dbSource struct {
	db *sql.DB
}

func (s dbSource) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	if s.db == nil {
		return nil, ErrSourceRequired
	}

	return s.db.BeginTx(ctx, opts)
}

func (s dbSource) DirectConn(ctx context.Context) (Conn, error) {
	if s.db == nil {
		return nil, ErrSourceRequired
	}

	return s.db.Conn(ctx)
}

// FromResolver begins transactions on the resolver's primary and pins
// direct-read connections on its replicas in round-robin order, falling
// back to the primary when no replica is configured. resolve is called per
// operation so lazily connected pools work.
func FromResolver(resolve func(ctx context.Context) (dbresolver.DB, error)) Source {
	return &resolverSource{resolve: resolve}
}

type resolverSource struct {
	resolve func(ctx context.Context) (dbresolver.DB, error)
	next    atomic.Uint64
}

func (s *resolverSource) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	if s.resolve == nil {
		return nil, ErrSourceRequired
	}

	db, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	return db.BeginTx(ctx, opts)
}

func (s *resolverSource) DirectConn(ctx context.Context) (Conn, error) {
	if s.resolve == nil {
		return nil, ErrSourceRequired
	}

	db, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	pool := db.ReplicaDBs()
	if len(pool) == 0 {
		pool = db.PrimaryDBs()
	}

	if len(pool) == 0 {
		return nil, ErrNoReplica
	}

	target := pool[int(s.next.Add(1)-1)%len(pool)]
	if target == nil {
		return nil, ErrNoReplica
	}

	return target.Conn(ctx)
}
