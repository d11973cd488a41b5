package sqldb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/LerianStudio/lib-txscope/txscope"
)

// Schema issues statements in one namespace through a txscope.Manager.
// Statements inside a transaction run on the handle the enclosing work
// received; statements outside one open a single-statement root.
type Schema struct {
	scope *txscope.Scope[Querier]
}

// NewSchema binds name to m.
func NewSchema(m txscope.Manager, name string) *Schema {
	return &Schema{scope: txscope.NewScope[Querier](m, name)}
}

// Name returns the namespace.
func (s *Schema) Name() string {
	return s.scope.Name()
}

// Transaction runs fn in a transaction with a namespaced querier.
func (s *Schema) Transaction(ctx context.Context, fn func(ctx context.Context, q Querier) error, opts ...txscope.TxOption) error {
	return s.scope.Transaction(ctx, fn, opts...)
}

// Read runs fn in a read-only transaction, or joins the ambient one.
func (s *Schema) Read(ctx context.Context, fn func(ctx context.Context, q Querier) error, opts ...txscope.TxOption) error {
	return s.scope.Read(ctx, fn, opts...)
}

// ReadDirect runs fn on a pooled connection outside any transaction, or
// joins the ambient one.
func (s *Schema) ReadDirect(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	return s.scope.ReadDirect(ctx, fn)
}

// Exec runs a single statement.
func (s *Schema) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result

	err := s.scope.Do(ctx, func(ctx context.Context, q Querier) error {
		var err error

		result, err = q.ExecContext(ctx, query, args...)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// rowScanner is implemented by the queriers handles hand out. It keeps the
// handle to itself until the rows are closed.
type rowScanner interface {
	scanRows(ctx context.Context, fn func(rows *sql.Rows) error, query string, args ...any) error
}

// scanRows drains query through q. Queriers that are not handle queriers,
// such as a NoopManager's *sql.Tx, are drained directly.
func scanRows(ctx context.Context, q Querier, fn func(rows *sql.Rows) error, query string, args ...any) (err error) {
	if rs, ok := q.(rowScanner); ok {
		return rs.scanRows(ctx, fn, query, args...)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	if err := fn(rows); err != nil {
		return err
	}

	return rows.Err()
}

// Query runs query and calls scan once per row. Rows are closed before
// Query returns, so nothing outlives the statement's transaction. scan must
// not issue statements of its own.
func (s *Schema) Query(ctx context.Context, scan func(rows *sql.Rows) error, query string, args ...any) error {
	if scan == nil {
		return txscope.ErrWorkRequired
	}

	return s.scope.Do(ctx, func(ctx context.Context, q Querier) error {
		return scanRows(ctx, q, func(rows *sql.Rows) error {
			for rows.Next() {
				if err := scan(rows); err != nil {
					return err
				}
			}

			return nil
		}, query, args...)
	})
}

// QueryRow runs query and scans the first row into dest. It returns
// sql.ErrNoRows when the query yields nothing.
func (s *Schema) QueryRow(ctx context.Context, dest []any, query string, args ...any) error {
	return s.scope.Do(ctx, func(ctx context.Context, q Querier) error {
		return scanRows(ctx, q, func(rows *sql.Rows) error {
			if !rows.Next() {
				if err := rows.Err(); err != nil {
					return err
				}

				return sql.ErrNoRows
			}

			return rows.Scan(dest...)
		}, query, args...)
	})
}
