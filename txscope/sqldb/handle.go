package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

// session serializes statements on one transaction or pinned connection
// and tracks which namespace the server-side session is scoped to.
type session struct {
	id     string
	driver *Driver
	target Querier
	local  bool

	mu        sync.Mutex
	namespace string
	released  atomic.Bool
}

func newSession(target Querier, d *Driver, local bool) *session {
	return &session{
		id:     uuid.NewString(),
		driver: d,
		target: target,
		local:  local,
	}
}

// ID identifies the handle in statement logs.
func (s *session) ID() string {
	return s.id
}

// WithNamespace returns a querier whose statements run scoped to name.
func (s *session) WithNamespace(name string) Querier {
	return &scoped{session: s, namespace: name}
}

// ExecContext runs query outside any namespace.
func (s *session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.exec(ctx, "", query, args)
}

// QueryContext runs query outside any namespace.
func (s *session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.query(ctx, "", query, args)
}

// QueryRowContext runs query outside any namespace.
func (s *session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.queryRow(ctx, "", query, args)
}

// switchTo must be called with mu held.
func (s *session) switchTo(ctx context.Context, namespace string) error {
	if namespace == s.namespace {
		return nil
	}

	dialect := s.driver.dialect
	if dialect == nil {
		return txscope.ErrNamespaceUnsupported
	}

	stmt := dialect.ResetStatement(s.local)

	if namespace != "" {
		var err error

		stmt, err = dialect.ScopeStatement(namespace, s.local)
		if err != nil {
			return err
		}
	}

	started := time.Now()
	_, err := s.target.ExecContext(ctx, stmt)
	s.driver.observe(ctx, s.id, namespace, stmt, started, err)

	if err != nil {
		return fmt.Errorf("switch namespace to %q: %w", namespace, err)
	}

	s.namespace = namespace

	return nil
}

// withTimeout bounds one statement by the driver's statement timeout.
func (s *session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.driver.statementTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.driver.statementTimeout)
}

func (s *session) exec(ctx context.Context, namespace, query string, args []any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.switchTo(ctx, namespace); err != nil {
		return nil, err
	}

	started := time.Now()
	res, err := s.target.ExecContext(ctx, query, args...)
	s.driver.observe(ctx, s.id, namespace, query, started, err)

	return res, err
}

// scan runs query and hands the open rows to fn. The session stays locked
// and the statement timeout keeps running until the rows are closed, so no
// other participant reaches the connection while the result set streams.
// fn must not issue statements on the same handle.
func (s *session) scan(ctx context.Context, namespace, query string, args []any, fn func(rows *sql.Rows) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.switchTo(ctx, namespace); err != nil {
		return err
	}

	started := time.Now()
	rows, err := s.target.QueryContext(ctx, query, args...)
	s.driver.observe(ctx, s.id, namespace, query, started, err)

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

// query returns rows the caller must close before any sibling participant
// can safely use the handle. Schema.Query and Schema.QueryRow go through
// scan instead.
func (s *session) query(ctx context.Context, namespace, query string, args []any) (*sql.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.switchTo(ctx, namespace); err != nil {
		return nil, err
	}

	started := time.Now()
	rows, err := s.target.QueryContext(ctx, query, args...)
	s.driver.observe(ctx, s.id, namespace, query, started, err)

	return rows, err
}

// queryRow cannot report a failed namespace switch directly, so the
// statement is issued on a canceled context and never reaches the server.
// Schema.QueryRow returns the switch error itself.
func (s *session) queryRow(ctx context.Context, namespace, query string, args []any) *sql.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.switchTo(ctx, namespace); err != nil {
		s.driver.logger.Log(ctx, log.LevelError, "namespace switch failed", log.String("handle_id", s.id), log.Err(err))

		canceled, cancel := context.WithCancelCause(ctx)
		cancel(err)

		return s.target.QueryRowContext(canceled, query, args...)
	}

	started := time.Now()
	row := s.target.QueryRowContext(ctx, query, args...)
	s.driver.observe(ctx, s.id, namespace, query, started, row.Err())

	return row
}

type scoped struct {
	session   *session
	namespace string
}

func (q *scoped) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.session.exec(ctx, q.namespace, query, args)
}

func (q *scoped) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.session.query(ctx, q.namespace, query, args)
}

func (q *scoped) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return q.session.queryRow(ctx, q.namespace, query, args)
}

func (q *scoped) scanRows(ctx context.Context, fn func(rows *sql.Rows) error, query string, args ...any) error {
	return q.session.scan(ctx, q.namespace, query, args, fn)
}

func (s *session) scanRows(ctx context.Context, fn func(rows *sql.Rows) error, query string, args ...any) error {
	return s.scan(ctx, "", query, args, fn)
}

// txHandle is a root transaction handle. Namespace switches use
// transaction-local statements and vanish on commit or rollback.
type txHandle struct {
	*session
	tx Tx
}

var (
	_ txscope.Handle              = (*txHandle)(nil)
	_ txscope.Namespacer[Querier] = (*txHandle)(nil)
	_ Querier                     = (*txHandle)(nil)
	_ txscope.Handle              = (*connHandle)(nil)
	_ txscope.Namespacer[Querier] = (*connHandle)(nil)
)

func newTxHandle(tx Tx, d *Driver) *txHandle {
	return &txHandle{session: newSession(tx, d, true), tx: tx}
}

func (h *txHandle) Commit(_ context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrHandleReleased
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.tx.Commit()
}

func (h *txHandle) Rollback(_ context.Context, _ error) error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrHandleReleased
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}

	return nil
}

// connHandle is a direct-read handle over a pinned pooled connection.
// Namespace switches are session-wide and reset before release.
type connHandle struct {
	*session
	conn Conn
}

func newConnHandle(conn Conn, d *Driver) *connHandle {
	return &connHandle{session: newSession(conn, d, false), conn: conn}
}

// Commit releases the connection.
func (h *connHandle) Commit(ctx context.Context) error {
	return h.release(ctx)
}

// Rollback releases the connection.
func (h *connHandle) Rollback(ctx context.Context, _ error) error {
	return h.release(ctx)
}

func (h *connHandle) release(ctx context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrHandleReleased
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.namespace != "" {
		if err := h.switchTo(ctx, ""); err != nil {
			h.driver.logger.Log(ctx, log.LevelWarn, "discarding connection after failed namespace reset",
				log.String("handle_id", h.id), log.Err(err))

			_ = h.conn.Raw(func(any) error { return driver.ErrBadConn })

			return nil
		}
	}

	return h.conn.Close()
}
