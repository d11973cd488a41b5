package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

const (
	defaultSlowStatement     = 100 * time.Millisecond
	defaultVerySlowStatement = 500 * time.Millisecond
	defaultStatementTimeout  = 30 * time.Second
)

// Driver implements txscope.DirectDriver over a Source.
type Driver struct {
	source  Source
	dialect Dialect
	logger  log.Logger

	slowStatement     time.Duration
	verySlowStatement time.Duration
	statementTimeout  time.Duration
}

var _ txscope.DirectDriver = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithDialect sets the namespace dialect. A nil dialect disables namespaces.
func WithDialect(dialect Dialect) Option {
	return func(d *Driver) {
		d.dialect = dialect
	}
}

// WithLogger sets the logger used for statement timing.
func WithLogger(logger log.Logger) Option {
	return func(d *Driver) {
		if !nilcheck.Interface(logger) {
			d.logger = logger
		}
	}
}

// WithStatementThresholds sets the durations above which statements are
// logged at info and warn instead of debug.
func WithStatementThresholds(slow, verySlow time.Duration) Option {
	return func(d *Driver) {
		if slow > 0 {
			d.slowStatement = slow
		}

		if verySlow > 0 {
			d.verySlowStatement = verySlow
		}
	}
}

// WithStatementTimeout bounds every ExecContext on a handle and every
// Schema.Query and Schema.QueryRow, including the namespace switch before
// them. A query's timeout also covers draining its rows. Zero disables it.
// The default is 30s.
func WithStatementTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout >= 0 {
			d.statementTimeout = timeout
		}
	}
}

// NewDriver builds a Driver with the Postgres dialect by default.
func NewDriver(source Source, opts ...Option) (*Driver, error) {
	if nilcheck.Interface(source) {
		return nil, ErrSourceRequired
	}

	d := &Driver{
		source:            source,
		dialect:           Postgres{},
		logger:            log.NewNop(),
		slowStatement:     defaultSlowStatement,
		verySlowStatement: defaultVerySlowStatement,
		statementTimeout:  defaultStatementTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	d.logger = d.logger.With(log.String("component", "txscope.sqldb"))

	return d, nil
}

// Begin opens a *sql.Tx-backed handle.
func (d *Driver) Begin(ctx context.Context, opts txscope.TxOptions) (txscope.Handle, error) {
	tx, err := d.source.BeginTx(ctx, &sql.TxOptions{
		Isolation: isolationLevel(opts.Isolation),
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	return newTxHandle(tx, d), nil
}

// Direct pins a pooled connection for a non-transactional read.
func (d *Driver) Direct(ctx context.Context) (txscope.Handle, error) {
	conn, err := d.source.DirectConn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	return newConnHandle(conn, d), nil
}

func isolationLevel(level txscope.IsolationLevel) sql.IsolationLevel {
	switch level {
	case txscope.IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case txscope.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case txscope.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case txscope.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}
