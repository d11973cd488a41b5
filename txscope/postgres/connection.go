package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/bxcodec/dbresolver/v2"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/sqldb"
	"github.com/LerianStudio/lib-txscope/txscope/sqlerr"
)

var (
	dbOpenFn = sql.Open

	createResolverFn = func(primary, replica *sql.DB, _ log.Logger) (_ dbresolver.DB, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("failed to create resolver: %v", recovered)
			}
		}()

		resolver := dbresolver.New(
			dbresolver.WithPrimaryDBs(primary),
			dbresolver.WithReplicaDBs(replica),
			dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
		)

		if resolver == nil {
			return nil, errors.New("resolver returned nil connection")
		}

		return resolver, nil
	}

	runMigrationsFn = runMigrations
)

// Connection owns a primary and a replica pool, the coordinator running
// transactions over them and the schema facades bound to that coordinator.
// Pools are opened on first use unless Connect is called explicitly.
type Connection struct {
	cfg Config

	mu       sync.RWMutex
	primary  *sql.DB
	replica  *sql.DB
	resolver dbresolver.DB
	closed   bool

	coordinator *txscope.Coordinator

	schemasMu sync.Mutex
	schemas   map[string]*sqldb.Schema
}

// New validates cfg and builds the coordinator. It does not open any
// connection. opts are applied to the coordinator after the defaults
// derived from cfg, so they can override the classifier or telemetry.
func New(cfg Config, opts ...txscope.Option) (*Connection, error) {
	cfg = cfg.withDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Connection{
		cfg:     cfg,
		schemas: make(map[string]*sqldb.Schema),
	}

	driverOpts := []sqldb.Option{sqldb.WithLogger(cfg.Logger)}
	if cfg.StatementTimeout > 0 {
		driverOpts = append(driverOpts, sqldb.WithStatementTimeout(cfg.StatementTimeout))
	}

	driver, err := sqldb.NewDriver(sqldb.FromResolver(c.Resolver), driverOpts...)
	if err != nil {
		return nil, err
	}

	coordinatorOpts := append([]txscope.Option{
		txscope.WithLogger(cfg.Logger),
		txscope.WithClassifier(sqlerr.Classifier{}),
		txscope.WithConfig(cfg.Transactions),
	}, opts...)

	c.coordinator, err = txscope.NewCoordinator(driver, coordinatorOpts...)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Connect opens both pools and pings them. A previous resolver is closed
// only after the new one is ready; on failure it stays in place.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		return ErrNilContext
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

// connectLocked must be called with mu held.
func (c *Connection) connectLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before database connection: %w", err)
	}

	logger := c.cfg.Logger

	warnInsecureDSN(ctx, logger, c.cfg.PrimaryDSN, "primary")
	warnInsecureDSN(ctx, logger, c.cfg.ReplicaDSN, "replica")

	primary, err := c.open(c.cfg.PrimaryDSN)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to open primary database", log.Err(err))
		return err
	}

	replica, err := c.open(c.cfg.ReplicaDSN)
	if err != nil {
		_ = primary.Close()

		logger.Log(ctx, log.LevelError, "failed to open replica database", log.Err(err))

		return err
	}

	resolver, err := createResolverFn(primary, replica, logger)
	if err != nil {
		_ = errors.Join(primary.Close(), replica.Close())

		logger.Log(ctx, log.LevelError, "failed to create resolver", log.Err(err))

		return fmt.Errorf("failed to create resolver: %w", err)
	}

	if err := resolver.PingContext(ctx); err != nil {
		_ = errors.Join(resolver.Close(), primary.Close(), replica.Close())

		sanitized := newSanitizedError("failed to ping database", err)
		logger.Log(ctx, log.LevelError, "failed to ping database", log.Err(sanitized))

		return sanitized
	}

	if c.resolver != nil {
		if err := c.closeLocked(); err != nil {
			logger.Log(ctx, log.LevelWarn, "failed to close previous connection", log.Err(err))
		}
	}

	c.primary = primary
	c.replica = replica
	c.resolver = resolver
	c.closed = false

	logger.Log(ctx, log.LevelInfo, "connected to postgres")

	return nil
}

func (c *Connection) open(dsn string) (*sql.DB, error) {
	db, err := dbOpenFn("pgx", dsn)
	if err != nil {
		return nil, newSanitizedError("failed to open database", err)
	}

	db.SetMaxOpenConns(c.cfg.MaxOpenConnections)
	db.SetMaxIdleConns(c.cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(c.cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.cfg.ConnMaxIdleTime)

	return db, nil
}

// Resolver returns the primary/replica resolver, connecting on first use.
// After Close it fails with ErrClosed until Connect is called again.
func (c *Connection) Resolver(ctx context.Context) (dbresolver.DB, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	if ctx == nil {
		return nil, ErrNilContext
	}

	c.mu.RLock()
	resolver, closed := c.resolver, c.closed
	c.mu.RUnlock()

	if resolver != nil {
		return resolver, nil
	}

	if closed {
		return nil, ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolver != nil {
		return c.resolver, nil
	}

	if c.closed {
		return nil, ErrClosed
	}

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	return c.resolver, nil
}

// Ping checks both pools, connecting on first use. It suits
// circuitbreaker.Recoverer as a probe.
func (c *Connection) Ping(ctx context.Context) error {
	resolver, err := c.Resolver(ctx)
	if err != nil {
		return err
	}

	if err := resolver.PingContext(ctx); err != nil {
		return newSanitizedError("failed to ping database", err)
	}

	return nil
}

// Primary returns the primary pool of an established connection.
func (c *Connection) Primary() (*sql.DB, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.primary == nil {
		return nil, ErrNotConnected
	}

	return c.primary, nil
}

// IsConnected reports whether the pools are open.
func (c *Connection) IsConnected() (bool, error) {
	if c == nil {
		return false, ErrNilConnection
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.resolver != nil, nil
}

// Coordinator returns the coordinator running transactions on this
// connection.
func (c *Connection) Coordinator() *txscope.Coordinator {
	if c == nil {
		return nil
	}

	return c.coordinator
}

// Schema returns the facade for the named schema, creating it on first use.
// Facades live as long as the Connection.
func (c *Connection) Schema(name string) (*sqldb.Schema, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	if err := sqldb.ValidateIdentifier(name); err != nil {
		return nil, err
	}

	c.schemasMu.Lock()
	defer c.schemasMu.Unlock()

	if schema, ok := c.schemas[name]; ok {
		return schema, nil
	}

	schema := sqldb.NewSchema(c.coordinator, name)
	c.schemas[name] = schema

	return schema, nil
}

// Schemas returns the names of the schemas handed out so far.
func (c *Connection) Schemas() []string {
	if c == nil {
		return nil
	}

	c.schemasMu.Lock()
	defer c.schemasMu.Unlock()

	names := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		names = append(names, name)
	}

	return names
}

// Close releases both pools. It is idempotent.
func (c *Connection) Close() error {
	if c == nil {
		return ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return c.closeLocked()
}

// closeLocked must be called with mu held.
func (c *Connection) closeLocked() error {
	var errs []error

	if c.resolver != nil {
		if err := c.resolver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close resolver: %w", err))
		}
	}

	if c.primary != nil {
		if err := c.primary.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close primary: %w", err))
		}
	}

	if c.replica != nil {
		if err := c.replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close replica: %w", err))
		}
	}

	c.resolver = nil
	c.primary = nil
	c.replica = nil

	return errors.Join(errs...)
}
