package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/LerianStudio/lib-txscope/txscope/sqldb"
)

const defaultSchema = "public"

type migration struct {
	path           string
	database       string
	schema         string
	multiStatement bool
}

// Migrate applies the migrations found under path to schema, creating the
// schema when it does not exist. Each schema keeps its own version table,
// so tenants sharing a database migrate independently.
func (c *Connection) Migrate(ctx context.Context, schema, path string) error {
	if c == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		return ErrNilContext
	}

	if schema == "" {
		schema = defaultSchema
	}

	if err := sqldb.ValidateIdentifier(schema); err != nil {
		return err
	}

	migrationsPath, err := sanitizePath(path)
	if err != nil {
		return err
	}

	if _, err := c.Resolver(ctx); err != nil {
		return err
	}

	primary, err := c.Primary()
	if err != nil {
		return err
	}

	return runMigrationsFn(ctx, primary, migration{
		path:           migrationsPath,
		database:       c.cfg.DatabaseName,
		schema:         schema,
		multiStatement: c.cfg.AllowMultiStatements,
	}, c.cfg.Logger.With(log.String("schema", schema)))
}

func runMigrations(ctx context.Context, db *sql.DB, m migration, logger log.Logger) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before migration: %w", err)
	}

	sourceURL, err := url.Parse(filepath.ToSlash(m.path))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMigrations, err)
	}

	sourceURL.Scheme = "file"

	conn, err := db.Conn(ctx)
	if err != nil {
		return newSanitizedError("failed to acquire migration connection", err)
	}

	scoped := false

	defer func() {
		if scoped {
			if _, resetErr := conn.ExecContext(context.WithoutCancel(ctx), "RESET search_path"); resetErr != nil {
				logger.Log(ctx, log.LevelWarn, "discarding migration connection after failed reset", log.Err(resetErr))
				_ = conn.Raw(func(any) error { return driver.ErrBadConn })

				return
			}
		}

		_ = conn.Close()
	}()

	if m.schema != defaultSchema {
		if _, err := conn.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+sqldb.QuoteIdentifier(m.schema)); err != nil {
			return fmt.Errorf("create schema %q: %w", m.schema, err)
		}

		stmt, err := sqldb.Postgres{}.ScopeStatement(m.schema, false)
		if err != nil {
			return err
		}

		scoped = true

		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("scope migration connection to %q: %w", m.schema, err)
		}
	}

	target, err := postgres.WithConnection(ctx, conn, &postgres.Config{
		DatabaseName:          m.database,
		SchemaName:            m.schema,
		MultiStatementEnabled: m.multiStatement,
	})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver instance: %w", err)
	}

	migrator, err := migrate.NewWithDatabaseInstance(sourceURL.String(), m.database, target)
	if err != nil {
		return classifyMigrationError(ctx, logger, err)
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			select {
			case migrator.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	if err := migrator.Up(); err != nil {
		return classifyMigrationError(ctx, logger, err)
	}

	logger.Log(ctx, log.LevelInfo, "migrations applied")

	return nil
}

// classifyMigrationError turns the benign outcomes of migrate.Up into nil.
func classifyMigrationError(ctx context.Context, logger log.Logger, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Log(ctx, log.LevelInfo, "no new migrations found")
		return nil
	}

	if errors.Is(err, os.ErrNotExist) {
		logger.Log(ctx, log.LevelWarn, "no migration files found, skipping")
		return nil
	}

	var dirty migrate.ErrDirty
	if errors.As(err, &dirty) {
		logger.Log(ctx, log.LevelError, "migration left a dirty version", log.Int("version", dirty.Version))
		return fmt.Errorf("%w: version %d", ErrMigrationDirty, dirty.Version)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("migration interrupted: %w", errors.Join(ctxErr, err))
	}

	logger.Log(ctx, log.LevelError, "migration failed", log.Err(err))

	return fmt.Errorf("migration failed: %w", err)
}

func sanitizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidMigrations)
	}

	cleaned := filepath.Clean(path)

	for _, part := range strings.Split(filepath.ToSlash(cleaned), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidMigrations, path)
		}
	}

	absPath, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidMigrations, err)
	}

	return absPath, nil
}
