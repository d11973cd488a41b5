package postgres

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultDatabaseName    = "postgres"
)

var (
	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
	dbNamePattern                      = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)
)

// Config describes the pools behind a Connection. ReplicaDSN defaults to
// PrimaryDSN when empty. A zero StatementTimeout keeps the sqldb default.
type Config struct {
	PrimaryDSN string `env:"TXSCOPE_POSTGRES_PRIMARY_DSN"`
	ReplicaDSN string `env:"TXSCOPE_POSTGRES_REPLICA_DSN"`
	// DatabaseName is recorded by golang-migrate alongside the schema version.
	DatabaseName         string        `env:"TXSCOPE_POSTGRES_DATABASE"`
	MaxOpenConnections   int           `env:"TXSCOPE_POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConnections   int           `env:"TXSCOPE_POSTGRES_MAX_IDLE_CONNS"`
	ConnMaxLifetime      time.Duration `env:"TXSCOPE_POSTGRES_CONN_MAX_LIFETIME"`
	ConnMaxIdleTime      time.Duration `env:"TXSCOPE_POSTGRES_CONN_MAX_IDLE_TIME"`
	StatementTimeout     time.Duration `env:"TXSCOPE_POSTGRES_STATEMENT_TIMEOUT"`
	AllowMultiStatements bool          `env:"TXSCOPE_POSTGRES_MIGRATIONS_MULTI_STATEMENT"`

	// Transactions configures the coordinator built by New.
	Transactions txscope.Config

	Logger log.Logger
}

// ConfigFromEnv loads Config from TXSCOPE_POSTGRES_* and TXSCOPE_* variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{}

	if err := txscope.SetConfigFromEnvVars(&cfg); err != nil {
		return Config{}, err
	}

	transactions, err := txscope.ConfigFromEnv()
	if err != nil {
		return Config{}, err
	}

	cfg.Transactions = transactions

	return cfg, nil
}

func (c Config) withDefaults() Config {
	if nilcheck.Interface(c.Logger) {
		c.Logger = log.NewNop()
	}

	if strings.TrimSpace(c.ReplicaDSN) == "" {
		c.ReplicaDSN = c.PrimaryDSN
	}

	if c.Transactions == (txscope.Config{}) {
		c.Transactions = txscope.DefaultConfig()
	}

	if c.DatabaseName == "" {
		c.DatabaseName = defaultDatabaseName
	}

	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = defaultMaxOpenConns
	}

	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = defaultMaxIdleConns
	}

	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}

	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = defaultConnMaxIdleTime
	}

	return c
}

func (c Config) validate() error {
	if strings.TrimSpace(c.PrimaryDSN) == "" {
		return fmt.Errorf("%w: primary dsn is required", ErrInvalidConfig)
	}

	if err := validateDSN(c.PrimaryDSN); err != nil {
		return err
	}

	if err := validateDSN(c.ReplicaDSN); err != nil {
		return err
	}

	return validateDBName(c.DatabaseName)
}

// validateDSN rejects URL-form DSNs with a scheme pgx cannot open. Key/value
// DSNs are left to the driver.
func validateDSN(dsn string) error {
	if !strings.Contains(dsn, "://") {
		return nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("%w: malformed dsn: %s", ErrInvalidConfig, sanitizeSensitiveString(err.Error()))
	}

	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("%w: unsupported dsn scheme %q", ErrInvalidConfig, parsed.Scheme)
	}

	return nil
}

func validateDBName(name string) error {
	if !dbNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidDatabaseName, name)
	}

	return nil
}

// warnInsecureDSN logs when a DSN disables TLS.
func warnInsecureDSN(ctx context.Context, logger log.Logger, dsn, role string) {
	if nilcheck.Interface(logger) {
		return
	}

	if strings.Contains(strings.ToLower(dsn), "sslmode=disable") {
		logger.Log(ctx, log.LevelWarn, "database connection has TLS disabled", log.String("role", role))
	}
}

func sanitizeSensitiveString(s string) string {
	sanitized := connectionStringCredentialsPattern.ReplaceAllString(s, "://***@")

	return connectionStringPasswordPattern.ReplaceAllString(sanitized, "${1}***")
}
