package txscope

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

const (
	defaultMaxRetries    = 3
	defaultBackoffBase   = 100 * time.Millisecond
	defaultBackoffJitter = 100 * time.Millisecond
)

// Config controls the retry policy of root transactions.
type Config struct {
	// MaxRetries is the number of retries after the first attempt. Zero disables retries.
	MaxRetries int `env:"TXSCOPE_MAX_RETRIES"`
	// BackoffBase is multiplied by the retry number to get the minimum delay.
	BackoffBase time.Duration `env:"TXSCOPE_BACKOFF_BASE"`
	// BackoffJitter is the exclusive upper bound of the random delay added on top.
	BackoffJitter time.Duration `env:"TXSCOPE_BACKOFF_JITTER"`
	// RetryableParticipantErrors makes a retryable participant failure with
	// no database code, such as ErrConcurrencyConflict, veto the root commit
	// so the root is retried.
	RetryableParticipantErrors bool `env:"TXSCOPE_RETRYABLE_PARTICIPANT_ERRORS"`
	// StrictParticipantErrors makes every participant failure veto the root
	// commit, not only database-originated ones.
	StrictParticipantErrors bool `env:"TXSCOPE_STRICT_PARTICIPANT_ERRORS"`
}

// DefaultConfig returns three retries with 100ms*k + [0,100ms) backoff.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    defaultMaxRetries,
		BackoffBase:   defaultBackoffBase,
		BackoffJitter: defaultBackoffJitter,
	}
}

// ConfigFromEnv overlays TXSCOPE_* environment variables on DefaultConfig.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := SetConfigFromEnvVars(&cfg); err != nil {
		return Config{}, fmt.Errorf("load txscope config: %w", err)
	}

	cfg.normalize()

	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = defaultBackoffBase
	}

	if cfg.BackoffJitter < 0 {
		cfg.BackoffJitter = defaultBackoffJitter
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger. Nil loggers are ignored.
func WithLogger(logger log.Logger) Option {
	return func(c *Coordinator) {
		if !nilcheck.Interface(logger) {
			c.logger = logger
		}
	}
}

// WithClassifier replaces DefaultClassifier.
func WithClassifier(classifier Classifier) Option {
	return func(c *Coordinator) {
		if !nilcheck.Interface(classifier) {
			c.classifier = classifier
		}
	}
}

// WithConfig replaces the retry configuration.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(c *Coordinator) {
		if !nilcheck.Interface(provider) {
			c.meterProvider = provider
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *Coordinator) {
		if !nilcheck.Interface(provider) {
			c.tracerProvider = provider
		}
	}
}

// IsolationLevel is the isolation requested when beginning a transaction.
// The zero value leaves the choice to the driver.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

func (l IsolationLevel) String() string {
	switch l {
	case IsolationDefault:
		return "default"
	case IsolationReadUncommitted:
		return "read_uncommitted"
	case IsolationReadCommitted:
		return "read_committed"
	case IsolationRepeatableRead:
		return "repeatable_read"
	case IsolationSerializable:
		return "serializable"
	default:
		return fmt.Sprintf("isolation(%d)", int(l))
	}
}

// TxOptions is what a Driver receives when a root begins.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

type txConfig struct {
	independent bool
	tx          TxOptions
	maxRetries  *int
}

// TxOption configures a single Transaction call. Options other than
// Independent have no effect when the call joins an ambient transaction.
type TxOption func(*txConfig)

// Independent opens a new root even inside an ambient transaction. Its
// outcome does not depend on the outer transaction.
func Independent() TxOption {
	return func(o *txConfig) {
		o.independent = true
	}
}

// WithIsolationLevel requests an isolation level for a root.
func WithIsolationLevel(level IsolationLevel) TxOption {
	return func(o *txConfig) {
		o.tx.Isolation = level
	}
}

// ReadOnly begins the root as a read-only transaction.
func ReadOnly() TxOption {
	return func(o *txConfig) {
		o.tx.ReadOnly = true
	}
}

// WithMaxRetries overrides Config.MaxRetries for one root. Negative values are ignored.
func WithMaxRetries(n int) TxOption {
	return func(o *txConfig) {
		if n >= 0 {
			o.maxRetries = &n
		}
	}
}

func resolveTxOptions(opts []TxOption) txConfig {
	var o txConfig

	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return o
}
