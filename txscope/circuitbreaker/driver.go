package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

const defaultName = "database"

var (
	// ErrCircuitOpen is returned instead of calling the wrapped driver while
	// the breaker is open.
	ErrCircuitOpen = errors.New("circuitbreaker: circuit open")
	// ErrTooManyProbes is returned while half-open once MaxRequests probes
	// are in flight.
	ErrTooManyProbes = errors.New("circuitbreaker: too many requests while half-open")
)

// Driver decorates a txscope.Driver so Begin and Direct go through a
// circuit breaker. Commit and rollback are not guarded: a handle that was
// acquired is always released.
type Driver struct {
	next   txscope.Driver
	name   string
	cfg    Config
	logger log.Logger

	isFailure func(error) bool

	mu        sync.RWMutex
	breaker   *gobreaker.CircuitBreaker
	listeners []StateChangeListener
}

var _ txscope.DirectDriver = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithName names the breaker in logs and state change notifications.
func WithName(name string) Option {
	return func(d *Driver) {
		if name != "" {
			d.name = name
		}
	}
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(d *Driver) {
		d.cfg = cfg
	}
}

// WithLogger sets the logger. Nil loggers are ignored.
func WithLogger(logger log.Logger) Option {
	return func(d *Driver) {
		if !nilcheck.Interface(logger) {
			d.logger = logger
		}
	}
}

// WithStateChangeListener registers a listener at construction time.
func WithStateChangeListener(listener StateChangeListener) Option {
	return func(d *Driver) {
		if !nilcheck.Interface(listener) {
			d.listeners = append(d.listeners, listener)
		}
	}
}

// WithFailurePredicate decides which acquisition errors count against the
// breaker. By default every error counts except cancellation by the caller.
func WithFailurePredicate(isFailure func(error) bool) Option {
	return func(d *Driver) {
		if isFailure != nil {
			d.isFailure = isFailure
		}
	}
}

// NewDriver wraps next.
func NewDriver(next txscope.Driver, opts ...Option) (*Driver, error) {
	if nilcheck.Interface(next) {
		return nil, txscope.ErrDriverRequired
	}

	d := &Driver{
		next:      next,
		name:      defaultName,
		cfg:       DefaultConfig(),
		logger:    log.NewNop(),
		isFailure: countsAsFailure,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	d.logger = d.logger.With(log.String("component", "txscope.circuitbreaker"), log.String("breaker", d.name))
	d.breaker = d.newBreaker()

	d.logger.Log(context.Background(), log.LevelDebug, "created circuit breaker")

	return d, nil
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (d *Driver) newBreaker() *gobreaker.CircuitBreaker {
	cfg := d.cfg

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        d.name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.readyToTrip(countsView{
				Requests:            counts.Requests,
				TotalFailures:       counts.TotalFailures,
				ConsecutiveFailures: counts.ConsecutiveFailures,
			})
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			d.handleStateChange(from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !d.isFailure(err)
		},
	})
}

// Begin acquires a transaction handle through the breaker.
func (d *Driver) Begin(ctx context.Context, opts txscope.TxOptions) (txscope.Handle, error) {
	return d.acquire(ctx, func() (txscope.Handle, error) {
		return d.next.Begin(ctx, opts)
	})
}

// Direct acquires a direct-read handle through the breaker. It fails with
// txscope.ErrDirectReadUnsupported when the wrapped driver has no direct
// mode.
func (d *Driver) Direct(ctx context.Context) (txscope.Handle, error) {
	direct, ok := d.next.(txscope.DirectDriver)
	if !ok {
		return nil, txscope.ErrDirectReadUnsupported
	}

	return d.acquire(ctx, func() (txscope.Handle, error) {
		return direct.Direct(ctx)
	})
}

func (d *Driver) acquire(ctx context.Context, fn func() (txscope.Handle, error)) (txscope.Handle, error) {
	result, err := d.current().Execute(func() (any, error) {
		return fn()
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		d.logger.Log(ctx, log.LevelWarn, "circuit breaker open, rejecting handle acquisition")
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, d.name)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		d.logger.Log(ctx, log.LevelWarn, "circuit breaker half-open, rejecting handle acquisition")
		return nil, fmt.Errorf("%w: %s", ErrTooManyProbes, d.name)
	case err != nil:
		return nil, err
	}

	h, _ := result.(txscope.Handle)

	return h, nil
}

func (d *Driver) current() *gobreaker.CircuitBreaker {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.breaker
}

// Name returns the breaker name.
func (d *Driver) Name() string {
	return d.name
}

// State returns the current breaker state.
func (d *Driver) State() State {
	return convertState(d.current().State())
}

// Counts returns the breaker counters for the current generation.
func (d *Driver) Counts() Counts {
	return convertCounts(d.current().Counts())
}

// IsHealthy reports whether the breaker is closed.
func (d *Driver) IsHealthy() bool {
	return d.State() == StateClosed
}

// Reset replaces the breaker with a closed one using the same config.
func (d *Driver) Reset() {
	d.mu.Lock()
	old := d.breaker
	d.breaker = d.newBreaker()
	d.mu.Unlock()

	previous := convertState(old.State())

	d.logger.Log(context.Background(), log.LevelInfo, "circuit breaker reset", log.String("from", string(previous)))

	if previous != StateClosed {
		d.notify(previous, StateClosed)
	}
}

// RegisterStateChangeListener adds a listener. Nil listeners are ignored.
func (d *Driver) RegisterStateChangeListener(listener StateChangeListener) {
	if nilcheck.Interface(listener) {
		d.logger.Log(context.Background(), log.LevelWarn, "attempted to register a nil state change listener")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.listeners = append(d.listeners, listener)
}

func (d *Driver) handleStateChange(from, to gobreaker.State) {
	ctx := context.Background()
	fields := []log.Field{log.String("from", from.String()), log.String("to", to.String())}

	switch to {
	case gobreaker.StateOpen:
		d.logger.Log(ctx, log.LevelError, "circuit breaker opened, handle acquisition will fail fast", fields...)
	case gobreaker.StateHalfOpen:
		d.logger.Log(ctx, log.LevelInfo, "circuit breaker half-open, probing database", fields...)
	case gobreaker.StateClosed:
		d.logger.Log(ctx, log.LevelInfo, "circuit breaker closed", fields...)
	}

	d.notify(convertState(from), convertState(to))
}

func (d *Driver) notify(from, to State) {
	d.mu.RLock()
	listeners := make([]StateChangeListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, listener := range listeners {
		go func(l StateChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Log(context.Background(), log.LevelError, "state change listener panicked",
						log.Any("panic", r))
				}
			}()

			l.OnStateChange(d.name, from, to)
		}(listener)
	}
}
