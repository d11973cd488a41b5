package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

var (
	ErrInvalidProbeInterval = errors.New("circuitbreaker: probe interval must be positive")
	ErrInvalidProbeTimeout  = errors.New("circuitbreaker: probe timeout must be positive")
	ErrProbeRequired        = errors.New("circuitbreaker: probe function is required")
	ErrNilDriver            = errors.New("circuitbreaker: driver is nil")
)

// ProbeFunc checks whether the database is reachable again, typically by
// pinging the pool.
type ProbeFunc func(ctx context.Context) error

// Recoverer probes the database while the breaker is not closed and resets
// the breaker as soon as a probe succeeds. It probes immediately when the
// breaker opens and then every interval.
type Recoverer struct {
	driver   *Driver
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	logger   log.Logger

	immediate chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewRecoverer registers itself as a state change listener on d.
func NewRecoverer(d *Driver, probe ProbeFunc, interval, timeout time.Duration, logger log.Logger) (*Recoverer, error) {
	if d == nil {
		return nil, ErrNilDriver
	}

	if probe == nil {
		return nil, ErrProbeRequired
	}

	if interval <= 0 {
		return nil, ErrInvalidProbeInterval
	}

	if timeout <= 0 {
		return nil, ErrInvalidProbeTimeout
	}

	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	r := &Recoverer{
		driver:    d,
		probe:     probe,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.With(log.String("component", "txscope.circuitbreaker.recoverer"), log.String("breaker", d.Name())),
		immediate: make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}

	d.RegisterStateChangeListener(r)

	return r, nil
}

// Start begins the probe loop.
func (r *Recoverer) Start() {
	r.wg.Add(1)

	go r.loop()
}

// Stop ends the probe loop and waits for it to return. It is idempotent.
func (r *Recoverer) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// OnStateChange schedules an immediate probe when the breaker opens.
func (r *Recoverer) OnStateChange(_ string, _, to State) {
	if to != StateOpen {
		return
	}

	select {
	case r.immediate <- struct{}{}:
	default:
	}
}

func (r *Recoverer) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.check()
		case <-r.immediate:
			r.check()
		case <-r.stop:
			return
		}
	}
}

// check probes once and reports whether the breaker was reset.
func (r *Recoverer) check() bool {
	if r.driver.IsHealthy() {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.probe(ctx); err != nil {
		r.logger.Log(ctx, log.LevelWarn, "database still unreachable", log.Err(err), log.Duration("retry_in", r.interval))
		return false
	}

	r.logger.Log(ctx, log.LevelInfo, "database reachable again, resetting circuit breaker")
	r.driver.Reset()

	return true
}
