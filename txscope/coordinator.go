package txscope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/lib-txscope/txscope/assert"
	"github.com/LerianStudio/lib-txscope/txscope/backoff"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

// ErrWorkPanicked is the rollback cause passed to the driver when work panics.
var ErrWorkPanicked = errors.New("txscope: work panicked")

// Work is the unit of work run inside a transaction. It receives the
// context carrying the ambient transaction and the handle it is bound to.
type Work func(ctx context.Context, h Handle) error

// Coordinator decides whether each Transaction call is a root or a
// participant, owns the handle lifecycle of roots and drives their retries.
// A Coordinator is safe for concurrent use.
type Coordinator struct {
	driver     Driver
	classifier Classifier
	logger     log.Logger
	cfg        Config

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	metrics        coordinatorMetrics
	asserter       *assert.Asserter

	sleep func(ctx context.Context, d time.Duration) error
}

var _ Manager = (*Coordinator)(nil)

// NewCoordinator builds a Coordinator over driver.
func NewCoordinator(driver Driver, opts ...Option) (*Coordinator, error) {
	if nilcheck.Interface(driver) {
		return nil, ErrDriverRequired
	}

	c := &Coordinator{
		driver:     driver,
		classifier: DefaultClassifier{},
		logger:     log.NewNop(),
		cfg:        DefaultConfig(),
		sleep:      backoff.Sleep,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.cfg.normalize()

	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}

	c.tracer = c.tracerProvider.Tracer(instrumentationName)

	metrics, err := newCoordinatorMetrics(c.meterProvider)
	if err != nil {
		return nil, err
	}

	c.metrics = metrics
	c.logger = c.logger.With(log.String("component", "txscope.coordinator"))
	c.asserter = assert.New(c.logger, "txscope.coordinator", assert.WithCounter(metrics.assertionsFailed))

	return c, nil
}

// Config returns the normalized retry configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Transaction runs work inside a transaction. Inside an ambient transaction
// the call joins it as a participant; otherwise, or when Independent is
// given, it starts a root that begins, commits or rolls back and retries.
func (c *Coordinator) Transaction(ctx context.Context, work Work, opts ...TxOption) error {
	if work == nil {
		return ErrWorkRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	o := resolveTxOptions(opts)

	if !o.independent {
		if st, ok := current(ctx); ok && st.joinable() {
			return c.participate(ctx, st, work)
		}
	}

	return c.root(ctx, work, o)
}

// Read is a transactional read. It joins an ambient transaction or opens a
// read-only root.
func (c *Coordinator) Read(ctx context.Context, work Work, opts ...TxOption) error {
	return c.Transaction(ctx, work, append([]TxOption{ReadOnly()}, opts...)...)
}

// ReadDirect runs work without opening a transaction. Inside an ambient
// transaction it participates so reads observe uncommitted writes of the
// call tree. Elsewhere it needs a DirectDriver.
func (c *Coordinator) ReadDirect(ctx context.Context, work Work) error {
	if work == nil {
		return ErrWorkRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if st, ok := current(ctx); ok && st.joinable() {
		return c.participate(ctx, st, work)
	}

	direct, ok := c.driver.(DirectDriver)
	if !ok {
		return ErrDirectReadUnsupported
	}

	h, err := direct.Direct(ctx)
	if err != nil {
		c.logger.Log(ctx, log.LevelError, "failed to acquire direct handle", log.Err(err))
		return err
	}

	if nilcheck.Interface(h) {
		return errors.Join(ErrNilHandle, c.asserter.NotNil(ctx, h, "direct driver returned nil handle without error"))
	}

	release := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			_ = h.Rollback(release, fmt.Errorf("%w: %v", ErrWorkPanicked, r))
			panic(r)
		}
	}()

	if err := work(ctx, h); err != nil {
		if rerr := h.Rollback(release, err); rerr != nil {
			c.logger.Log(ctx, log.LevelWarn, "failed to release direct handle", log.Err(rerr))
		}

		return err
	}

	return h.Commit(release)
}

func (c *Coordinator) participate(ctx context.Context, st *txState, work Work) error {
	st.participants.Add(1)
	defer c.leave(ctx, st)

	h, err := st.wait(ctx)
	if err == nil {
		err = work(ctx, h)
	}

	if err != nil {
		st.setDeferred(err)
	}

	return err
}

func (c *Coordinator) leave(ctx context.Context, st *txState) {
	n := st.participants.Add(-1)

	_ = c.asserter.That(ctx, n >= 0, "participant count went negative",
		"count", n, "attempt_id", st.attemptID.String())
}

func (c *Coordinator) root(ctx context.Context, work Work, o txConfig) error {
	maxRetries := c.cfg.MaxRetries
	if o.maxRetries != nil {
		maxRetries = *o.maxRetries
	}

	for attempt := 0; ; attempt++ {
		err := c.attempt(ctx, work, o, attempt)
		if err == nil {
			return nil
		}

		class := c.classifier.Classify(err)
		if !class.Retryable() {
			return err
		}

		if attempt >= maxRetries {
			if class.Outcome == OutcomeUniqueViolation {
				return &UniqueConstraintViolationError{Code: class.Code, Err: err}
			}

			return err
		}

		delay := backoff.Linear{Base: c.cfg.BackoffBase, Jitter: c.cfg.BackoffJitter}.Delay(attempt + 1)

		c.logger.Log(ctx, log.LevelWarn, "retrying transaction",
			log.Int("attempt", attempt+1),
			log.Int("max_retries", maxRetries),
			log.Duration("delay", delay),
			log.String("conflict", class.Kind.String()),
			log.String("code", class.Code),
		)
		c.metrics.add(ctx, c.metrics.retried, attribute.String("conflict", class.Kind.String()))

		if serr := c.sleep(ctx, delay); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

// attempt runs one root attempt on a fresh state. Begin, commit and
// rollback use a context detached from cancellation so a started attempt
// is always resolved.
func (c *Coordinator) attempt(ctx context.Context, work Work, o txConfig, retries int) error {
	started := time.Now()
	st := newState(retries, o.tx)

	ctx, span := c.tracer.Start(ctx, "txscope.transaction", trace.WithAttributes(
		attribute.Int("txscope.attempt", retries),
		attribute.Bool("txscope.independent", o.independent),
		attribute.Bool("txscope.read_only", o.tx.ReadOnly),
		attribute.String("txscope.isolation", o.tx.Isolation.String()),
		attribute.String("txscope.attempt_id", st.attemptID.String()),
	))
	defer span.End()

	settle := context.WithoutCancel(ctx)
	logger := c.logger.With(log.String("attempt_id", st.attemptID.String()), log.Int("attempt", retries))

	h, err := c.driver.Begin(settle, o.tx)
	if err == nil && nilcheck.Interface(h) {
		err = errors.Join(ErrNilHandle, c.asserter.NotNil(ctx, h, "driver returned nil handle without error"))
	}

	st.activate(h, err)

	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to begin transaction", log.Bool("read_only", o.tx.ReadOnly), log.Err(err))
		c.metrics.add(ctx, c.metrics.beginFailed)
		c.metrics.recordAttempt(ctx, started, "begin_failed", o.tx)
		recordSpanError(span, err, "begin failed")

		return err
	}

	st.participants.Add(1)

	defer func() {
		st.clear()
		c.leave(ctx, st)
	}()

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("%w: %v", ErrWorkPanicked, r)
			c.rollback(settle, logger, h, cause)
			c.metrics.recordAttempt(ctx, started, "panicked", o.tx)
			recordSpanError(span, cause, "work panicked")

			panic(r)
		}
	}()

	err = work(bind(ctx, st), h)
	if err == nil {
		if deferred := st.deferredErr(); deferred != nil && c.vetoes(deferred) {
			err = deferred
		}
	}

	if err != nil {
		c.rollback(settle, logger, h, err)
		c.metrics.recordAttempt(ctx, started, "rolled_back", o.tx)
		recordSpanError(span, err, "rolled back")

		return err
	}

	if cerr := h.Commit(settle); cerr != nil {
		logger.Log(ctx, log.LevelError, "failed to commit transaction", log.Err(cerr))
		c.metrics.recordAttempt(ctx, started, "commit_failed", o.tx)
		recordSpanError(span, cerr, "commit failed")

		return cerr
	}

	c.metrics.add(ctx, c.metrics.committed, attribute.Bool("read_only", o.tx.ReadOnly))
	c.metrics.recordAttempt(ctx, started, "committed", o.tx)

	return nil
}

// vetoes reports whether a participant failure recorded on the state fails
// a root whose own work succeeded. By default only database-originated
// failures do; a root that handled any other failure commits.
func (c *Coordinator) vetoes(err error) bool {
	if c.cfg.StrictParticipantErrors {
		return true
	}

	class := c.classifier.Classify(err)
	if class.DatabaseOriginated() {
		return true
	}

	return c.cfg.RetryableParticipantErrors && class.Retryable()
}

// rollback failures are logged and never replace cause.
func (c *Coordinator) rollback(ctx context.Context, logger log.Logger, h Handle, cause error) {
	logger.Log(ctx, log.LevelWarn, "rolling back transaction", log.Err(cause))
	c.metrics.add(ctx, c.metrics.rolledBack)

	if err := h.Rollback(ctx, cause); err != nil {
		logger.Log(ctx, log.LevelError, "failed to roll back transaction", log.Err(err))
	}
}

func recordSpanError(span trace.Span, err error, status string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, status)
}
