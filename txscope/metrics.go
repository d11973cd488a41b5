package txscope

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/LerianStudio/lib-txscope/txscope"

type coordinatorMetrics struct {
	committed        metric.Int64Counter
	rolledBack       metric.Int64Counter
	retried          metric.Int64Counter
	beginFailed      metric.Int64Counter
	assertionsFailed metric.Int64Counter
	attemptDuration  metric.Float64Histogram
}

func newCoordinatorMetrics(provider metric.MeterProvider) (coordinatorMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(instrumentationName)

	var (
		metrics coordinatorMetrics
		err     error
	)

	metrics.committed, err = meter.Int64Counter(
		"txscope.transactions.committed",
		metric.WithDescription("Number of root transactions committed"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return coordinatorMetrics{}, fmt.Errorf("create txscope.transactions.committed counter: %w", err)
	}

	metrics.rolledBack, err = meter.Int64Counter(
		"txscope.transactions.rolled_back",
		metric.WithDescription("Number of root transaction attempts rolled back"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return coordinatorMetrics{}, fmt.Errorf("create txscope.transactions.rolled_back counter: %w", err)
	}

	metrics.retried, err = meter.Int64Counter(
		"txscope.transactions.retried",
		metric.WithDescription("Number of root transaction attempts retried after a retryable failure"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return coordinatorMetrics{}, fmt.Errorf("create txscope.transactions.retried counter: %w", err)
	}

	metrics.beginFailed, err = meter.Int64Counter(
		"txscope.transactions.begin_failed",
		metric.WithDescription("Number of failures acquiring a transaction handle"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return coordinatorMetrics{}, fmt.Errorf("create txscope.transactions.begin_failed counter: %w", err)
	}

	metrics.assertionsFailed, err = meter.Int64Counter(
		"txscope.assertions.failed",
		metric.WithDescription("Number of coordinator invariant violations"),
		metric.WithUnit("{assertion}"),
	)
	if err != nil {
		return coordinatorMetrics{}, fmt.Errorf("create txscope.assertions.failed counter: %w", err)
	}

	metrics.attemptDuration, err = meter.Float64Histogram(
		"txscope.attempt.duration",
		metric.WithDescription("Duration of one root transaction attempt from begin to commit or rollback"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return coordinatorMetrics{}, fmt.Errorf("create txscope.attempt.duration histogram: %w", err)
	}

	return metrics, nil
}

func (m coordinatorMetrics) recordAttempt(ctx context.Context, started time.Time, outcome string, opts TxOptions) {
	if m.attemptDuration == nil {
		return
	}

	m.attemptDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("read_only", opts.ReadOnly),
	))
}

func (m coordinatorMetrics) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}

	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
