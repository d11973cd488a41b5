// Package assert reports broken coordinator invariants.
//
// A violated invariant never panics: it is logged with a stack, recorded on
// the active span, counted when a counter is configured, and returned as a
// *Violation the caller can join into its own error.
package assert

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

// SpanEventName is the span event added for every violation.
const SpanEventName = "txscope.invariant.violated"

// ErrViolated matches every *Violation.
var ErrViolated = errors.New("txscope: invariant violated")

// Violation describes one failed check.
type Violation struct {
	Component string
	Check     string
	Message   string
	Fields    []log.Field
}

func (v *Violation) Error() string {
	if len(v.Fields) == 0 {
		return ErrViolated.Error() + ": " + v.Message
	}

	pairs := make([]string, 0, len(v.Fields))
	for _, f := range v.Fields {
		pairs = append(pairs, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}

	return ErrViolated.Error() + ": " + v.Message + " (" + strings.Join(pairs, ", ") + ")"
}

func (v *Violation) Unwrap() error { return ErrViolated }

// Asserter checks invariants on behalf of one component.
type Asserter struct {
	logger    log.Logger
	component string
	counter   metric.Int64Counter
}

// Option configures an Asserter.
type Option func(*Asserter)

// WithCounter counts violations, labelled by component and check.
func WithCounter(counter metric.Int64Counter) Option {
	return func(a *Asserter) {
		a.counter = counter
	}
}

func New(logger log.Logger, component string, opts ...Option) *Asserter {
	if nilcheck.Interface(logger) {
		logger = log.NewNop()
	}

	a := &Asserter{logger: logger, component: component}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// That reports a violation when ok is false. kv are alternating keys and
// values describing the state that was checked.
func (a *Asserter) That(ctx context.Context, ok bool, msg string, kv ...any) error {
	if ok {
		return nil
	}

	return a.violate(ctx, "that", msg, kv)
}

// NotNil reports a violation when v is nil, including a typed nil behind an
// interface.
func (a *Asserter) NotNil(ctx context.Context, v any, msg string, kv ...any) error {
	if !nilcheck.Interface(v) {
		return nil
	}

	return a.violate(ctx, "not_nil", msg, kv)
}

func (a *Asserter) violate(ctx context.Context, check, msg string, kv []any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if a == nil {
		a = New(nil, "")
	}

	v := &Violation{Component: a.component, Check: check, Message: msg, Fields: pairsToFields(kv)}
	stack := string(debug.Stack())

	fields := append([]log.Field{
		log.String("check", check),
		log.String("stack", stack),
	}, v.Fields...)
	a.logger.Log(ctx, log.LevelError, "invariant violated: "+msg, fields...)

	attrs := []attribute.KeyValue{
		attribute.String("component", a.component),
		attribute.String("check", check),
	}

	if a.counter != nil {
		a.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(SpanEventName, trace.WithAttributes(append(attrs,
			attribute.String("message", msg),
			attribute.String("stack", stack),
		)...))
		span.RecordError(v)
		span.SetStatus(codes.Error, "invariant violated")
	}

	return v
}

func pairsToFields(kv []any) []log.Field {
	fields := make([]log.Field, 0, (len(kv)+1)/2)

	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])

		if i+1 == len(kv) {
			fields = append(fields, log.String(key, "<missing>"))
			break
		}

		fields = append(fields, log.Any(key, kv[i+1]))
	}

	return fields
}
