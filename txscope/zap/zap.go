package zap

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	logpkg "github.com/LerianStudio/lib-txscope/txscope/log"
)

var zapLevels = [...]zapcore.Level{
	logpkg.LevelError: zapcore.ErrorLevel,
	logpkg.LevelWarn:  zapcore.WarnLevel,
	logpkg.LevelInfo:  zapcore.InfoLevel,
	logpkg.LevelDebug: zapcore.DebugLevel,
}

func zapLevel(level logpkg.Level) zapcore.Level {
	if int(level) < len(zapLevels) {
		return zapLevels[level]
	}

	return zapcore.InfoLevel
}

// Logger implements log.Logger over a *zap.Logger. A nil *Logger, or one
// without an underlying logger, discards everything.
type Logger struct {
	logger      *zap.Logger
	atomicLevel zap.AtomicLevel
}

var _ logpkg.Logger = (*Logger)(nil)

// Wrap adapts an existing zap logger. Level reports the core's minimum
// enabled level at the time of the call.
func Wrap(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Logger{logger: logger, atomicLevel: zap.NewAtomicLevelAt(zapcore.LevelOf(logger.Core()))}
}

func (l *Logger) base() *zap.Logger {
	if l == nil || l.logger == nil {
		return zap.NewNop()
	}

	return l.logger
}

func (l *Logger) derive(logger *zap.Logger) *Logger {
	derived := &Logger{logger: logger, atomicLevel: zap.NewAtomicLevel()}
	if l != nil {
		derived.atomicLevel = l.atomicLevel
	}

	return derived
}

// Log writes one entry. When ctx carries a valid span context the entry
// gets trace_id and span_id.
func (l *Logger) Log(ctx context.Context, level logpkg.Level, msg string, fields ...logpkg.Field) {
	ce := l.base().Check(zapLevel(level), msg)
	if ce == nil {
		return
	}

	out := convert(fields)

	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			out = append(out, zap.Stringer("trace_id", sc.TraceID()), zap.Stringer("span_id", sc.SpanID()))
		}
	}

	ce.Write(out...)
}

//nolint:ireturn
func (l *Logger) With(fields ...logpkg.Field) logpkg.Logger {
	return l.derive(l.base().With(convert(fields)...))
}

//nolint:ireturn
func (l *Logger) WithGroup(name string) logpkg.Logger {
	return l.derive(l.base().With(zap.Namespace(name)))
}

func (l *Logger) Enabled(level logpkg.Level) bool {
	return l.base().Core().Enabled(zapLevel(level))
}

// Sync flushes buffered entries. It returns ctx's error if ctx ends first.
func (l *Logger) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- l.base().Sync() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Raw returns the underlying zap logger.
func (l *Logger) Raw() *zap.Logger { return l.base() }

// Level returns the runtime-adjustable level of loggers built by New.
func (l *Logger) Level() zap.AtomicLevel {
	if l == nil {
		return zap.NewAtomicLevel()
	}

	return l.atomicLevel
}

func convert(fields []logpkg.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))

	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}

	return out
}
