package log

import "context"

// Logger is the structured logger consumed by txscope packages. Every
// component defaults to NewNop and accepts a Logger through its options.
type Logger interface {
	Log(ctx context.Context, level Level, msg string, fields ...Field)
	With(fields ...Field) Logger
	WithGroup(name string) Logger
	Enabled(level Level) bool
	Sync(ctx context.Context) error
}

// Level is the severity of an event. Lower values are more severe, so a
// logger enabled up to LevelInfo drops LevelDebug.
//
// The coordinator logs begin and commit failures at LevelError, rollbacks
// and retries at LevelWarn, and statement timings at LevelDebug unless the
// statement is slow.
type Level uint8

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (level Level) String() string {
	switch level {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	}

	return "unknown"
}
