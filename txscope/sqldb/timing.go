package sqldb

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/LerianStudio/lib-txscope/txscope/log"
)

const maxLoggedStatement = 200

// observe logs a finished statement. Bound arguments are never logged.
func (d *Driver) observe(ctx context.Context, handleID, namespace, query string, started time.Time, err error) {
	elapsed := time.Since(started)

	level := log.LevelDebug

	switch {
	case elapsed >= d.verySlowStatement:
		level = log.LevelWarn
	case elapsed >= d.slowStatement:
		level = log.LevelInfo
	}

	if !d.logger.Enabled(level) {
		return
	}

	fields := []log.Field{
		log.String("handle_id", handleID),
		log.String("statement", truncateStatement(query)),
		log.Duration("elapsed", elapsed),
	}

	if namespace != "" {
		fields = append(fields, log.String("namespace", namespace))
	}

	if err != nil {
		fields = append(fields, log.Err(err))
	}

	d.logger.Log(ctx, level, "sql statement", fields...)
}

// truncateStatement cuts query to at most maxLoggedStatement bytes on a
// rune boundary.
func truncateStatement(query string) string {
	if len(query) <= maxLoggedStatement {
		return query
	}

	cut := maxLoggedStatement
	for cut > 0 && !utf8.RuneStart(query[cut]) {
		cut--
	}

	return query[:cut] + "..."
}
