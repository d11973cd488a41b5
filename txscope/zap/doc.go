// Package zap adapts go.uber.org/zap to the txscope log.Logger interface.
//
// Entries logged with a context that carries an OpenTelemetry span are
// annotated with trace_id and span_id, so a rolled back or retried
// transaction can be followed from its span to its log lines.
package zap
