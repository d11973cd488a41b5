package log

import "time"

// Field is a key/value attribute attached to an event.
type Field struct {
	Key   string
	Value any
}

// Any attaches an arbitrary value. Never pass statement arguments or
// driver payloads through it.
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Err uses the "error" key, which adapters render as their native error field.
func Err(err error) Field { return Field{Key: "error", Value: err} }
