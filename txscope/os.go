package txscope

import (
	"errors"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrNotPointer is returned by SetConfigFromEnvVars for non-pointer targets.
var ErrNotPointer = errors.New("config target must be a pointer to a struct")

var durationType = reflect.TypeOf(time.Duration(0))

// GetenvOrDefault returns the trimmed value of key, or defaultValue when the
// variable is unset or blank.
func GetenvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	return value
}

// GetenvBoolOrDefault parses key with strconv.ParseBool, falling back to
// defaultValue when unset or invalid.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(GetenvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}

	return value
}

// GetenvIntOrDefault parses key as a base-10 int64, falling back to
// defaultValue when unset or invalid.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	value, err := strconv.ParseInt(GetenvOrDefault(key, ""), 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// GetenvDurationOrDefault parses key with time.ParseDuration, falling back to
// defaultValue when unset or invalid.
func GetenvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(GetenvOrDefault(key, ""))
	if err != nil {
		return defaultValue
	}

	return value
}

// SetConfigFromEnvVars fills the fields of the struct pointed to by s that
// carry an `env:"NAME"` tag. Unset or unparsable variables keep the field's
// current value, so defaults can be assigned before the call.
func SetConfigFromEnvVars(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return ErrNotPointer
	}

	elem := v.Elem()
	t := elem.Type()

	for i := range t.NumField() {
		tag, ok := t.Field(i).Tag.Lookup("env")
		if !ok || tag == "" {
			continue
		}

		field := elem.Field(i)
		if !field.CanSet() {
			continue
		}

		switch {
		case field.Type() == durationType:
			field.SetInt(int64(GetenvDurationOrDefault(tag, time.Duration(field.Int()))))
		case field.Kind() == reflect.String:
			field.SetString(GetenvOrDefault(tag, field.String()))
		case field.Kind() == reflect.Bool:
			field.SetBool(GetenvBoolOrDefault(tag, field.Bool()))
		case field.CanInt():
			field.SetInt(GetenvIntOrDefault(tag, field.Int()))
		}
	}

	return nil
}
