// Package nilcheck tells apart a missing dependency from a present one when
// the dependency arrives as an interface.
package nilcheck

import "reflect"

// Interface reports whether value is nil or an interface holding a nil
// pointer, map, slice, channel or func, such as a nil *sql.DB passed as a
// Querier.
func Interface(value any) bool {
	if value == nil {
		return true
	}

	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
